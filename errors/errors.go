// Package errors provides custom error types for the fieldsync packages.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind string

const (
	// KindValidation marks errors that are never retryable and must be
	// surfaced to the user immediately. Validation failures are never queued.
	KindValidation Kind = "VALIDATION"

	// KindTransient marks network/timeout failures that justify queueing the
	// action offline or retrying it on the next drain pass.
	KindTransient Kind = "TRANSIENT"

	// KindPermanent marks a mutation whose attempt budget is exhausted. It is
	// surfaced as a stuck item requiring manual attention.
	KindPermanent Kind = "PERMANENT"

	// KindStorage marks a durable-store failure. Callers degrade to the
	// in-memory store rather than losing the user's action.
	KindStorage Kind = "STORAGE"

	// KindPushParse marks a malformed push payload. The bridge falls back to
	// a generic notification instead of failing silently.
	KindPushParse Kind = "PUSH_PARSE"
)

// Operation represents the type of sync operation during which an error occurred.
type Operation string

const (
	OpEnqueue   Operation = "enqueue"
	OpDrain     Operation = "drain"
	OpStore     Operation = "store"
	OpLoad      Operation = "load"
	OpUpload    Operation = "upload"
	OpReconcile Operation = "reconcile"
	OpPush      Operation = "push"
	OpRelay     Operation = "relay"
	OpSubscribe Operation = "subscribe"
	OpClose     Operation = "close"
)

// SyncError represents an error that occurred in the sync or push subsystem.
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "api", "bridge")
	Component string

	// Kind classifies the error
	Kind Kind

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a non-retryable validation SyncError.
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindValidation,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewTransientError creates a retryable network/timeout SyncError.
func NewTransientError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindTransient,
		Op:        op,
		Component: "api",
		Err:       cause,
		Retryable: true,
	}
}

// NewPermanentError creates a SyncError for a mutation whose attempt budget
// is exhausted.
func NewPermanentError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindPermanent,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewStorageError creates a storage-related SyncError.
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Kind:      KindStorage,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewPushParseError creates a SyncError for a malformed push payload.
func NewPushParseError(cause error) *SyncError {
	return &SyncError{
		Kind:      KindPushParse,
		Op:        OpPush,
		Component: "bridge",
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new SyncError.
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information.
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// IsRetryable checks if an error is a retryable SyncError.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsValidation reports whether err is a validation error. Validation errors
// surface to the user immediately and are never queued.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// KindOf returns the Kind of err, or "" if err is not a SyncError.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ""
}
