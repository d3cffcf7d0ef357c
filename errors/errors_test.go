package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncErrorMessage(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewTransientError(OpDrain, cause)

	assert.Contains(t, err.Error(), "drain operation failed")
	assert.Contains(t, err.Error(), "api")
	assert.Contains(t, err.Error(), "TRANSIENT")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewStorageError(OpStore, cause)

	require.True(t, stderrors.Is(err, cause))
}

func TestRetryableByKind(t *testing.T) {
	cause := stderrors.New("boom")

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"transient", NewTransientError(OpDrain, cause), true},
		{"storage", NewStorageError(OpStore, cause), true},
		{"validation", NewValidationError(OpEnqueue, cause), false},
		{"permanent", NewPermanentError(OpDrain, cause), false},
		{"push parse", NewPushParseError(cause), false},
		{"plain error", cause, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestIsRetryableWrapped(t *testing.T) {
	inner := NewTransientError(OpUpload, stderrors.New("timeout"))
	wrapped := fmt.Errorf("submitting survey: %w", inner)

	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, KindTransient, KindOf(wrapped))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(NewValidationError(OpEnqueue, stderrors.New("bad status code"))))
	assert.False(t, IsValidation(NewTransientError(OpEnqueue, stderrors.New("timeout"))))
	assert.False(t, IsValidation(stderrors.New("plain")))
}

func TestWrapOpComponent(t *testing.T) {
	assert.NoError(t, WrapOpComponent(nil, OpLoad, "store"))

	err := WrapOpComponent(stderrors.New("no such table"), OpLoad, "store")
	var syncErr *SyncError
	require.True(t, stderrors.As(err, &syncErr))
	assert.Equal(t, OpLoad, syncErr.Op)
	assert.Equal(t, "store", syncErr.Component)
}

func TestWrapOpComponentKind(t *testing.T) {
	err := WrapOpComponentKind(stderrors.New("locked"), OpStore, "store", KindStorage)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, KindStorage, KindOf(err))

	err = WrapOpComponentKind(stderrors.New("bad payload"), OpEnqueue, "engine", KindValidation)
	assert.False(t, IsRetryable(err))
}
