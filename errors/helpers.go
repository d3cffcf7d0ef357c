package errors

// WrapOpComponent provides a convenience helper to wrap errors with consistent
// Op and Component propagation. If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return NewWithComponent(op, component, err)
}

// WrapOpComponentKind wraps an error with Op, Component, and Kind. The
// Retryable flag follows the Kind: only KindTransient and KindStorage are
// retryable. If err is nil, returns nil.
func WrapOpComponentKind(err error, op Operation, component string, kind Kind) error {
	if err == nil {
		return nil
	}
	return &SyncError{
		Op:        op,
		Component: component,
		Kind:      kind,
		Err:       err,
		Retryable: kind == KindTransient || kind == KindStorage,
	}
}
