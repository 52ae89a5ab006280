package async

import "errors"

var (
	// ErrTimeout is returned when awaiting a future exceeds its timeout.
	ErrTimeout = errors.New("async: timeout waiting for result")
	// ErrPanic wraps a panic recovered from an asynchronous function.
	ErrPanic = errors.New("async: function panicked")
)
