package sessionhttp

import "errors"

var (
	// ErrNoMiddleware is returned when the request context was not prepared by Middleware.
	ErrNoMiddleware = errors.New("session middleware is not installed")
	// ErrInvalidSignature is returned when a signed session cookie fails verification.
	ErrInvalidSignature = errors.New("session cookie signature verification failed")
	// ErrInvalidFormat is returned when a session cookie cannot be decoded.
	ErrInvalidFormat = errors.New("invalid session cookie format")
)
