package event

import "errors"

var (
	// ErrBridgeClosed is returned when publishing to a bridge that has been stopped.
	ErrBridgeClosed = errors.New("event bridge is closed")

	// ErrBridgeAlreadyStarted is returned when attempting to start a bridge that is already running.
	ErrBridgeAlreadyStarted = errors.New("event bridge already started")

	// ErrBridgeNotStarted is returned when attempting to stop a bridge that is not running.
	ErrBridgeNotStarted = errors.New("event bridge not started")

	// ErrInvalidEvent is returned for events without a session id or kind.
	ErrInvalidEvent = errors.New("invalid session event")

	// ErrHealthcheckFailed is returned when the bridge health check fails.
	ErrHealthcheckFailed = errors.New("event bridge healthcheck failed")
)
