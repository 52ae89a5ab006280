package session

import "errors"

var (
	// ErrNotFound is returned by a Store when no record exists for the requested id.
	// Repository methods never return it; an absent session is reported as a nil *Session.
	ErrNotFound = errors.New("session not found")
	// ErrStoreUnavailable wraps connection and transport failures of the backing store.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrSerialization is returned when an attribute value cannot be encoded or decoded.
	ErrSerialization = errors.New("session attribute serialization failed")
	// ErrTypeNotAllowed is returned when a serializer meets a type outside its allow-list.
	ErrTypeNotAllowed = errors.New("attribute type is not allowed")
	// ErrNilStore is returned when a repository is built without a store.
	ErrNilStore = errors.New("session store is nil")
	// ErrInvalidSessionID is returned for empty session identifiers.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrSessionInvalidated is returned when saving a session that was invalidated.
	ErrSessionInvalidated = errors.New("session has been invalidated")
	// ErrIDGeneration is returned when a new session id cannot be produced.
	ErrIDGeneration = errors.New("failed to generate session id")
	// ErrSweeperAlreadyStarted is returned when starting a sweeper that is already running.
	ErrSweeperAlreadyStarted = errors.New("session sweeper already started")
	// ErrSweeperNotStarted is returned when stopping a sweeper that is not running.
	ErrSweeperNotStarted = errors.New("session sweeper not started")
	// ErrInvalidCleanupSchedule is returned when the cleanup cron expression cannot be parsed.
	ErrInvalidCleanupSchedule = errors.New("invalid cleanup schedule")
	// ErrHealthcheckFailed is returned when a session component is not operational.
	ErrHealthcheckFailed = errors.New("session healthcheck failed")
)
