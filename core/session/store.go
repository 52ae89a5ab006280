package session

import (
	"context"
	"time"
)

// Store is the contract a backing store implements for Repository.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the record for id or ErrNotFound.
	Load(ctx context.Context, id string) (*Record, error)
	// Apply persists one save. A rename (PreviousID), the delta and the index
	// changes are applied together as far as the store allows.
	// When a non-new record is missing, the store recreates it from m.Record.
	Apply(ctx context.Context, m Mutation) error
	// Delete removes the record and its index entries and returns what was removed,
	// or ErrNotFound.
	Delete(ctx context.Context, id string) (*Record, error)
	// DeleteIfExpired removes the record only if it is expired at now.
	// It returns the removed record and true, the live record and false,
	// or nil and false when the record does not exist.
	DeleteIfExpired(ctx context.Context, id string, now time.Time) (*Record, bool, error)
	// FindIDsByIndex returns the ids referenced by the index entry.
	FindIDsByIndex(ctx context.Context, name, value string) ([]string, error)
	// RemoveIndexEntry drops a single id from an index entry.
	RemoveIndexEntry(ctx context.Context, name, value, id string) error
}

// ExpiredScanner is implemented by stores that can list expired records themselves.
type ExpiredScanner interface {
	ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
