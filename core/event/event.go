package event

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Kind is the lifecycle transition an Event announces.
type Kind uint8

const (
	// Created is emitted once after the first successful save of a session.
	Created Kind = iota + 1
	// Updated is emitted after later saves when the repository is configured to do so.
	Updated
	// Expired is emitted when a session is removed because it went idle for too long.
	Expired
	// Deleted is emitted when a session is removed explicitly.
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Expired:
		return "expired"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// IsTerminal reports whether the kind ends a session's lifecycle.
func (k Kind) IsTerminal() bool {
	return k == Expired || k == Deleted
}

// Snapshot is the last known state of a session carried by an Event.
type Snapshot struct {
	ID                  string
	CreationTime        time.Time
	LastAccessedTime    time.Time
	MaxInactiveInterval time.Duration
	Attributes          map[string]any
	Indexes             map[string]string
}

// Attribute returns a single attribute of the snapshot.
func (s *Snapshot) Attribute(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.Attributes[name]
	return v, ok
}

// Clone returns a copy with its own maps.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Attributes = maps.Clone(s.Attributes)
	c.Indexes = maps.Clone(s.Indexes)
	return &c
}

// Event is a normalized session lifecycle notification.
type Event struct {
	ID         string    // unique per emission, not per session
	Kind       Kind      // lifecycle transition
	SessionID  string    // affected session
	Snapshot   *Snapshot // may be nil when the source cannot provide it cheaply
	Source     string    // origin, e.g. "repository", "sweeper", "redis"
	OccurredAt time.Time
}

// New creates an Event with a generated ID and the current time.
func New(kind Kind, sessionID string, snapshot *Snapshot, source string) Event {
	return Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		SessionID:  sessionID,
		Snapshot:   snapshot,
		Source:     source,
		OccurredAt: time.Now(),
	}
}
