package session

import (
	"context"
	"maps"
	"slices"
	"time"
)

// Session is the in-memory view of one session record.
// A Session is owned by a single goroutine; share the id, not the value.
type Session struct {
	id         string
	originalID string

	creationTime        time.Time
	lastAccessedTime    time.Time
	maxInactiveInterval time.Duration

	attrs   map[string]any
	indexes map[string]string // index values as of the last successful save

	delta Delta
	isNew bool

	repo *Repository
}

func newSession(repo *Repository, id string, now time.Time, maxInactive time.Duration) *Session {
	s := &Session{
		id:                  id,
		originalID:          id,
		creationTime:        now,
		lastAccessedTime:    now,
		maxInactiveInterval: maxInactive,
		attrs:               make(map[string]any),
		isNew:               true,
		repo:                repo,
	}
	s.delta.mark(FieldCreationTime | FieldLastAccessedTime | FieldMaxInactiveInterval)
	return s
}

func loadedSession(repo *Repository, rec *Record, mode SaveMode) *Session {
	s := &Session{
		id:                  rec.ID,
		originalID:          rec.ID,
		creationTime:        rec.CreationTime,
		lastAccessedTime:    rec.LastAccessedTime,
		maxInactiveInterval: rec.MaxInactiveInterval,
		attrs:               maps.Clone(rec.Attributes),
		indexes:             maps.Clone(rec.Indexes),
		repo:                repo,
	}
	if s.attrs == nil {
		s.attrs = make(map[string]any)
	}
	if mode == SaveAlways {
		for name, v := range s.attrs {
			s.delta.set(name, v)
		}
	}
	return s
}

// ID returns the current session id.
func (s *Session) ID() string { return s.id }

// CreationTime returns when the session was created.
func (s *Session) CreationTime() time.Time { return s.creationTime }

// LastAccessedTime returns the last recorded activity.
func (s *Session) LastAccessedTime() time.Time { return s.lastAccessedTime }

// MaxInactiveInterval returns the idle timeout. Non-positive values never expire.
func (s *Session) MaxInactiveInterval() time.Duration { return s.maxInactiveInterval }

// IsNew reports whether the session has never been saved.
func (s *Session) IsNew() bool { return s.isNew }

// IsExpired reports whether the session is expired at now.
func (s *Session) IsExpired(now time.Time) bool {
	return isExpired(s.lastAccessedTime, s.maxInactiveInterval, now)
}

// ExpiresAt returns the expiry instant, or the zero time when the session never expires.
func (s *Session) ExpiresAt() time.Time {
	if s.maxInactiveInterval <= 0 {
		return time.Time{}
	}
	return s.lastAccessedTime.Add(s.maxInactiveInterval)
}

// Delta returns a copy of the unsaved changes.
func (s *Session) Delta() Delta { return s.delta.clone() }

// HasChanges reports whether the next save would write to the store.
func (s *Session) HasChanges() bool {
	return !s.delta.IsEmpty() || s.id != s.originalID
}

// GetAttribute returns the value stored under name.
// With SaveOnGetAttribute a present value is marked dirty.
func (s *Session) GetAttribute(name string) (any, bool) {
	v, ok := s.attrs[name]
	if ok && s.saveMode() == SaveOnGetAttribute {
		s.delta.set(name, v)
	}
	return v, ok
}

// AttributeNames returns the attribute names in lexical order.
func (s *Session) AttributeNames() []string {
	return slices.Sorted(maps.Keys(s.attrs))
}

// Attributes returns a copy of the attribute map.
func (s *Session) Attributes() map[string]any {
	return maps.Clone(s.attrs)
}

// SetAttribute stores value under name. A nil value removes the attribute.
func (s *Session) SetAttribute(ctx context.Context, name string, value any) error {
	if value == nil {
		return s.RemoveAttribute(ctx, name)
	}
	s.attrs[name] = value
	s.delta.set(name, value)
	return s.flush(ctx)
}

// RemoveAttribute deletes the attribute. Removing an absent attribute is a no-op.
func (s *Session) RemoveAttribute(ctx context.Context, name string) error {
	if _, ok := s.attrs[name]; !ok {
		return nil
	}
	delete(s.attrs, name)
	s.delta.remove(name)
	return s.flush(ctx)
}

// SetMaxInactiveInterval changes the idle timeout. Non-positive values disable expiry.
func (s *Session) SetMaxInactiveInterval(ctx context.Context, d time.Duration) error {
	s.maxInactiveInterval = d
	s.delta.mark(FieldMaxInactiveInterval)
	return s.flush(ctx)
}

// SetLastAccessedTime records activity at t. Values before the creation time are clamped.
func (s *Session) SetLastAccessedTime(ctx context.Context, t time.Time) error {
	if t.Before(s.creationTime) {
		t = s.creationTime
	}
	s.lastAccessedTime = t
	s.delta.mark(FieldLastAccessedTime)
	return s.flush(ctx)
}

// ChangeID assigns a fresh id to the session. The store record is renamed on the next save.
// Call it after authentication to defeat session fixation.
func (s *Session) ChangeID(ctx context.Context) (string, error) {
	gen := defaultIDGenerator
	if s.repo != nil {
		gen = s.repo.idGenerator
	}
	id, err := gen.GenerateID()
	if err != nil {
		return "", err
	}
	s.id = id
	if s.isNew {
		s.originalID = id
	}
	return id, s.flush(ctx)
}

// Record returns the full state of the session as a store record.
func (s *Session) Record() *Record {
	return &Record{
		ID:                  s.id,
		CreationTime:        s.creationTime,
		LastAccessedTime:    s.lastAccessedTime,
		MaxInactiveInterval: s.maxInactiveInterval,
		Attributes:          maps.Clone(s.attrs),
		Indexes:             maps.Clone(s.indexes),
	}
}

func (s *Session) saveMode() SaveMode {
	if s.repo == nil {
		return SaveOnSetAttribute
	}
	return s.repo.cfg.SaveMode
}

func (s *Session) flush(ctx context.Context) error {
	if s.repo == nil || s.repo.cfg.FlushMode != FlushImmediate {
		return nil
	}
	return s.repo.Save(ctx, s)
}

// markSaved clears the delta after a successful save.
func (s *Session) markSaved(indexes map[string]string) {
	s.delta.reset()
	s.originalID = s.id
	s.indexes = indexes
	s.isNew = false
}
