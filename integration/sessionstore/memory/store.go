package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/dmitrymomot/sessionkit/core/session"
)

// Store keeps session records in process memory.
// It is intended for tests, development and single-instance deployments.
//
// Attribute values are deep-copied on write and on read, so a value changed
// by the caller after Save does not reach the store. Unexported struct fields
// are not copied; use WithSerializer for types that rely on them.
type Store struct {
	mu      sync.RWMutex
	records map[string]*session.Record
	indexes map[string]map[string]map[string]struct{} // name -> value -> ids

	serializer session.Serializer

	writes  atomic.Int64
	deletes atomic.Int64
}

// Stats reports how many mutations reached the store.
type Stats struct {
	Sessions int
	Writes   int64
	Deletes  int64
}

// Option configures a Store.
type Option func(*Store)

// WithSerializer round-trips every attribute value through s on write, so the
// store behaves like a remote one: values are copied and unsupported types fail.
func WithSerializer(s session.Serializer) Option {
	return func(st *Store) {
		st.serializer = s
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*session.Record),
		indexes: make(map[string]map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, id string) (*session.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return copyRecord(rec), nil
}

// Apply implements session.Store.
func (s *Store) Apply(ctx context.Context, m session.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	changes, err := s.encode(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.PreviousID != "" {
		if rec, ok := s.records[m.PreviousID]; ok {
			delete(s.records, m.PreviousID)
			for name, value := range rec.Indexes {
				s.unindex(name, value, m.PreviousID)
				s.index(name, value, m.ID)
			}
			rec.ID = m.ID
			s.records[m.ID] = rec
		}
	}

	rec, ok := s.records[m.ID]
	if m.IsNew || !ok {
		if ok {
			s.unindexAll(rec)
		}
		rec = m.Record.Clone()
		rec.Attributes = make(map[string]any, len(m.Record.Attributes))
		for name, v := range m.Record.Attributes {
			if c, ok := changes[name]; ok && !c.Removed {
				v = c.Value
			} else {
				v = deepcopy.Copy(v)
			}
			rec.Attributes[name] = v
		}
		for name, c := range changes {
			if _, ok := rec.Attributes[name]; !ok && !c.Removed {
				rec.Attributes[name] = c.Value
			}
		}
		s.records[m.ID] = rec
		for name, value := range rec.Indexes {
			s.index(name, value, m.ID)
		}
		s.writes.Add(1)
		return nil
	}

	if m.Delta.Fields.Has(session.FieldCreationTime) {
		rec.CreationTime = m.Record.CreationTime
	}
	if m.Delta.Fields.Has(session.FieldLastAccessedTime) {
		rec.LastAccessedTime = m.Record.LastAccessedTime
	}
	if m.Delta.Fields.Has(session.FieldMaxInactiveInterval) {
		rec.MaxInactiveInterval = m.Record.MaxInactiveInterval
	}
	if rec.Attributes == nil {
		rec.Attributes = make(map[string]any)
	}
	for name, c := range changes {
		if c.Removed {
			delete(rec.Attributes, name)
			continue
		}
		rec.Attributes[name] = c.Value
	}
	for name, c := range m.Indexes {
		if c.Old != "" {
			s.unindex(name, c.Old, m.ID)
		}
		if c.New != "" {
			s.index(name, c.New, m.ID)
			if rec.Indexes == nil {
				rec.Indexes = make(map[string]string)
			}
			rec.Indexes[name] = c.New
		} else {
			delete(rec.Indexes, name)
		}
	}

	s.writes.Add(1)
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) (*session.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	s.remove(rec)
	return copyRecord(rec), nil
}

// DeleteIfExpired implements session.Store.
func (s *Store) DeleteIfExpired(ctx context.Context, id string, now time.Time) (*session.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	if !rec.IsExpired(now) {
		return copyRecord(rec), false, nil
	}
	s.remove(rec)
	return copyRecord(rec), true, nil
}

// FindIDsByIndex implements session.Store.
func (s *Store) FindIDsByIndex(ctx context.Context, name, value string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.indexes[name][value])), nil
}

// RemoveIndexEntry implements session.Store.
func (s *Store) RemoveIndexEntry(ctx context.Context, name, value, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unindex(name, value, id)
	return nil
}

// ScanExpired implements session.ExpiredScanner.
func (s *Store) ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, rec := range s.records {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if rec.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Ping implements session.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	n := len(s.records)
	s.mu.RUnlock()
	return Stats{Sessions: n, Writes: s.writes.Load(), Deletes: s.deletes.Load()}
}

// IndexEntries returns the raw ids of an index entry, including dangling ones.
func (s *Store) IndexEntries(name, value string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.indexes[name][value]))
}

// encode copies delta values outside the lock, through the serializer when one is set.
func (s *Store) encode(m session.Mutation) (map[string]session.Change, error) {
	if len(m.Delta.Attributes) == 0 {
		return m.Delta.Attributes, nil
	}
	out := make(map[string]session.Change, len(m.Delta.Attributes))
	for name, c := range m.Delta.Attributes {
		if c.Removed {
			out[name] = c
			continue
		}
		if s.serializer == nil {
			out[name] = session.Change{Value: deepcopy.Copy(c.Value)}
			continue
		}
		data, err := s.serializer.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		v, err := s.serializer.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		out[name] = session.Change{Value: v}
	}
	return out, nil
}

func copyRecord(rec *session.Record) *session.Record {
	c := rec.Clone()
	for name, v := range c.Attributes {
		c.Attributes[name] = deepcopy.Copy(v)
	}
	return c
}

func (s *Store) remove(rec *session.Record) {
	s.unindexAll(rec)
	delete(s.records, rec.ID)
	s.deletes.Add(1)
}

func (s *Store) unindexAll(rec *session.Record) {
	for name, value := range rec.Indexes {
		s.unindex(name, value, rec.ID)
	}
}

func (s *Store) index(name, value, id string) {
	values, ok := s.indexes[name]
	if !ok {
		values = make(map[string]map[string]struct{})
		s.indexes[name] = values
	}
	ids, ok := values[value]
	if !ok {
		ids = make(map[string]struct{})
		values[value] = ids
	}
	ids[id] = struct{}{}
}

func (s *Store) unindex(name, value, id string) {
	ids := s.indexes[name][value]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.indexes[name], value)
	}
}
