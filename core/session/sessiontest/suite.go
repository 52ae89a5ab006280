// Package sessiontest provides a behavioural test suite for session.Store implementations.
//
// Adapters call Run from their own tests with a constructor that returns an
// empty store:
//
//	func TestStore(t *testing.T) {
//	    sessiontest.Run(t, func(t *testing.T) session.Store {
//	        return memory.New()
//	    })
//	}
package sessiontest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/session"
)

// Factory returns an empty store for a single subtest.
type Factory func(t *testing.T) session.Store

var seq atomic.Int64

// NewRecord builds a record that stays alive for interval from now.
// Times are truncated to whole seconds so every backend stores them exactly.
func NewRecord(id string, interval time.Duration) *session.Record {
	now := time.Now().Truncate(time.Second)
	return &session.Record{
		ID:                  id,
		CreationTime:        now,
		LastAccessedTime:    now,
		MaxInactiveInterval: interval,
		Attributes:          map[string]any{},
		Indexes:             map[string]string{},
	}
}

// Insert applies a first save of rec.
func Insert(t *testing.T, s session.Store, rec *session.Record) {
	t.Helper()

	m := session.Mutation{
		ID:     rec.ID,
		IsNew:  true,
		Record: rec,
		Delta: session.Delta{
			Fields: session.FieldCreationTime | session.FieldLastAccessedTime | session.FieldMaxInactiveInterval,
		},
		Indexes: map[string]session.IndexChange{},
	}
	if len(rec.Attributes) > 0 {
		m.Delta.Attributes = make(map[string]session.Change, len(rec.Attributes))
		for name, v := range rec.Attributes {
			m.Delta.Attributes[name] = session.Change{Value: v}
		}
	}
	for name, value := range rec.Indexes {
		m.Indexes[name] = session.IndexChange{New: value}
	}
	require.NoError(t, s.Apply(context.Background(), m))
}

// AssertRecord compares records by value, tolerating time zone differences.
func AssertRecord(t *testing.T, want, got *session.Record) {
	t.Helper()
	require.NotNil(t, got)

	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.CreationTime.Equal(got.CreationTime), "creation time: want %s, got %s", want.CreationTime, got.CreationTime)
	assert.True(t, want.LastAccessedTime.Equal(got.LastAccessedTime), "last accessed time: want %s, got %s", want.LastAccessedTime, got.LastAccessedTime)
	assert.Equal(t, want.MaxInactiveInterval, got.MaxInactiveInterval)
	assert.Equal(t, len(want.Attributes), len(got.Attributes), "attributes: %v", got.Attributes)
	for name, v := range want.Attributes {
		assert.Equal(t, v, got.Attributes[name], "attribute %q", name)
	}
	assert.Equal(t, len(want.Indexes), len(got.Indexes), "indexes: %v", got.Indexes)
	for name, v := range want.Indexes {
		assert.Equal(t, v, got.Indexes[name], "index %q", name)
	}
}

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

// Run executes the suite. Subtests run sequentially.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("load missing record", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.Load(ctx, nextID("missing"))
		assert.ErrorIs(t, err, session.ErrNotFound)
		assert.Nil(t, rec)
	})

	t.Run("insert and load", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(nextID("insert"), 30*time.Minute)
		rec.Attributes["user"] = "alice"
		rec.Attributes["visits"] = 3
		rec.Indexes[session.PrincipalNameIndexName] = "alice"
		Insert(t, s, rec)

		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		AssertRecord(t, rec, got)

		ids, err := s.FindIDsByIndex(ctx, session.PrincipalNameIndexName, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{rec.ID}, ids)
	})

	t.Run("apply delta", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(nextID("delta"), 30*time.Minute)
		rec.Attributes["keep"] = "k"
		rec.Attributes["drop"] = "d"
		Insert(t, s, rec)

		updated := rec.Clone()
		updated.LastAccessedTime = rec.LastAccessedTime.Add(time.Minute)
		updated.MaxInactiveInterval = time.Hour
		updated.Attributes["added"] = "a"
		delete(updated.Attributes, "drop")

		err := s.Apply(ctx, session.Mutation{
			ID:     rec.ID,
			Record: updated,
			Delta: session.Delta{
				Fields: session.FieldLastAccessedTime | session.FieldMaxInactiveInterval,
				Attributes: map[string]session.Change{
					"added": {Value: "a"},
					"drop":  {Removed: true},
				},
			},
		})
		require.NoError(t, err)

		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		AssertRecord(t, updated, got)
	})

	t.Run("delta only touches changed attributes", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(nextID("partial"), 30*time.Minute)
		rec.Attributes["a"] = "1"
		rec.Attributes["b"] = "2"
		Insert(t, s, rec)

		// A concurrent writer changed "b" in the store.
		other := rec.Clone()
		other.Attributes["b"] = "other"
		require.NoError(t, s.Apply(ctx, session.Mutation{
			ID:     rec.ID,
			Record: other,
			Delta:  session.Delta{Attributes: map[string]session.Change{"b": {Value: "other"}}},
		}))

		mine := rec.Clone()
		mine.Attributes["a"] = "mine"
		require.NoError(t, s.Apply(ctx, session.Mutation{
			ID:     rec.ID,
			Record: mine,
			Delta:  session.Delta{Attributes: map[string]session.Change{"a": {Value: "mine"}}},
		}))

		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "mine", got.Attributes["a"])
		assert.Equal(t, "other", got.Attributes["b"])
	})

	t.Run("apply recreates vanished record", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(nextID("vanished"), 30*time.Minute)
		rec.Attributes["user"] = "bob"
		Insert(t, s, rec)

		_, err := s.Delete(ctx, rec.ID)
		require.NoError(t, err)

		updated := rec.Clone()
		updated.Attributes["cart"] = "1"
		require.NoError(t, s.Apply(ctx, session.Mutation{
			ID:     rec.ID,
			Record: updated,
			Delta:  session.Delta{Attributes: map[string]session.Change{"cart": {Value: "1"}}},
		}))

		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		AssertRecord(t, updated, got)
	})

	t.Run("rename keeps state and indexes", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(nextID("old"), 30*time.Minute)
		rec.Attributes["user"] = "carol"
		rec.Indexes[session.PrincipalNameIndexName] = "carol"
		Insert(t, s, rec)

		newID := nextID("new")
		renamed := rec.Clone()
		renamed.ID = newID
		require.NoError(t, s.Apply(ctx, session.Mutation{
			ID:         newID,
			PreviousID: rec.ID,
			Record:     renamed,
		}))

		_, err := s.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, session.ErrNotFound)

		got, err := s.Load(ctx, newID)
		require.NoError(t, err)
		AssertRecord(t, renamed, got)

		ids, err := s.FindIDsByIndex(ctx, session.PrincipalNameIndexName, "carol")
		require.NoError(t, err)
		assert.Equal(t, []string{newID}, ids)
	})

	t.Run("index moves and retracts", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(nextID("index"), 30*time.Minute)
		rec.Indexes[session.PrincipalNameIndexName] = "dave"
		Insert(t, s, rec)

		moved := rec.Clone()
		moved.Indexes[session.PrincipalNameIndexName] = "erin"
		require.NoError(t, s.Apply(ctx, session.Mutation{
			ID:      rec.ID,
			Record:  moved,
			Indexes: map[string]session.IndexChange{session.PrincipalNameIndexName: {Old: "dave", New: "erin"}},
		}))

		ids, err := s.FindIDsByIndex(ctx, session.PrincipalNameIndexName, "dave")
		require.NoError(t, err)
		assert.Empty(t, ids)
		ids, err = s.FindIDsByIndex(ctx, session.PrincipalNameIndexName, "erin")
		require.NoError(t, err)
		assert.Equal(t, []string{rec.ID}, ids)

		retracted := moved.Clone()
		delete(retracted.Indexes, session.PrincipalNameIndexName)
		require.NoError(t, s.Apply(ctx, session.Mutation{
			ID:      rec.ID,
			Record:  retracted,
			Indexes: map[string]session.IndexChange{session.PrincipalNameIndexName: {Old: "erin"}},
		}))

		ids, err = s.FindIDsByIndex(ctx, session.PrincipalNameIndexName, "erin")
		require.NoError(t, err)
		assert.Empty(t, ids)

		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Indexes)
	})

	t.Run("remove index entry", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(nextID("entry"), 30*time.Minute)
		rec.Indexes[session.PrincipalNameIndexName] = "frank"
		Insert(t, s, rec)

		require.NoError(t, s.RemoveIndexEntry(ctx, session.PrincipalNameIndexName, "frank", rec.ID))
		require.NoError(t, s.RemoveIndexEntry(ctx, session.PrincipalNameIndexName, "frank", rec.ID))

		ids, err := s.FindIDsByIndex(ctx, session.PrincipalNameIndexName, "frank")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(nextID("delete"), 30*time.Minute)
		rec.Attributes["user"] = "gina"
		rec.Indexes[session.PrincipalNameIndexName] = "gina"
		Insert(t, s, rec)

		removed, err := s.Delete(ctx, rec.ID)
		require.NoError(t, err)
		AssertRecord(t, rec, removed)

		_, err = s.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, session.ErrNotFound)

		ids, err := s.FindIDsByIndex(ctx, session.PrincipalNameIndexName, "gina")
		require.NoError(t, err)
		assert.Empty(t, ids)

		_, err = s.Delete(ctx, rec.ID)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("delete if expired", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()

		alive := NewRecord(nextID("alive"), 30*time.Minute)
		Insert(t, s, alive)

		expired := NewRecord(nextID("expired"), 30*time.Minute)
		expired.CreationTime = expired.CreationTime.Add(-2 * time.Hour)
		expired.LastAccessedTime = expired.LastAccessedTime.Add(-time.Hour)
		expired.Attributes["user"] = "hank"
		Insert(t, s, expired)

		rec, deleted, err := s.DeleteIfExpired(ctx, alive.ID, now)
		require.NoError(t, err)
		assert.False(t, deleted)
		AssertRecord(t, alive, rec)

		rec, deleted, err = s.DeleteIfExpired(ctx, expired.ID, now)
		require.NoError(t, err)
		assert.True(t, deleted)
		AssertRecord(t, expired, rec)

		_, err = s.Load(ctx, expired.ID)
		assert.ErrorIs(t, err, session.ErrNotFound)

		rec, deleted, err = s.DeleteIfExpired(ctx, expired.ID, now)
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.Nil(t, rec)
	})

	t.Run("never expiring record", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(nextID("forever"), 0)
		rec.LastAccessedTime = rec.LastAccessedTime.Add(-48 * time.Hour)
		rec.CreationTime = rec.LastAccessedTime
		Insert(t, s, rec)

		got, deleted, err := s.DeleteIfExpired(ctx, rec.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, deleted)
		AssertRecord(t, rec, got)
	})

	t.Run("scan expired", func(t *testing.T) {
		s := newStore(t)
		scanner, ok := s.(session.ExpiredScanner)
		if !ok {
			t.Skip("store does not scan for expired records")
		}

		alive := NewRecord(nextID("alive"), 30*time.Minute)
		Insert(t, s, alive)

		var expiredIDs []string
		for range 3 {
			rec := NewRecord(nextID("stale"), time.Minute)
			rec.LastAccessedTime = rec.LastAccessedTime.Add(-time.Hour)
			rec.CreationTime = rec.LastAccessedTime
			Insert(t, s, rec)
			expiredIDs = append(expiredIDs, rec.ID)
		}

		ids, err := scanner.ScanExpired(ctx, time.Now(), 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, expiredIDs, ids)

		ids, err = scanner.ScanExpired(ctx, time.Now(), 2)
		require.NoError(t, err)
		assert.Len(t, ids, 2)
		assert.Subset(t, expiredIDs, ids)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		pinger, ok := s.(session.Pinger)
		if !ok {
			t.Skip("store does not support ping")
		}
		assert.NoError(t, pinger.Ping(ctx))
	})
}
