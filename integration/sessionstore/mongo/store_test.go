package mongo_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/session"
	"github.com/dmitrymomot/sessionkit/core/session/sessiontest"
	"github.com/dmitrymomot/sessionkit/integration/database/mongo"
	mongostore "github.com/dmitrymomot/sessionkit/integration/sessionstore/mongo"
)

var collSeq atomic.Int64

func testDatabase(t *testing.T) *mongodriver.Database {
	t.Helper()

	url := os.Getenv("MONGO_TEST_URL")
	if url == "" {
		t.Skip("MONGO_TEST_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := mongo.NewWithDatabase(ctx, mongo.Config{ConnectionURL: url, RetryAttempts: 1, RetryInterval: time.Second}, "sessionkit_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(context.Background()) })
	return db
}

func newTestStore(t *testing.T, db *mongodriver.Database, opts ...mongostore.Option) *mongostore.Store {
	t.Helper()

	name := fmt.Sprintf("sessions_%d_%d", time.Now().UnixNano(), collSeq.Add(1))
	store := mongostore.New(db, append([]mongostore.Option{mongostore.WithCollection(name)}, opts...)...)
	require.NoError(t, store.EnsureIndexes(context.Background()))
	t.Cleanup(func() { _ = store.Collection().Drop(context.Background()) })
	return store
}

func TestStore(t *testing.T) {
	db := testDatabase(t)
	sessiontest.Run(t, func(t *testing.T) session.Store {
		return newTestStore(t, db)
	})
}

func TestStore_DottedNames(t *testing.T) {
	db := testDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	rec := sessiontest.NewRecord("dotted", 30*time.Minute)
	rec.Attributes["org.acme.role"] = "admin"
	rec.Attributes["$where"] = "x"
	rec.Indexes["tenant.id"] = "acme"
	sessiontest.Insert(t, store, rec)

	got, err := store.Load(ctx, rec.ID)
	require.NoError(t, err)
	sessiontest.AssertRecord(t, rec, got)

	ids, err := store.FindIDsByIndex(ctx, "tenant.id", "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, ids)
}

func TestFeed(t *testing.T) {
	if os.Getenv("MONGO_TEST_CHANGE_STREAMS") == "" {
		t.Skip("MONGO_TEST_CHANGE_STREAMS not set; change streams need a replica set")
	}
	db := testDatabase(t)
	store := newTestStore(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, store.EnablePreImages(ctx))

	events := make(chan event.Event, 16)
	feed := mongostore.NewFeed(store)
	go func() {
		_ = feed.Subscribe(ctx, func(_ context.Context, e event.Event) error {
			events <- e
			return nil
		})
	}()
	// Give the stream time to open before writing.
	time.Sleep(500 * time.Millisecond)

	live := sessiontest.NewRecord("live", 30*time.Minute)
	sessiontest.Insert(t, store, live)

	stale := sessiontest.NewRecord("stale", time.Minute)
	stale.LastAccessedTime = stale.LastAccessedTime.Add(-time.Hour)
	sessiontest.Insert(t, store, stale)

	_, err := store.Delete(ctx, live.ID)
	require.NoError(t, err)
	_, deleted, err := store.DeleteIfExpired(ctx, stale.ID, time.Now())
	require.NoError(t, err)
	require.True(t, deleted)

	want := []struct {
		kind event.Kind
		id   string
	}{
		{event.Created, live.ID},
		{event.Created, stale.ID},
		{event.Deleted, live.ID},
		{event.Expired, stale.ID},
	}
	for _, w := range want {
		select {
		case e := <-events:
			assert.Equal(t, w.kind, e.Kind)
			assert.Equal(t, w.id, e.SessionID)
			assert.NotNil(t, e.Snapshot)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s of %s", w.kind, w.id)
		}
	}
}
