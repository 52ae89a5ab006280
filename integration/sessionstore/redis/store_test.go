package redis_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/session"
	"github.com/dmitrymomot/sessionkit/core/session/sessiontest"
	"github.com/dmitrymomot/sessionkit/integration/sessionstore/redis"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestStore(t *testing.T) {
	t.Parallel()

	sessiontest.Run(t, func(t *testing.T) session.Store {
		_, client := newClient(t)
		return redis.New(client, redis.WithNamespace("app"))
	})
}

func TestStore_Layout(t *testing.T) {
	t.Parallel()

	mr, client := newClient(t)
	now := time.Now().Truncate(time.Second)
	store := redis.New(client, redis.WithNamespace("app"), redis.WithClock(func() time.Time { return now }))

	rec := sessiontest.NewRecord("s1", 30*time.Minute)
	rec.CreationTime, rec.LastAccessedTime = now, now
	rec.Attributes["user"] = "alice"
	rec.Indexes[session.PrincipalNameIndexName] = "alice"
	sessiontest.Insert(t, store, rec)

	ms := func(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

	assert.Equal(t, ms(now), mr.HGet("app:sessions:s1", "creationTime"))
	assert.Equal(t, ms(now), mr.HGet("app:sessions:s1", "lastAccessedTime"))
	assert.Equal(t, "1800000", mr.HGet("app:sessions:s1", "maxInactiveInterval"))
	assert.Equal(t, ms(now.Add(30*time.Minute)), mr.HGet("app:sessions:s1", "expiresAt"))
	assert.Equal(t, "alice", mr.HGet("app:sessions:s1", "index:principal_name"))
	assert.NotEmpty(t, mr.HGet("app:sessions:s1", "sessionAttr:user"))

	assert.Equal(t, 35*time.Minute, mr.TTL("app:sessions:s1"))
	assert.True(t, mr.Exists("app:sessions:expires:s1"))
	assert.Equal(t, 30*time.Minute, mr.TTL("app:sessions:expires:s1"))

	members, err := mr.SMembers("app:index:principal_name:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, members)

	score, err := mr.ZScore("app:expirations", "s1")
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(30*time.Minute).UnixMilli()), score)
}

func TestStore_NeverExpiring(t *testing.T) {
	t.Parallel()

	mr, client := newClient(t)
	store := redis.New(client)

	rec := sessiontest.NewRecord("forever", 0)
	sessiontest.Insert(t, store, rec)

	assert.True(t, mr.Exists("session:sessions:forever"))
	assert.Zero(t, mr.TTL("session:sessions:forever"))
	assert.False(t, mr.Exists("session:sessions:expires:forever"))
	assert.Equal(t, "0", mr.HGet("session:sessions:forever", "expiresAt"))

	ids, err := store.ScanExpired(context.Background(), time.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_DeltaRefreshesExpiry(t *testing.T) {
	t.Parallel()

	mr, client := newClient(t)
	now := time.Now().Truncate(time.Second)
	store := redis.New(client, redis.WithClock(func() time.Time { return now }))

	rec := sessiontest.NewRecord("s1", 10*time.Minute)
	rec.CreationTime, rec.LastAccessedTime = now, now
	sessiontest.Insert(t, store, rec)

	touched := rec.Clone()
	touched.LastAccessedTime = now
	touched.MaxInactiveInterval = time.Hour
	require.NoError(t, store.Apply(context.Background(), session.Mutation{
		ID:     "s1",
		Record: touched,
		Delta:  session.Delta{Fields: session.FieldMaxInactiveInterval},
	}))

	assert.Equal(t, time.Hour, mr.TTL("session:sessions:expires:s1"))
	assert.Equal(t, time.Hour+5*time.Minute, mr.TTL("session:sessions:s1"))
}

func TestStore_RejectsUnknownAttributeType(t *testing.T) {
	t.Parallel()

	mr, client := newClient(t)
	store := redis.New(client)

	rec := sessiontest.NewRecord("s1", time.Minute)
	sessiontest.Insert(t, store, rec)
	mr.HSet("session:sessions:s1", "sessionAttr:evil", `{"t":"os/exec.Cmd","v":{}}`)

	_, err := store.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, session.ErrSerialization)
	assert.ErrorIs(t, err, session.ErrTypeNotAllowed)
}

func TestStore_SerializationFailureWritesNothing(t *testing.T) {
	t.Parallel()

	mr, client := newClient(t)
	store := redis.New(client)

	rec := sessiontest.NewRecord("s1", time.Minute)
	err := store.Apply(context.Background(), session.Mutation{
		ID:     "s1",
		IsNew:  true,
		Record: rec,
		Delta:  session.Delta{Attributes: map[string]session.Change{"ch": {Value: make(chan int)}}},
	})
	assert.ErrorIs(t, err, session.ErrSerialization)
	assert.False(t, mr.Exists("session:sessions:s1"))
}

func TestStore_Unavailable(t *testing.T) {
	t.Parallel()

	mr, client := newClient(t)
	store := redis.New(client)
	mr.Close()

	_, err := store.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	assert.ErrorIs(t, store.Ping(context.Background()), session.ErrStoreUnavailable)
}

func TestStore_PublishesCreated(t *testing.T) {
	t.Parallel()

	_, client := newClient(t)
	store := redis.New(client, redis.WithNamespace("app"))

	sub := client.PSubscribe(context.Background(), "app:event:0:created:*")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	sessiontest.Insert(t, store, sessiontest.NewRecord("s1", time.Minute))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "app:event:0:created:s1", msg.Channel)
		assert.Equal(t, "s1", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("created notification not received")
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRepository_WithRedis(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := newClient(t)
	clk := &clock{now: time.Now().Truncate(time.Millisecond)}
	store := redis.New(client, redis.WithClock(clk.Now))

	var (
		mu    sync.Mutex
		kinds []event.Kind
	)
	bridge := event.NewBridge(event.WithSyncDelivery(), event.WithListener(event.ListenerFunc(
		func(_ context.Context, e event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			kinds = append(kinds, e.Kind)
			return nil
		})))

	repo, err := session.NewRepository(store,
		session.WithClock(clk.Now),
		session.WithPublisher(bridge),
		session.WithMaxInactiveInterval(1500*time.Millisecond),
	)
	require.NoError(t, err)

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute(ctx, session.PrincipalNameIndexName, "alice"))
	require.NoError(t, s.SetAttribute(ctx, "cart", []string{"book"}))
	require.NoError(t, repo.Save(ctx, s))

	clk.Advance(time.Second)
	found, err := repo.FindByID(ctx, s.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	v, _ := found.GetAttribute("cart")
	assert.Equal(t, []string{"book"}, v)

	byPrincipal, err := repo.FindByPrincipalName(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, byPrincipal, s.ID())

	clk.Advance(time.Second)
	found, err = repo.FindByID(ctx, s.ID())
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = store.Load(ctx, s.ID())
	assert.ErrorIs(t, err, session.ErrNotFound)

	mu.Lock()
	assert.Equal(t, []event.Kind{event.Created, event.Expired}, kinds)
	mu.Unlock()
}

func TestRepository_ChangeIDWithRedis(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := newClient(t)
	store := redis.New(client)
	repo, err := session.NewRepository(store)
	require.NoError(t, err)

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute(ctx, session.PrincipalNameIndexName, "bob"))
	require.NoError(t, repo.Save(ctx, s))

	oldID := s.ID()
	newID, err := s.ChangeID(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))

	old, err := repo.FindByID(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, old)

	renamed, err := repo.FindByID(ctx, newID)
	require.NoError(t, err)
	require.NotNil(t, renamed)

	byPrincipal, err := repo.FindByPrincipalName(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, byPrincipal, 1)
	assert.Contains(t, byPrincipal, newID)
}

func TestRepository_NeverExpiringKeepsShadowKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr, client := newClient(t)
	store := redis.New(client)
	repo, err := session.NewRepository(store, session.WithMaxInactiveInterval(30*time.Minute))
	require.NoError(t, err)

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))
	shadow := "session:sessions:expires:" + s.ID()
	require.True(t, mr.Exists(shadow))

	loaded, err := repo.FindByID(ctx, s.ID())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NoError(t, loaded.SetMaxInactiveInterval(ctx, 0))
	require.NoError(t, repo.Save(ctx, loaded))

	assert.True(t, mr.Exists(shadow))
	assert.Zero(t, mr.TTL(shadow))
	assert.Zero(t, mr.TTL("session:sessions:"+s.ID()))

	ids, err := store.ScanExpired(ctx, time.Now().Add(24*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	found, err := repo.FindByID(ctx, s.ID())
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestRepository_DeleteWithUndecodableAttribute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr, client := newClient(t)
	store := redis.New(client)

	var (
		mu     sync.Mutex
		events []event.Event
	)
	bridge := event.NewBridge(event.WithSyncDelivery(), event.WithListener(event.ListenerFunc(
		func(_ context.Context, e event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
			return nil
		})))
	repo, err := session.NewRepository(store, session.WithPublisher(bridge))
	require.NoError(t, err)

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute(ctx, "user", "alice"))
	require.NoError(t, repo.Save(ctx, s))

	key := "session:sessions:" + s.ID()
	mr.HSet(key, "sessionAttr:old", `{"t":"removed.Type","v":{}}`)

	_, err = store.Load(ctx, s.ID())
	require.ErrorIs(t, err, session.ErrTypeNotAllowed)

	require.NoError(t, repo.DeleteByID(ctx, s.ID()))
	assert.False(t, mr.Exists(key))
	assert.False(t, mr.Exists("session:sessions:expires:"+s.ID()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, event.Created, events[0].Kind)
	assert.Equal(t, event.Deleted, events[1].Kind)
	require.NotNil(t, events[1].Snapshot)
	v, ok := events[1].Snapshot.Attribute("user")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
	_, ok = events[1].Snapshot.Attribute("old")
	assert.False(t, ok)
}

func TestStore_DeleteIfExpiredWithUndecodableAttribute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr, client := newClient(t)
	now := time.Now().Truncate(time.Millisecond)
	store := redis.New(client, redis.WithClock(func() time.Time { return now }))

	rec := sessiontest.NewRecord("s1", time.Minute)
	rec.CreationTime, rec.LastAccessedTime = now, now
	sessiontest.Insert(t, store, rec)
	mr.HSet("session:sessions:s1", "sessionAttr:old", `{"t":"removed.Type","v":{}}`)

	got, expired, err := store.DeleteIfExpired(ctx, "s1", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, expired)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)
	assert.NotContains(t, got.Attributes, "old")
	assert.False(t, mr.Exists("session:sessions:s1"))
}
