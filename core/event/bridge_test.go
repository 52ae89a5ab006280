package event_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/event"
)

type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) OnSessionEvent(_ context.Context, e event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) kinds() []event.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Kind, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Kind)
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func publish(t *testing.T, b *event.Bridge, kind event.Kind, id string) {
	t.Helper()
	require.NoError(t, b.Publish(context.Background(), event.New(kind, id, nil, "test")))
}

func TestBridge_SyncDelivery(t *testing.T) {
	t.Parallel()

	c := &collector{}
	b := event.NewBridge(event.WithSyncDelivery(), event.WithListener(c))

	publish(t, b, event.Created, "s1")
	publish(t, b, event.Updated, "s1")
	publish(t, b, event.Deleted, "s1")

	assert.Equal(t, []event.Kind{event.Created, event.Updated, event.Deleted}, c.kinds())
	assert.NoError(t, b.Healthcheck(context.Background()))
}

func TestBridge_Dedupe(t *testing.T) {
	t.Parallel()

	t.Run("only first terminal event is delivered", func(t *testing.T) {
		t.Parallel()

		c := &collector{}
		b := event.NewBridge(event.WithSyncDelivery(), event.WithListener(c))

		publish(t, b, event.Created, "s1")
		publish(t, b, event.Expired, "s1")
		publish(t, b, event.Deleted, "s1")
		publish(t, b, event.Expired, "s1")

		assert.Equal(t, []event.Kind{event.Created, event.Expired}, c.kinds())
		assert.Equal(t, int64(2), b.Stats().Duplicates)
	})

	t.Run("late created and updated are dropped", func(t *testing.T) {
		t.Parallel()

		c := &collector{}
		b := event.NewBridge(event.WithSyncDelivery(), event.WithListener(c))

		publish(t, b, event.Deleted, "s1")
		publish(t, b, event.Created, "s1")
		publish(t, b, event.Updated, "s1")

		assert.Equal(t, []event.Kind{event.Deleted}, c.kinds())
	})

	t.Run("duplicate created is dropped", func(t *testing.T) {
		t.Parallel()

		c := &collector{}
		b := event.NewBridge(event.WithSyncDelivery(), event.WithListener(c))

		publish(t, b, event.Created, "s1")
		publish(t, b, event.Created, "s1")
		publish(t, b, event.Created, "s2")

		assert.Equal(t, []event.Kind{event.Created, event.Created}, c.kinds())
	})

	t.Run("state is forgotten after the window", func(t *testing.T) {
		t.Parallel()

		var now atomic.Int64
		now.Store(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
		clock := func() time.Time { return time.Unix(0, now.Load()) }

		c := &collector{}
		b := event.NewBridge(
			event.WithSyncDelivery(),
			event.WithListener(c),
			event.WithDedupeWindow(time.Minute),
			event.WithBridgeClock(clock),
		)

		publish(t, b, event.Deleted, "s1")
		now.Add(int64(2 * time.Minute))
		publish(t, b, event.Deleted, "s1")

		assert.Len(t, c.kinds(), 2)
	})
}

func TestBridge_ListenerIsolation(t *testing.T) {
	t.Parallel()

	c := &collector{}
	b := event.NewBridge(
		event.WithSyncDelivery(),
		event.WithListener(
			event.ListenerFunc(func(context.Context, event.Event) error { panic("listener bug") }),
			event.ListenerFunc(func(context.Context, event.Event) error { return errors.New("listener failed") }),
			c,
		),
	)

	publish(t, b, event.Created, "s1")
	publish(t, b, event.Created, "s2")

	assert.Equal(t, 2, c.len())
	stats := b.Stats()
	assert.Equal(t, int64(4), stats.ListenerFailures)
	assert.Equal(t, int64(2), stats.Delivered)
}

func TestBridge_Subscribe(t *testing.T) {
	t.Parallel()

	c := &collector{}
	b := event.NewBridge(event.WithSyncDelivery())
	unsubscribe := b.Subscribe(c)

	publish(t, b, event.Created, "s1")
	unsubscribe()
	unsubscribe()
	publish(t, b, event.Created, "s2")

	assert.Equal(t, 1, c.len())
	assert.Zero(t, b.Stats().Listeners)
}

func TestBridge_OnKinds(t *testing.T) {
	t.Parallel()

	c := &collector{}
	b := event.NewBridge(event.WithSyncDelivery(), event.WithListener(event.OnDestroyed(c)))

	publish(t, b, event.Created, "s1")
	publish(t, b, event.Updated, "s1")
	publish(t, b, event.Expired, "s1")

	assert.Equal(t, []event.Kind{event.Expired}, c.kinds())
}

func TestBridge_PublishValidation(t *testing.T) {
	t.Parallel()

	b := event.NewBridge(event.WithSyncDelivery())
	assert.ErrorIs(t, b.Publish(context.Background(), event.Event{Kind: event.Created}), event.ErrInvalidEvent)
	assert.ErrorIs(t, b.Publish(context.Background(), event.Event{SessionID: "s1"}), event.ErrInvalidEvent)
}

func TestBridge_AsyncOrderingPerSession(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		perID = make(map[string][]event.Kind)
	)
	listener := event.ListenerFunc(func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		perID[e.SessionID] = append(perID[e.SessionID], e.Kind)
		return nil
	})

	b := event.NewBridge(event.WithListener(listener), event.WithShards(4), event.WithBufferSize(8))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx)() }()

	const sessions = 50
	var wg sync.WaitGroup
	wg.Add(sessions)
	for i := range sessions {
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			for _, k := range []event.Kind{event.Created, event.Updated, event.Updated, event.Expired, event.Deleted} {
				assert.NoError(t, b.Publish(ctx, event.New(k, id, nil, "test")))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return b.Stats().Delivered+b.Stats().Duplicates == sessions*5
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	for id, kinds := range perID {
		assert.Equal(t, []event.Kind{event.Created, event.Updated, event.Updated, event.Expired}, kinds, id)
	}
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, b.Publish(context.Background(), event.New(event.Created, "late", nil, "test")), event.ErrBridgeClosed)
	assert.ErrorIs(t, b.Healthcheck(context.Background()), event.ErrHealthcheckFailed)
}

func TestBridge_PublishBlocksUntilContextDone(t *testing.T) {
	t.Parallel()

	b := event.NewBridge(event.WithShards(1), event.WithBufferSize(1))
	publish(t, b, event.Created, "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, event.New(event.Created, "s2", nil, "test"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_Lifecycle(t *testing.T) {
	t.Parallel()

	b := event.NewBridge()
	assert.ErrorIs(t, b.Stop(), event.ErrBridgeNotStarted)
	assert.ErrorIs(t, b.Healthcheck(context.Background()), event.ErrHealthcheckFailed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Start(ctx) }()

	require.Eventually(t, func() bool { return b.Stats().IsRunning }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, b.Start(ctx), event.ErrBridgeAlreadyStarted)
	assert.NoError(t, b.Healthcheck(ctx))
	require.NoError(t, b.Stop())
}

type flakyFeed struct {
	attempts atomic.Int32
}

func (f *flakyFeed) Name() string { return "flaky" }

func (f *flakyFeed) Subscribe(ctx context.Context, publish event.PublishFunc) error {
	n := f.attempts.Add(1)
	if n < 3 {
		return errors.New("connection reset")
	}
	if err := publish(ctx, event.New(event.Expired, "from-feed", nil, "flaky")); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestBridge_FeedResubscribes(t *testing.T) {
	t.Parallel()

	c := &collector{}
	feed := &flakyFeed{}
	b := event.NewBridge(
		event.WithListener(c),
		event.WithFeed(feed),
		event.WithResubscribeBackoff(time.Millisecond, 5*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx)() }()

	require.Eventually(t, func() bool { return c.len() == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), feed.attempts.Load())
	assert.Equal(t, int64(2), b.Stats().Resubscribes)

	cancel()
	require.NoError(t, <-done)
}
