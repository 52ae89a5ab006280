package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/session"
	"github.com/dmitrymomot/sessionkit/integration/sessionstore/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) OnSessionEvent(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) kinds(sessionID string) []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Kind
	for _, e := range r.events {
		if e.SessionID == sessionID {
			out = append(out, e.Kind)
		}
	}
	return out
}

type fixture struct {
	store  *memory.Store
	repo   *session.Repository
	clock  *fakeClock
	events *recorder
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.New(),
		clock:  newClock(),
		events: &recorder{},
	}
	bridge := event.NewBridge(event.WithSyncDelivery(), event.WithListener(f.events))

	base := []session.Option{
		session.WithClock(f.clock.Now),
		session.WithPublisher(bridge),
	}
	repo, err := session.NewRepository(f.store, append(base, opts...)...)
	require.NoError(t, err)
	f.repo = repo
	return f
}

// mockStore embeds mock.Mock for failure-path tests.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Load(ctx context.Context, id string) (*session.Record, error) {
	args := m.Called(ctx, id)
	if rec := args.Get(0); rec != nil {
		return rec.(*session.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Apply(ctx context.Context, mu session.Mutation) error {
	args := m.Called(ctx, mu)
	return args.Error(0)
}

func (m *mockStore) Delete(ctx context.Context, id string) (*session.Record, error) {
	args := m.Called(ctx, id)
	if rec := args.Get(0); rec != nil {
		return rec.(*session.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) DeleteIfExpired(ctx context.Context, id string, now time.Time) (*session.Record, bool, error) {
	args := m.Called(ctx, id, now)
	if rec := args.Get(0); rec != nil {
		return rec.(*session.Record), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *mockStore) FindIDsByIndex(ctx context.Context, name, value string) ([]string, error) {
	args := m.Called(ctx, name, value)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) RemoveIndexEntry(ctx context.Context, name, value, id string) error {
	args := m.Called(ctx, name, value, id)
	return args.Error(0)
}
