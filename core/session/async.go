package session

import (
	"context"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/dmitrymomot/sessionkit/pkg/async"
)

// AsyncRepository exposes the repository operations as futures.
// Operations on the same session id complete in submission order; operations
// on different ids run concurrently. A Session must not be mutated while a
// Save of it is in flight.
type AsyncRepository struct {
	repo    *Repository
	stripes []asyncStripe
}

type asyncStripe struct {
	mu   sync.Mutex
	tail chan struct{}
}

// NewAsyncRepository wraps repo. Non-positive stripes default to 64.
func NewAsyncRepository(repo *Repository, stripes int) *AsyncRepository {
	if stripes <= 0 {
		stripes = 64
	}
	return &AsyncRepository{repo: repo, stripes: make([]asyncStripe, stripes)}
}

// Repository returns the wrapped synchronous repository.
func (a *AsyncRepository) Repository() *Repository { return a.repo }

// CreateSession allocates a new session.
func (a *AsyncRepository) CreateSession(ctx context.Context) *async.Future[*Session] {
	return async.Go(ctx, a.repo.CreateSession)
}

// Save persists the session's changes.
func (a *AsyncRepository) Save(ctx context.Context, s *Session) *async.Future[struct{}] {
	key := ""
	if s != nil {
		key = s.originalID
	}
	return ordered(ctx, a, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.repo.Save(ctx, s)
	})
}

// FindByID loads a session; the result is nil when absent or expired.
func (a *AsyncRepository) FindByID(ctx context.Context, id string) *async.Future[*Session] {
	return ordered(ctx, a, id, func(ctx context.Context) (*Session, error) {
		return a.repo.FindByID(ctx, id)
	})
}

// DeleteByID removes a session.
func (a *AsyncRepository) DeleteByID(ctx context.Context, id string) *async.Future[struct{}] {
	return ordered(ctx, a, id, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.repo.DeleteByID(ctx, id)
	})
}

// FindByIndexNameAndIndexValue returns the valid sessions of an index entry.
func (a *AsyncRepository) FindByIndexNameAndIndexValue(ctx context.Context, name, value string) *async.Future[map[string]*Session] {
	return async.Go(ctx, func(ctx context.Context) (map[string]*Session, error) {
		return a.repo.FindByIndexNameAndIndexValue(ctx, name, value)
	})
}

// ordered runs fn after every earlier operation submitted for the same key.
func ordered[T any](ctx context.Context, a *AsyncRepository, key string, fn func(context.Context) (T, error)) *async.Future[T] {
	st := &a.stripes[murmur3.Sum32([]byte(key))%uint32(len(a.stripes))]

	st.mu.Lock()
	prev := st.tail
	done := make(chan struct{})
	st.tail = done
	st.mu.Unlock()

	// The chain must advance even when ctx is already cancelled.
	return async.Go(context.WithoutCancel(ctx), func(context.Context) (T, error) {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	})
}
