package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/dmitrymomot/sessionkit/core/logger"
)

// Bridge fans normalized session events out to listeners.
//
// Events are queued on bounded per-shard channels keyed by session id, so
// producers never run listener code and per-id ordering is preserved.
// Duplicate lifecycle events are suppressed per id, and a failing or panicking
// listener never affects other listeners or later events.
type Bridge struct {
	listeners   map[uint64]Listener
	order       []uint64
	nextID      uint64
	listenersMu sync.RWMutex

	feeds []Feed
	sync  bool

	shardCount      int
	bufferSize      int
	dedupeWindow    time.Duration
	dedupeLimit     int
	shutdownTimeout time.Duration
	backoffInitial  time.Duration
	backoffMax      time.Duration

	shards []*shard
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	published        atomic.Int64
	delivered        atomic.Int64
	duplicates       atomic.Int64
	listenerFailures atomic.Int64
	resubscribes     atomic.Int64
	lastActivityAt   atomic.Int64
}

type shard struct {
	queue chan Event
	mu    sync.Mutex
	seen  *dedupe
}

// BridgeStats provides observability metrics for monitoring and debugging.
type BridgeStats struct {
	Published        int64
	Delivered        int64
	Duplicates       int64
	ListenerFailures int64
	Resubscribes     int64
	Listeners        int
	Queued           int
	IsRunning        bool
	LastActivityAt   time.Time
}

// NewBridge creates a bridge. Call Start (or Run) to begin asynchronous delivery,
// or use WithSyncDelivery to deliver inside Publish.
//
// Example:
//
//	bridge := event.NewBridge(
//	    event.WithBridgeLogger(log),
//	    event.WithListener(event.OnDestroyed(registry)),
//	    event.WithFeed(redisstore.NewFeed(client)),
//	)
//	eg.Go(bridge.Run(ctx))
func NewBridge(opts ...BridgeOption) *Bridge {
	b := &Bridge{
		listeners:       make(map[uint64]Listener),
		shardCount:      8,
		bufferSize:      256,
		dedupeWindow:    10 * time.Minute,
		dedupeLimit:     100_000,
		shutdownTimeout: 30 * time.Second,
		backoffInitial:  500 * time.Millisecond,
		backoffMax:      30 * time.Second,
		logger:          logger.Nop(),
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.shards = make([]*shard, b.shardCount)
	perShard := max(b.dedupeLimit/b.shardCount, 1)
	for i := range b.shards {
		b.shards[i] = &shard{
			queue: make(chan Event, b.bufferSize),
			seen:  newDedupe(b.dedupeWindow, perShard),
		}
	}

	return b
}

// Subscribe registers a listener and returns a function that removes it.
func (b *Bridge) Subscribe(l Listener) (unsubscribe func()) {
	b.listenersMu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = l
	b.order = append(b.order, id)
	b.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.listenersMu.Lock()
			defer b.listenersMu.Unlock()
			delete(b.listeners, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Attach adds change feeds. Feeds attached after Start run from the next Start.
func (b *Bridge) Attach(feeds ...Feed) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range feeds {
		if f != nil {
			b.feeds = append(b.feeds, f)
		}
	}
}

// Publish enqueues an event. It blocks while the target queue is full until
// ctx is done. In sync mode listeners run before Publish returns.
func (b *Bridge) Publish(ctx context.Context, e Event) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	if e.SessionID == "" || e.Kind == 0 {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = b.now()
	}

	b.published.Add(1)
	sh := b.shardFor(e.SessionID)

	if b.sync {
		b.handle(ctx, sh, e)
		return nil
	}

	select {
	case sh.queue <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs queue workers and feeds until ctx is cancelled. It blocks.
// Use Run() for errgroup pattern or call this in a goroutine.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return ErrBridgeAlreadyStarted
	}
	if b.closed.Load() {
		b.mu.Unlock()
		return ErrBridgeClosed
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	ctx = b.ctx
	feeds := append([]Feed(nil), b.feeds...)

	if !b.sync {
		for _, sh := range b.shards {
			b.wg.Add(1)
			go b.work(ctx, sh)
		}
	}
	for _, f := range feeds {
		b.wg.Add(1)
		go b.runFeed(ctx, f)
	}
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "session event bridge started",
		slog.Int("shards", len(b.shards)),
		slog.Int("feeds", len(feeds)),
		slog.Bool("sync", b.sync))

	<-ctx.Done()
	return ctx.Err()
}

// Stop cancels feeds, drains queued events and waits up to the shutdown timeout.
// Publish returns ErrBridgeClosed afterwards.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.cancel == nil {
		b.mu.Unlock()
		return ErrBridgeNotStarted
	}
	cancel := b.cancel
	b.cancel = nil
	b.closed.Store(true)
	b.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("session event bridge stopped cleanly")
		return nil
	case <-time.After(b.shutdownTimeout):
		b.logger.Warn("session event bridge shutdown timeout exceeded - queued events may be lost",
			slog.Duration("timeout", b.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", b.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (b *Bridge) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- b.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = b.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				_ = b.Stop()
				return nil
			}
			return err
		}
	}
}

// Stats returns current bridge statistics.
func (b *Bridge) Stats() BridgeStats {
	b.mu.Lock()
	running := b.cancel != nil
	b.mu.Unlock()

	b.listenersMu.RLock()
	listeners := len(b.listeners)
	b.listenersMu.RUnlock()

	queued := 0
	for _, sh := range b.shards {
		queued += len(sh.queue)
	}

	var last time.Time
	if ts := b.lastActivityAt.Load(); ts > 0 {
		last = time.Unix(0, ts)
	}

	return BridgeStats{
		Published:        b.published.Load(),
		Delivered:        b.delivered.Load(),
		Duplicates:       b.duplicates.Load(),
		ListenerFailures: b.listenerFailures.Load(),
		Resubscribes:     b.resubscribes.Load(),
		Listeners:        listeners,
		Queued:           queued,
		IsRunning:        running,
		LastActivityAt:   last,
	}
}

// Healthcheck returns nil while the bridge is able to deliver events.
func (b *Bridge) Healthcheck(ctx context.Context) error {
	if b.closed.Load() {
		return errors.Join(ErrHealthcheckFailed, ErrBridgeClosed)
	}
	if b.sync {
		return nil
	}
	if !b.Stats().IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrBridgeNotStarted)
	}
	return nil
}

func (b *Bridge) shardFor(sessionID string) *shard {
	return b.shards[murmur3.Sum32([]byte(sessionID))%uint32(len(b.shards))]
}

func (b *Bridge) work(ctx context.Context, sh *shard) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			// Deliver what is already queued; listeners get a context that outlives shutdown.
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case e := <-sh.queue:
					b.handle(drainCtx, sh, e)
				default:
					return
				}
			}
		case e := <-sh.queue:
			b.handle(ctx, sh, e)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, sh *shard, e Event) {
	sh.mu.Lock()
	ok := sh.seen.admit(e, b.now())
	sh.mu.Unlock()

	if !ok {
		b.duplicates.Add(1)
		b.logger.DebugContext(ctx, "duplicate session event dropped",
			logger.SessionID(e.SessionID),
			logger.EventKind(e.Kind),
			logger.Source(e.Source))
		return
	}

	b.dispatch(ctx, e)
}

func (b *Bridge) dispatch(ctx context.Context, e Event) {
	b.listenersMu.RLock()
	listeners := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		listeners = append(listeners, b.listeners[id])
	}
	b.listenersMu.RUnlock()

	ctx = WithEventMeta(ctx, e)
	for _, l := range listeners {
		if err := b.deliver(ctx, l, e); err != nil {
			b.listenerFailures.Add(1)
			b.logger.ErrorContext(ctx, "session event listener failed",
				logger.EventID(e.ID),
				logger.SessionID(e.SessionID),
				logger.EventKind(e.Kind),
				logger.Error(err))
		}
	}

	b.delivered.Add(1)
	b.lastActivityAt.Store(time.Now().UnixNano())
}

func (b *Bridge) deliver(ctx context.Context, l Listener, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.OnSessionEvent(ctx, e)
}

func (b *Bridge) runFeed(ctx context.Context, f Feed) {
	defer b.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.backoffInitial
	bo.MaxInterval = b.backoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		started := time.Now()
		err := f.Subscribe(ctx, b.Publish)
		if ctx.Err() != nil {
			return
		}

		// A subscription that stayed up for a while starts the backoff over.
		if time.Since(started) > b.backoffMax {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		b.resubscribes.Add(1)
		b.logger.WarnContext(ctx, "session change feed dropped, resubscribing",
			slog.String("feed", f.Name()),
			slog.Duration("retry_in", wait),
			logger.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
