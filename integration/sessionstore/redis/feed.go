package redis

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/logger"
	"github.com/dmitrymomot/sessionkit/core/session"
)

// ErrSubscriptionClosed is returned by Feed.Subscribe when Redis closes the subscription.
var ErrSubscriptionClosed = errors.New("redis subscription closed")

// Feed turns Redis notifications into session events:
//
//   - keyspace "expired" of a shadow key becomes Expired
//   - keyspace "del" of a shadow key becomes Deleted unless the session is still live
//   - a message on the created channel becomes Created
//
// Keyspace notifications must be enabled on the server with at least "Egx".
type Feed struct {
	store  *Store
	logger *slog.Logger
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithFeedLogger configures structured logging for the feed.
func WithFeedLogger(l *slog.Logger) FeedOption {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFeed creates a feed for the namespace and database of store.
func NewFeed(store *Store, opts ...FeedOption) *Feed {
	f := &Feed{store: store, logger: logger.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements event.Feed.
func (f *Feed) Name() string { return "redis:" + f.store.keys.ns }

// Subscribe implements event.Feed. It blocks until ctx is done or the subscription drops.
func (f *Feed) Subscribe(ctx context.Context, publish event.PublishFunc) error {
	k := f.store.keys
	pubsub := f.store.client.PSubscribe(ctx, k.expiredChannel(), k.delChannel(), k.createdPrefix()+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return unavailable(err)
	}
	f.logger.InfoContext(ctx, "subscribed to redis session notifications", logger.Component("redis_feed"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}
			if err := f.handleMessage(ctx, msg, publish); err != nil {
				return err
			}
		}
	}
}

// handleMessage publishes the event a notification stands for.
// Unrelated notifications are ignored. Only publish errors are returned.
func (f *Feed) handleMessage(ctx context.Context, msg *redis.Message, publish event.PublishFunc) error {
	k := f.store.keys

	var (
		kind event.Kind
		id   string
	)
	switch {
	case msg.Channel == k.expiredChannel() && strings.HasPrefix(msg.Payload, k.expiresPrefix()):
		kind, id = event.Expired, strings.TrimPrefix(msg.Payload, k.expiresPrefix())
	case msg.Channel == k.delChannel() && strings.HasPrefix(msg.Payload, k.expiresPrefix()):
		kind, id = event.Deleted, strings.TrimPrefix(msg.Payload, k.expiresPrefix())
	case strings.HasPrefix(msg.Channel, k.createdPrefix()):
		kind, id = event.Created, strings.TrimPrefix(msg.Channel, k.createdPrefix())
	default:
		return nil
	}
	if id == "" {
		return nil
	}

	// The hash outlives the shadow key, so expired sessions still have a snapshot.
	var snapshot *event.Snapshot
	rec, err := f.store.Load(ctx, id)
	switch {
	case err == nil:
		// A del on the shadow key of a live session is not a deletion.
		if kind == event.Deleted && !rec.IsExpired(f.store.now()) {
			return nil
		}
		snapshot = session.Snapshot(rec)
	case errors.Is(err, session.ErrNotFound):
	default:
		f.logger.WarnContext(ctx, "failed to load session snapshot",
			logger.SessionID(id),
			logger.Error(err))
	}

	return publish(ctx, event.New(kind, id, snapshot, f.Name()))
}
