package mongo

import (
	"context"
	"errors"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/logger"
	"github.com/dmitrymomot/sessionkit/core/session"
)

// ErrStreamClosed is returned by Feed.Subscribe when the change stream ends without an error.
var ErrStreamClosed = errors.New("mongodb change stream closed")

// Feed turns change stream events of the session collection into session events:
//
//   - an insert becomes Created
//   - a delete becomes Expired when the removed document was past its
//     expireAt, and Deleted otherwise
//
// Classifying deletions and attaching snapshots needs pre-images, see
// Store.EnablePreImages. Without them every delete is reported as Deleted
// with no snapshot. Change streams require a replica set.
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

// NewFeed creates a feed for the collection of store.
func NewFeed(store *Store, opts ...FeedOption) *Feed {
	f := &Feed{store: store, logger: logger.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements event.Feed.
func (f *Feed) Name() string { return "mongodb:" + f.store.coll.Name() }

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             *document `bson:"fullDocument"`
	FullDocumentBeforeChange *document `bson:"fullDocumentBeforeChange"`
}

// Subscribe implements event.Feed. It blocks until ctx is done or the stream fails.
func (f *Feed) Subscribe(ctx context.Context, publish event.PublishFunc) error {
	pipeline := mongodriver.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "delete"}}}},
		}}},
	}
	stream, err := f.store.coll.Watch(ctx, pipeline,
		options.ChangeStream().SetFullDocumentBeforeChange(options.WhenAvailable))
	if err != nil {
		return unavailable(err)
	}
	defer stream.Close(context.WithoutCancel(ctx))

	f.logger.InfoContext(ctx, "watching mongodb session changes", logger.Component("mongo_feed"))

	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			f.logger.WarnContext(ctx, "failed to decode change event", logger.Error(err))
			continue
		}
		if err := f.handleChange(ctx, ev, publish); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := stream.Err(); err != nil {
		return unavailable(err)
	}
	return ErrStreamClosed
}

// handleChange publishes the event a change stands for. Rename copies are skipped.
// Only publish errors are returned.
func (f *Feed) handleChange(ctx context.Context, ev changeEvent, publish event.PublishFunc) error {
	id := ev.DocumentKey.ID
	if id == "" {
		return nil
	}

	var (
		kind event.Kind
		doc  *document
	)
	switch ev.OperationType {
	case "insert":
		doc = ev.FullDocument
		if doc != nil && doc.RenamedFrom != "" {
			return nil
		}
		kind = event.Created
	case "delete":
		doc = ev.FullDocumentBeforeChange
		if doc != nil && doc.RenamedTo != "" {
			return nil
		}
		kind = event.Deleted
		if doc != nil && doc.expiredAt(f.store.now()) {
			kind = event.Expired
		}
	default:
		return nil
	}

	return publish(ctx, event.New(kind, id, f.snapshot(ctx, doc), f.Name()))
}

func (f *Feed) snapshot(ctx context.Context, doc *document) *event.Snapshot {
	if doc == nil {
		return nil
	}
	rec, err := fromDocument(doc, f.store.serializer)
	if err != nil {
		f.logger.WarnContext(ctx, "failed to decode session snapshot",
			logger.SessionID(doc.ID),
			logger.Error(err))
	}
	return session.Snapshot(rec)
}
