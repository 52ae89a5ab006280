package event

import "context"

// PublishFunc hands a normalized event to the bridge.
type PublishFunc func(ctx context.Context, e Event) error

// Feed is a store-native change source, such as Redis keyspace notifications
// or a MongoDB change stream.
//
// Subscribe blocks while the subscription is healthy and returns when it drops
// or ctx is cancelled. The bridge resubscribes with backoff until ctx is done.
type Feed interface {
	Name() string
	Subscribe(ctx context.Context, publish PublishFunc) error
}
