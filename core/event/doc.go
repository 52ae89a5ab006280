// Package event normalizes session lifecycle notifications into a single stream.
//
// Sessions emit four kinds of events: Created, Updated, Expired and Deleted.
// They come from the repository itself (saves, deletes, lazy expiry), from the
// expiration sweeper, and from store-native change feeds such as Redis keyspace
// notifications or MongoDB change streams.
//
// # Bridge
//
// Bridge owns the publish/subscribe channel. Producers call Publish; listeners
// register with Subscribe. Events are queued on bounded channels sharded by
// session id, so a slow listener never blocks a store goroutine and events of a
// single session are delivered in publish order.
//
//	bridge := event.NewBridge(
//		event.WithBridgeLogger(log),
//		event.WithFeed(feed),
//	)
//	unsubscribe := bridge.Subscribe(event.ListenerFunc(func(ctx context.Context, e event.Event) error {
//		log.Info("session event", "kind", e.Kind, "session_id", e.SessionID)
//		return nil
//	}))
//	defer unsubscribe()
//
//	eg.Go(bridge.Run(ctx))
//
// # Delivery guarantees
//
// For a single session id Created precedes any terminal event, and only the
// first terminal event (Expired or Deleted) is delivered; later ones are
// dropped, as is anything arriving after it. Duplicate suppression is local to
// a bridge and bounded in time, so across processes and feed reconnects the
// stream is at-least-once and listeners must tolerate repeats.
//
// A listener that returns an error or panics is logged and counted in Stats;
// delivery continues with the next listener and the next event.
//
// # Feeds
//
// A Feed blocks in Subscribe while its store subscription is healthy. When it
// returns early the bridge waits with exponential backoff and subscribes again.
// Feeds are a latency optimization: the repository's expiration sweep remains
// the source of truth for expiry.
//
// # Testing
//
// WithSyncDelivery delivers inside Publish, which keeps tests deterministic:
//
//	bridge := event.NewBridge(event.WithSyncDelivery())
package event
