package event

import (
	"log/slog"
	"time"
)

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithListener subscribes one or more listeners at construction time.
func WithListener(listeners ...Listener) BridgeOption {
	return func(b *Bridge) {
		for _, l := range listeners {
			if l != nil {
				b.Subscribe(l)
			}
		}
	}
}

// WithFeed attaches store-native change feeds. They run while the bridge is started.
func WithFeed(feeds ...Feed) BridgeOption {
	return func(b *Bridge) {
		b.Attach(feeds...)
	}
}

// WithShards sets the number of ordered delivery queues. Events of one
// session id always use the same queue. Default is 8.
func WithShards(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.shardCount = n
		}
	}
}

// WithBufferSize sets the capacity of each delivery queue. Default is 256.
func WithBufferSize(size int) BridgeOption {
	return func(b *Bridge) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithDedupeWindow sets how long delivered lifecycle events are remembered
// for duplicate suppression. Default is 10 minutes.
func WithDedupeWindow(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.dedupeWindow = d
		}
	}
}

// WithDedupeLimit bounds the number of remembered session ids per queue. Default is 100000.
func WithDedupeLimit(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.dedupeLimit = n
		}
	}
}

// WithSyncDelivery makes Publish deliver in the caller's goroutine.
// Useful for tests and for applications without a running bridge.
func WithSyncDelivery() BridgeOption {
	return func(b *Bridge) {
		b.sync = true
	}
}

// WithShutdownTimeout configures how long Stop waits for queued events to drain.
func WithShutdownTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}

// WithResubscribeBackoff bounds the delay between feed resubscription attempts.
func WithResubscribeBackoff(initial, max time.Duration) BridgeOption {
	return func(b *Bridge) {
		if initial > 0 {
			b.backoffInitial = initial
		}
		if max > 0 {
			b.backoffMax = max
		}
	}
}

// WithBridgeLogger configures structured logging for bridge operations.
// Use logger.Nop() to disable logging.
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBridgeClock overrides the time source used for dedupe bookkeeping.
func WithBridgeClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}
