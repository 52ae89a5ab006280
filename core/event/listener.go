package event

import (
	"context"
	"slices"
)

// Listener receives session lifecycle events.
// Delivery is at-least-once, so terminal events may arrive more than once across processes.
type Listener interface {
	OnSessionEvent(ctx context.Context, e Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e Event) error

// OnSessionEvent calls f.
func (f ListenerFunc) OnSessionEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// OnKinds wraps l so that it only sees the given kinds.
//
// Example:
//
//	bridge.Subscribe(event.OnKinds(registry, event.Expired, event.Deleted))
func OnKinds(l Listener, kinds ...Kind) Listener {
	return ListenerFunc(func(ctx context.Context, e Event) error {
		if !slices.Contains(kinds, e.Kind) {
			return nil
		}
		return l.OnSessionEvent(ctx, e)
	})
}

// OnDestroyed wraps l so that it only sees Expired and Deleted events.
func OnDestroyed(l Listener) Listener {
	return OnKinds(l, Expired, Deleted)
}
