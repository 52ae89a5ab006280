package event

import "context"

type eventIDCtx struct{}

// WithEventID attaches an event ID to the context.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDCtx{}, id)
}

// EventID extracts the event ID from the context.
// Returns empty string if not present.
func EventID(ctx context.Context) string {
	if id, ok := ctx.Value(eventIDCtx{}).(string); ok {
		return id
	}
	return ""
}

type eventKindCtx struct{}

// WithEventKind attaches the event kind to the context.
func WithEventKind(ctx context.Context, kind Kind) context.Context {
	return context.WithValue(ctx, eventKindCtx{}, kind)
}

// EventKind extracts the event kind from the context.
// Returns zero if not present.
func EventKind(ctx context.Context) Kind {
	if k, ok := ctx.Value(eventKindCtx{}).(Kind); ok {
		return k
	}
	return 0
}

// WithEventMeta attaches the event ID and kind to the context passed to listeners.
func WithEventMeta(ctx context.Context, e Event) context.Context {
	return WithEventKind(WithEventID(ctx, e.ID), e.Kind)
}
