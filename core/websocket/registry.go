package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/logger"
)

// CloseSessionEnded is the close code sent when the session behind a connection ends.
// 4000-4999 is the range reserved for applications.
const CloseSessionEnded = 4008

// Conn is the part of *websocket.Conn the registry needs.
type Conn interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithWriteTimeout bounds the close frame write. Default is 1s.
func WithWriteTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithRegistryLogger configures structured logging for the registry.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry tracks open WebSocket connections per session id and closes them
// when the session expires or is deleted. It implements event.Listener.
//
// Connections are keyed by the session id at upgrade time; a later ChangeID
// does not move them.
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[Conn]struct{}

	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:        make(map[string]map[Conn]struct{}),
		writeTimeout: time.Second,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds conn under sessionID. The returned func removes it again and is safe to call more than once.
func (r *Registry) Register(sessionID string, conn Conn) (unregister func()) {
	r.mu.Lock()
	set, ok := r.conns[sessionID]
	if !ok {
		set = make(map[Conn]struct{})
		r.conns[sessionID] = set
	}
	set[conn] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.Unregister(sessionID, conn) })
	}
}

// Unregister removes conn from sessionID without closing it.
func (r *Registry) Unregister(sessionID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.conns[sessionID]
	delete(set, conn)
	if len(set) == 0 {
		delete(r.conns, sessionID)
	}
}

// Count returns the number of connections open for sessionID.
func (r *Registry) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[sessionID])
}

// Len returns the total number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}

// OnSessionEvent implements event.Listener. Expired and Deleted events close
// every connection of the session with CloseSessionEnded.
func (r *Registry) OnSessionEvent(ctx context.Context, e event.Event) error {
	if !e.Kind.IsTerminal() {
		return nil
	}
	return r.CloseSession(ctx, e.SessionID, "session "+e.Kind.String())
}

// CloseSession sends a close frame with reason to every connection of sessionID and closes them.
func (r *Registry) CloseSession(ctx context.Context, sessionID, reason string) error {
	r.mu.Lock()
	set := r.conns[sessionID]
	delete(r.conns, sessionID)
	r.mu.Unlock()

	if len(set) == 0 {
		return nil
	}

	msg := websocket.FormatCloseMessage(CloseSessionEnded, reason)
	deadline := time.Now().Add(r.writeTimeout)

	var errs []error
	for conn := range set {
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			errs = append(errs, err)
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	r.logger.DebugContext(ctx, "closed websocket connections of ended session",
		logger.SessionID(sessionID),
		logger.Count("connections", len(set)))

	return errors.Join(errs...)
}
