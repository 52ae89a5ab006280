package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/sessionkit/core/session"
	"github.com/dmitrymomot/sessionkit/core/sessionhttp"
)

// MessageHandler serves an upgraded connection bound to sess. The connection
// is closed and unregistered when it returns.
type MessageHandler func(ctx context.Context, sess *session.Session, conn *websocket.Conn) error

type handlerConfig struct {
	upgrader       *websocket.Upgrader
	responseHeader http.Header
	onConnect      func(context.Context, *websocket.Conn) error
	onDisconnect   func(context.Context, *websocket.Conn)
	onError        func(context.Context, error)
}

// Option configures Handler.
type Option func(*handlerConfig)

func WithReadBuffer(size int) Option {
	return func(c *handlerConfig) {
		c.upgrader.ReadBufferSize = size
	}
}

func WithWriteBuffer(size int) Option {
	return func(c *handlerConfig) {
		c.upgrader.WriteBufferSize = size
	}
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *handlerConfig) {
		c.upgrader.HandshakeTimeout = timeout
	}
}

func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(c *handlerConfig) {
		c.upgrader.CheckOrigin = fn
	}
}

func WithAllowAnyOrigin() Option {
	return func(c *handlerConfig) {
		c.upgrader.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

func WithSubprotocols(protocols ...string) Option {
	return func(c *handlerConfig) {
		c.upgrader.Subprotocols = protocols
	}
}

func WithUpgradeHeaders(header http.Header) Option {
	return func(c *handlerConfig) {
		c.responseHeader = header
	}
}

func WithOnConnect(fn func(context.Context, *websocket.Conn) error) Option {
	return func(c *handlerConfig) {
		c.onConnect = fn
	}
}

func WithOnDisconnect(fn func(context.Context, *websocket.Conn)) Option {
	return func(c *handlerConfig) {
		c.onDisconnect = fn
	}
}

func WithErrorHandler(fn func(context.Context, error)) Option {
	return func(c *handlerConfig) {
		c.onError = fn
	}
}

// Handler upgrades requests that carry a live session and registers the
// connection in reg under the session id. It must run behind
// sessionhttp.Middleware. Requests without a session get 401, and a failing
// session store gets 503.
func Handler(reg *Registry, fn MessageHandler, opts ...Option) http.Handler {
	cfg := &handlerConfig{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sess, err := sessionhttp.Get(ctx, false)
		if err != nil {
			cfg.fail(ctx, err)
			code := http.StatusInternalServerError
			if errors.Is(err, session.ErrStoreUnavailable) {
				code = http.StatusServiceUnavailable
			}
			http.Error(w, http.StatusText(code), code)
			return
		}
		if sess == nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		conn, err := cfg.upgrader.Upgrade(w, r, cfg.responseHeader)
		if err != nil {
			cfg.fail(ctx, err)
			return
		}

		unregister := reg.Register(sess.ID(), conn)
		defer func() {
			unregister()
			_ = conn.Close()
			if cfg.onDisconnect != nil {
				cfg.onDisconnect(ctx, conn)
			}
		}()

		if cfg.onConnect != nil {
			if err := cfg.onConnect(ctx, conn); err != nil {
				cfg.fail(ctx, err)
				return
			}
		}

		if err := fn(ctx, sess, conn); err != nil {
			cfg.fail(ctx, err)
		}
	})
}

func (c *handlerConfig) fail(ctx context.Context, err error) {
	if c.onError != nil {
		c.onError(ctx, err)
	}
}

// ReadLoop reads messages until the peer or the registry closes the connection,
// passing each one to onMessage. A normal or session-ended close returns nil.
func ReadLoop(conn *websocket.Conn, onMessage func(messageType int, data []byte) error) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, CloseSessionEnded) {
				return err
			}
			return nil
		}
		if onMessage == nil {
			continue
		}
		if err := onMessage(msgType, data); err != nil {
			return err
		}
	}
}
