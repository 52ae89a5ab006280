package sessionhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dmitrymomot/sessionkit/core/logger"
	"github.com/dmitrymomot/sessionkit/core/session"
)

type stateKey struct{}

// Option configures Middleware.
type Option func(*middleware)

// WithResolver sets how session ids travel. Default is NewCookieResolver().
func WithResolver(r IDResolver) Option {
	return func(m *middleware) {
		if r != nil {
			m.resolver = r
		}
	}
}

// WithFailOpen treats an unavailable store on load as "no session" instead of an error.
func WithFailOpen(enabled bool) Option {
	return func(m *middleware) { m.failOpen = enabled }
}

// WithErrorHandler sets the response written when loading or committing the
// session fails before anything was sent. Default is 503 for an unavailable
// store and 500 otherwise.
func WithErrorHandler(h func(w http.ResponseWriter, r *http.Request, err error)) Option {
	return func(m *middleware) {
		if h != nil {
			m.errorHandler = h
		}
	}
}

// WithSkipper bypasses session handling for requests where skip returns true.
func WithSkipper(skip func(r *http.Request) bool) Option {
	return func(m *middleware) { m.skip = skip }
}

// WithLogger configures structured logging for the middleware.
// Use logger.Nop() to disable logging.
func WithLogger(l *slog.Logger) Option {
	return func(m *middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

type middleware struct {
	repo         *session.Repository
	resolver     IDResolver
	failOpen     bool
	errorHandler func(w http.ResponseWriter, r *http.Request, err error)
	skip         func(r *http.Request) bool
	fingerprint  Fingerprinter
	logger       *slog.Logger
}

// Middleware binds a session to each request.
//
// Nothing is read from the store until a handler calls Get. Before the first
// byte of the response goes out, or after the handler returns if it wrote
// nothing, the session is saved and the id is sent to the client through the
// resolver. An invalidated session has its id expired instead.
//
//	mux.Handle("/", sessionhttp.Middleware(repo)(app))
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    sess, err := sessionhttp.Get(r.Context(), true)
//	    if err != nil {
//	        http.Error(w, "session unavailable", http.StatusServiceUnavailable)
//	        return
//	    }
//	    _ = sess.SetAttribute(r.Context(), "visited", true)
//	}
func Middleware(repo *session.Repository, opts ...Option) func(http.Handler) http.Handler {
	if repo == nil {
		panic("sessionhttp: repository is required")
	}

	m := &middleware{
		repo:         repo,
		resolver:     NewCookieResolver(),
		errorHandler: defaultErrorHandler,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.skip != nil && m.skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			st := &state{m: m, requested: m.resolver.Resolve(r)}
			r = r.WithContext(context.WithValue(r.Context(), stateKey{}, st))
			st.r = r

			rw := &responseWriter{ResponseWriter: w, st: st}
			next.ServeHTTP(rw, r)

			if rw.wroteHeader {
				return
			}
			if err := st.loadError(); err != nil {
				m.errorHandler(w, r, err)
				return
			}
			if err := st.commit(w); err != nil {
				m.errorHandler(w, r, err)
			}
		})
	}
}

// Get returns the request's session. It loads the session on first use and,
// when create is true and there is none, starts a new one.
// It returns nil and no error when there is no session and create is false.
func Get(ctx context.Context, create bool) (*session.Session, error) {
	st, ok := ctx.Value(stateKey{}).(*state)
	if !ok {
		return nil, ErrNoMiddleware
	}
	return st.get(ctx, create)
}

// Invalidate deletes the request's session, if any, and expires its id on the client.
// A later Get with create starts a fresh session.
func Invalidate(ctx context.Context) error {
	st, ok := ctx.Value(stateKey{}).(*state)
	if !ok {
		return ErrNoMiddleware
	}
	return st.invalidate(ctx)
}

// RequestedIDs returns the session ids the client sent with the request.
func RequestedIDs(ctx context.Context) []string {
	st, ok := ctx.Value(stateKey{}).(*state)
	if !ok {
		return nil
	}
	return st.requested
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, session.ErrStoreUnavailable) {
		code = http.StatusServiceUnavailable
	}
	http.Error(w, http.StatusText(code), code)
}

// state is the per-request session bookkeeping.
type state struct {
	m         *middleware
	r         *http.Request
	requested []string

	mu          sync.Mutex
	loaded      bool
	loadedID    string
	sess        *session.Session
	loadErr     error
	degraded    bool
	invalidated bool
	committed   bool
}

func (st *state) get(ctx context.Context, create bool) (*session.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if st.sess != nil || !create {
		return st.sess, nil
	}

	sess, err := st.m.repo.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	if st.m.fingerprint != nil {
		if err := sess.SetAttribute(ctx, FingerprintAttribute, st.m.fingerprint(st.r)); err != nil {
			return nil, err
		}
	}
	st.sess = sess
	return sess, nil
}

func (st *state) invalidate(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.ensureLoaded(ctx); err != nil {
		return err
	}
	if st.sess == nil {
		return nil
	}

	id := st.sess.ID()
	if !st.sess.IsNew() {
		if err := st.m.repo.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	st.sess = nil
	st.invalidated = true
	return nil
}

// ensureLoaded looks up the first requested id that names a live session.
func (st *state) ensureLoaded(ctx context.Context) error {
	if st.loaded {
		return st.loadErr
	}
	st.loaded = true

	for _, id := range st.requested {
		sess, err := st.m.repo.FindByID(ctx, id)
		if err != nil {
			if st.m.failOpen && errors.Is(err, session.ErrStoreUnavailable) {
				st.m.logger.WarnContext(ctx, "session store unavailable, continuing without session",
					logger.SessionID(id),
					logger.Error(err))
				st.degraded = true
				return nil
			}
			st.loadErr = err
			return err
		}
		if sess == nil || !st.fingerprintMatches(ctx, sess) {
			continue
		}

		if err := st.m.repo.Touch(ctx, sess); err != nil {
			st.m.logger.WarnContext(ctx, "failed to record session activity",
				logger.SessionID(id),
				logger.Error(err))
		}
		st.sess = sess
		st.loadedID = id
		return nil
	}
	return nil
}

func (st *state) fingerprintMatches(ctx context.Context, sess *session.Session) bool {
	if st.m.fingerprint == nil {
		return true
	}
	stored, _ := sess.GetAttribute(FingerprintAttribute)
	want, _ := stored.(string)
	if want == "" || want == st.m.fingerprint(st.r) {
		return true
	}
	st.m.logger.WarnContext(ctx, "session presented by a different client, ignoring it",
		logger.SessionID(sess.ID()))
	return false
}

func (st *state) loadError() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.loadErr
}

// commit saves the session and updates the client's id. It runs once.
func (st *state) commit(w http.ResponseWriter) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.committed {
		return nil
	}
	st.committed = true

	ctx := st.r.Context()
	if st.sess == nil {
		// A stale id is dropped from the client once the store confirmed it is gone.
		stale := st.loaded && st.loadErr == nil && !st.degraded && len(st.requested) > 0
		if st.invalidated || stale {
			st.m.resolver.Expire(w, st.r)
		}
		return nil
	}

	if err := st.m.repo.Save(ctx, st.sess); err != nil {
		return err
	}
	if id := st.sess.ID(); id != st.loadedID {
		st.m.resolver.Set(w, st.r, id)
	}
	return nil
}
