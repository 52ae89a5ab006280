package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/sessionkit/core/config"
	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/logger"
)

// Publisher receives lifecycle events produced by the repository.
// *event.Bridge satisfies it.
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// Event sources reported by the repository.
const (
	SourceRepository = "repository"
	SourceSweeper    = "sweeper"
)

// Repository implements create, save, load, delete and find-by-index on top of
// a Store. It applies lazy expiration to every store, keeps the expiration
// tracker current and publishes lifecycle events.
//
// Concurrent saves of the same session id are not serialized: the last write
// wins at the granularity of the store's write operation (a hash field, a row,
// a document). No cross-field atomicity is assumed beyond what the store gives.
type Repository struct {
	store       Store
	cfg         Config
	resolver    IndexResolver
	idGenerator IDGenerator
	publisher   Publisher
	tracker     *ExpirationTracker
	now         func() time.Time
	logger      *slog.Logger
}

// NewRepository creates a repository backed by store.
//
// Example:
//
//	repo, err := session.NewRepository(store,
//	    session.WithConfig(cfg.Session),
//	    session.WithPublisher(bridge),
//	    session.WithLogger(log),
//	)
func NewRepository(store Store, opts ...Option) (*Repository, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	r := &Repository{
		store:       store,
		cfg:         DefaultConfig(),
		resolver:    PrincipalNameResolver{},
		idGenerator: defaultIDGenerator,
		now:         time.Now,
		logger:      logger.Nop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if err := config.Validate(r.cfg); err != nil {
		return nil, err
	}

	if r.tracker == nil {
		r.tracker = NewExpirationTracker(r.cfg.ExpirationGranularity, 0)
	}

	return r, nil
}

// Config returns the effective configuration.
func (r *Repository) Config() Config { return r.cfg }

// Tracker returns the expiration tracker.
func (r *Repository) Tracker() *ExpirationTracker { return r.tracker }

// Store returns the backing store.
func (r *Repository) Store() Store { return r.store }

// CreateSession allocates a new session. Nothing is written until the first save.
func (r *Repository) CreateSession(ctx context.Context) (*Session, error) {
	id, err := r.idGenerator.GenerateID()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidSessionID
	}
	return newSession(r, id, r.now(), r.cfg.MaxInactiveInterval), nil
}

// Save persists the session's unsaved changes.
// A session without changes is not written. On failure the changes are kept so
// the save can be retried.
func (r *Repository) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return ErrInvalidSessionID
	}
	if !s.HasChanges() {
		return nil
	}

	indexes := r.resolver.Resolve(s.attrs)
	rec := s.Record()
	rec.Indexes = indexes

	m := Mutation{
		ID:      s.id,
		IsNew:   s.isNew,
		Record:  rec,
		Delta:   s.delta.clone(),
		Indexes: diffIndexes(s.indexes, indexes),
	}
	if !s.isNew && s.originalID != s.id {
		m.PreviousID = s.originalID
	}

	opCtx, cancel := r.withTimeout(ctx)
	err := r.store.Apply(opCtx, m)
	cancel()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to save session",
			logger.SessionID(s.id),
			logger.Error(err))
		return err
	}

	s.markSaved(indexes)

	if m.PreviousID != "" {
		r.tracker.Untrack(m.PreviousID)
	}
	if m.IsNew || m.PreviousID != "" ||
		m.Delta.Fields.Has(FieldLastAccessedTime) || m.Delta.Fields.Has(FieldMaxInactiveInterval) {
		r.tracker.Track(s.id, s.ExpiresAt())
	}

	switch {
	case m.IsNew:
		r.publish(ctx, event.Created, s.id, rec, SourceRepository)
	case r.cfg.PublishUpdated:
		r.publish(ctx, event.Updated, s.id, rec, SourceRepository)
	}

	return nil
}

// FindByID loads a session. It returns nil and no error when the session does
// not exist or is expired; an expired record is deleted and announced.
func (r *Repository) FindByID(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}

	rec, err := r.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if now := r.now(); rec.IsExpired(now) {
		if _, err := r.expire(ctx, id, now, SourceRepository); err != nil {
			r.logger.WarnContext(ctx, "failed to remove expired session",
				logger.SessionID(id),
				logger.Error(err))
		}
		return nil, nil
	}

	return loadedSession(r, rec, r.cfg.SaveMode), nil
}

// DeleteByID removes the session and its index entries. Deleting an absent id is not an error.
func (r *Repository) DeleteByID(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	opCtx, cancel := r.withTimeout(ctx)
	rec, err := r.store.Delete(opCtx, id)
	cancel()
	r.tracker.Untrack(id)

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	r.publish(ctx, event.Deleted, id, rec, SourceRepository)
	return nil
}

// FindByIndexNameAndIndexValue returns the valid sessions referenced by an index entry.
// Index entries pointing at missing sessions are removed along the way.
func (r *Repository) FindByIndexNameAndIndexValue(ctx context.Context, name, value string) (map[string]*Session, error) {
	opCtx, cancel := r.withTimeout(ctx)
	ids, err := r.store.FindIDsByIndex(opCtx, name, value)
	cancel()
	if err != nil {
		return nil, err
	}

	result := make(map[string]*Session, len(ids))
	now := r.now()
	for _, id := range ids {
		rec, err := r.load(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			r.healIndex(ctx, name, value, id)
			continue
		case err != nil:
			return nil, err
		}

		if rec.IsExpired(now) {
			if _, err := r.expire(ctx, id, now, SourceRepository); err != nil {
				r.logger.WarnContext(ctx, "failed to remove expired session",
					logger.SessionID(id),
					logger.Error(err))
			}
			continue
		}
		if rec.Indexes[name] != value {
			r.healIndex(ctx, name, value, id)
			continue
		}

		result[id] = loadedSession(r, rec, r.cfg.SaveMode)
	}

	return result, nil
}

// FindByPrincipalName returns the valid sessions of a principal.
func (r *Repository) FindByPrincipalName(ctx context.Context, principal string) (map[string]*Session, error) {
	return r.FindByIndexNameAndIndexValue(ctx, PrincipalNameIndexName, principal)
}

// InvalidatePrincipalSessions deletes every session of principal except keepID
// and returns how many were removed.
func (r *Repository) InvalidatePrincipalSessions(ctx context.Context, principal, keepID string) (int, error) {
	sessions, err := r.FindByPrincipalName(ctx, principal)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs []error
	)
	for id := range sessions {
		if id == keepID {
			continue
		}
		if err := r.DeleteByID(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Touch records activity on s, at most once per configured touch interval.
func (r *Repository) Touch(ctx context.Context, s *Session) error {
	now := r.now()
	if r.cfg.TouchInterval > 0 && now.Sub(s.lastAccessedTime) < r.cfg.TouchInterval {
		return nil
	}
	return s.SetLastAccessedTime(ctx, now)
}

// CleanupExpired removes sessions that are due according to the tracker and,
// when supported, the store's own expiry index. Every candidate is re-checked
// by the store before removal, so a session extended concurrently survives.
// It returns the number of expired sessions.
func (r *Repository) CleanupExpired(ctx context.Context) (int, error) {
	now := r.now()
	candidates := r.tracker.Due(now)

	var errs []error
	if scanner, ok := r.store.(ExpiredScanner); ok && r.cfg.CleanupBatchSize > 0 {
		opCtx, cancel := r.withTimeout(ctx)
		ids, err := scanner.ScanExpired(opCtx, now, r.cfg.CleanupBatchSize)
		cancel()
		if err != nil {
			errs = append(errs, err)
		}
		candidates = append(candidates, ids...)
	}

	seen := make(map[string]struct{}, len(candidates))
	expired := 0
	for i, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			for _, rest := range candidates[i:] {
				r.retryLater(rest, now)
			}
			break
		}

		ok, err := r.expire(ctx, id, now, SourceSweeper)
		if err != nil {
			errs = append(errs, err)
			r.retryLater(id, now)
			continue
		}
		if ok {
			expired++
		}
	}

	return expired, errors.Join(errs...)
}

// retryLater puts a popped candidate back so the next sweep checks it again.
// An id tracked again in the meantime keeps its newer bucket.
func (r *Repository) retryLater(id string, now time.Time) {
	if _, ok := r.tracker.Bucket(id); ok {
		return
	}
	r.tracker.Track(id, now)
}

// Healthcheck pings the store when it supports it.
func (r *Repository) Healthcheck(ctx context.Context) error {
	p, ok := r.store.(Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}

// expire deletes id if the store still considers it expired at now.
// A session that was extended in the meantime is re-tracked and skipped.
func (r *Repository) expire(ctx context.Context, id string, now time.Time, source string) (bool, error) {
	opCtx, cancel := r.withTimeout(ctx)
	rec, deleted, err := r.store.DeleteIfExpired(opCtx, id, now)
	cancel()
	if err != nil {
		return false, err
	}

	if !deleted {
		if rec != nil {
			r.logger.DebugContext(ctx, "session extended before expiry, skipping",
				logger.SessionID(id))
			r.tracker.Track(id, rec.ExpiresAt())
		} else {
			r.tracker.Untrack(id)
		}
		return false, nil
	}

	r.tracker.Untrack(id)
	r.publish(ctx, event.Expired, id, rec, source)
	return true, nil
}

func (r *Repository) load(ctx context.Context, id string) (*Record, error) {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.store.Load(opCtx, id)
}

func (r *Repository) healIndex(ctx context.Context, name, value, id string) {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.store.RemoveIndexEntry(opCtx, name, value, id); err != nil {
		r.logger.WarnContext(ctx, "failed to remove dangling index entry",
			slog.String("index", name),
			logger.SessionID(id),
			logger.Error(err))
		return
	}
	r.logger.DebugContext(ctx, "removed dangling index entry",
		slog.String("index", name),
		logger.SessionID(id))
}

func (r *Repository) publish(ctx context.Context, kind event.Kind, id string, rec *Record, source string) {
	if r.publisher == nil {
		return
	}
	e := event.New(kind, id, Snapshot(rec), source)
	e.OccurredAt = r.now()
	if err := r.publisher.Publish(ctx, e); err != nil {
		r.logger.WarnContext(ctx, "failed to publish session event",
			logger.SessionID(id),
			logger.EventKind(kind),
			logger.Error(err))
	}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.OperationTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.OperationTimeout)
	}
	return ctx, func() {}
}

// Snapshot converts a record into an event snapshot. It returns nil for a nil record.
func Snapshot(rec *Record) *event.Snapshot {
	if rec == nil {
		return nil
	}
	c := rec.Clone()
	return &event.Snapshot{
		ID:                  c.ID,
		CreationTime:        c.CreationTime,
		LastAccessedTime:    c.LastAccessedTime,
		MaxInactiveInterval: c.MaxInactiveInterval,
		Attributes:          c.Attributes,
		Indexes:             c.Indexes,
	}
}
