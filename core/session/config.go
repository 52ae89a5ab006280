package session

import (
	"log/slog"
	"time"
)

// Config holds repository settings. Every field can be loaded from the environment.
type Config struct {
	// MaxInactiveInterval is the default idle timeout of new sessions.
	MaxInactiveInterval time.Duration `env:"SESSION_MAX_INACTIVE_INTERVAL" envDefault:"30m"`
	FlushMode           FlushMode     `env:"SESSION_FLUSH_MODE" envDefault:"on_save"`
	SaveMode            SaveMode      `env:"SESSION_SAVE_MODE" envDefault:"on_set_attribute"`

	// Namespace isolates tenants sharing one store: Redis key prefix, SQL table, Mongo collection.
	Namespace string `env:"SESSION_NAMESPACE" envDefault:"session" validate:"required"`

	// TouchInterval is the minimum time between activity writes made by Repository.Touch (0 = every call).
	TouchInterval time.Duration `env:"SESSION_TOUCH_INTERVAL" envDefault:"0s" validate:"gte=0"`
	// OperationTimeout bounds every store call (0 = caller context only).
	OperationTimeout time.Duration `env:"SESSION_OPERATION_TIMEOUT" envDefault:"0s" validate:"gte=0"`
	// PublishUpdated enables Updated events after non-initial saves.
	PublishUpdated bool `env:"SESSION_PUBLISH_UPDATED" envDefault:"false"`

	// ExpirationGranularity is the width of an expiration bucket.
	ExpirationGranularity time.Duration `env:"SESSION_EXPIRATION_GRANULARITY" envDefault:"1m" validate:"gte=0"`
	// CleanupCron is a seconds-enabled cron expression for the sweeper.
	CleanupCron string `env:"SESSION_CLEANUP_CRON" envDefault:"0 * * * * *" validate:"required"`
	// CleanupBatchSize limits how many store-reported expired ids one sweep handles.
	CleanupBatchSize int `env:"SESSION_CLEANUP_BATCH_SIZE" envDefault:"100" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		MaxInactiveInterval:   30 * time.Minute,
		FlushMode:             FlushOnSave,
		SaveMode:              SaveOnSetAttribute,
		Namespace:             "session",
		ExpirationGranularity: time.Minute,
		CleanupCron:           "0 * * * * *",
		CleanupBatchSize:      100,
	}
}

// Option configures a Repository.
type Option func(*Repository)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(r *Repository) {
		r.cfg = cfg
	}
}

// WithMaxInactiveInterval sets the default idle timeout of new sessions.
func WithMaxInactiveInterval(d time.Duration) Option {
	return func(r *Repository) {
		r.cfg.MaxInactiveInterval = d
	}
}

// WithFlushMode sets when mutations are written.
func WithFlushMode(m FlushMode) Option {
	return func(r *Repository) {
		r.cfg.FlushMode = m
	}
}

// WithSaveMode sets which attributes are written on save.
func WithSaveMode(m SaveMode) Option {
	return func(r *Repository) {
		r.cfg.SaveMode = m
	}
}

// WithTouchInterval sets the minimum time between activity writes.
// This reduces write operations for busy sessions.
func WithTouchInterval(d time.Duration) Option {
	return func(r *Repository) {
		r.cfg.TouchInterval = d
	}
}

// WithOperationTimeout bounds every store call.
func WithOperationTimeout(d time.Duration) Option {
	return func(r *Repository) {
		r.cfg.OperationTimeout = d
	}
}

// WithUpdatedEvents enables Updated events.
func WithUpdatedEvents(enabled bool) Option {
	return func(r *Repository) {
		r.cfg.PublishUpdated = enabled
	}
}

// WithIndexResolver replaces the default principal name resolver.
func WithIndexResolver(resolver IndexResolver) Option {
	return func(r *Repository) {
		if resolver != nil {
			r.resolver = resolver
		}
	}
}

// WithIDGenerator replaces the default random id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(r *Repository) {
		if gen != nil {
			r.idGenerator = gen
		}
	}
}

// WithPublisher sets where lifecycle events are published, usually an *event.Bridge.
func WithPublisher(p Publisher) Option {
	return func(r *Repository) {
		r.publisher = p
	}
}

// WithTracker shares an expiration tracker between repositories.
func WithTracker(t *ExpirationTracker) Option {
	return func(r *Repository) {
		if t != nil {
			r.tracker = t
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger configures structured logging for repository operations.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}
