package mysql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

// Config holds MySQL connection settings.
type Config struct {
	DSN             string        `env:"MYSQL_DSN,required"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"10" validate:"gte=1"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"5" validate:"gte=0"`
	MaxConnIdleTime time.Duration `env:"MYSQL_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime time.Duration `env:"MYSQL_MAX_CONN_LIFETIME" envDefault:"30m"`
	RetryAttempts   int           `env:"MYSQL_RETRY_ATTEMPTS" envDefault:"3" validate:"gte=0"`
	RetryInterval   time.Duration `env:"MYSQL_RETRY_INTERVAL" envDefault:"5s"`
	MigrationsTable string        `env:"MYSQL_MIGRATIONS_TABLE" envDefault:"session_schema_migrations"`
}

// ParseDSN validates dsn and forces the options the session store depends on:
// parseTime for DATETIME columns and a UTC location.
func ParseDSN(dsn string) (*mysql.Config, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDSN, err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c, nil
}

// Connect opens a pool and waits until it answers a ping.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	mc, err := ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenDBConnection, err)
	}
	db := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)

	bo := backoff.NewExponentialBackOff()
	if cfg.RetryInterval > 0 {
		bo.InitialInterval = cfg.RetryInterval
	}
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(cfg.RetryAttempts, 0))), ctx)

	if err := backoff.Retry(func() error { return db.PingContext(ctx) }, policy); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrFailedToOpenDBConnection, err)
	}
	return db, nil
}

// Healthcheck returns a function that pings the database.
func Healthcheck(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

// Migrate applies the given goose migrations, recording versions in cfg.MigrationsTable.
func Migrate(ctx context.Context, db *sql.DB, cfg Config, log *slog.Logger, migrations ...*goose.Migration) error {
	if len(migrations) == 0 {
		return ErrNoMigrations
	}

	table := cfg.MigrationsTable
	if table == "" {
		table = "session_schema_migrations"
	}
	store, err := database.NewStore(database.DialectMySQL, table)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	provider, err := goose.NewProvider("", db, nil,
		goose.WithStore(store),
		goose.WithGoMigrations(migrations...),
	)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	if log != nil {
		for _, r := range results {
			log.InfoContext(ctx, "migration applied",
				slog.Int64("version", r.Source.Version),
				slog.Duration("duration", r.Duration))
		}
	}
	return nil
}

// IsDuplicateEntry reports whether err is a MySQL duplicate entry error.
func IsDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == 1062
}
