package mysql

import "errors"

var (
	ErrEmptyDSN                 = errors.New("empty mysql dsn, use MYSQL_DSN env var")
	ErrFailedToParseDSN         = errors.New("failed to parse mysql dsn")
	ErrFailedToOpenDBConnection = errors.New("failed to open mysql connection")
	ErrHealthcheckFailed        = errors.New("mysql healthcheck failed")
	ErrFailedToApplyMigrations  = errors.New("failed to apply migrations")
	ErrNoMigrations             = errors.New("no migrations provided")
)
