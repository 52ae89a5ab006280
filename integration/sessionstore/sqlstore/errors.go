package sqlstore

import "errors"

var (
	ErrUnknownDialect   = errors.New("unknown sql dialect")
	ErrInvalidTableName = errors.New("invalid session table name")
	ErrNilDB            = errors.New("sql database handle is nil")
	ErrMigrationSource  = errors.New("invalid session schema migration")
)
