package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationFS embed.FS

const tablePlaceholder = "{{TABLE_NAME}}"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,47}$`)

type schemaStep struct {
	version int64
	up      []string
	down    []string
}

// Migrations returns the schema migrations for table, rendered for d.
// Pass them to pg.Migrate or mysql.Migrate.
func Migrations(d Dialect, table string) ([]*goose.Migration, error) {
	steps, err := loadSchema(d, table)
	if err != nil {
		return nil, err
	}

	out := make([]*goose.Migration, 0, len(steps))
	for _, step := range steps {
		out = append(out, goose.NewGoMigration(step.version, d.goFunc(step.up), d.goFunc(step.down)))
	}
	return out, nil
}

// goFunc runs statements inside a migration transaction where DDL is transactional.
func (d Dialect) goFunc(stmts []string) *goose.GoFunc {
	if d.numbered {
		return &goose.GoFunc{
			RunTx: func(ctx context.Context, tx *sql.Tx) error {
				return execAll(ctx, tx, stmts)
			},
		}
	}
	return &goose.GoFunc{
		RunDB: func(ctx context.Context, db *sql.DB) error {
			return execAll(ctx, db, stmts)
		},
	}
}

func execAll(ctx context.Context, q querier, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func loadSchema(d Dialect, table string) ([]schemaStep, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}

	dir := path.Join("migrations", d.name)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownDialect, err)
	}

	var steps []schemaStep
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		version, err := parseVersion(e.Name())
		if err != nil {
			return nil, err
		}
		raw, err := fs.ReadFile(migrationFS, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		up, down, err := splitMigration(strings.ReplaceAll(string(raw), tablePlaceholder, table))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		steps = append(steps, schemaStep{version: version, up: up, down: down})
	}

	slices.SortFunc(steps, func(a, b schemaStep) int { return int(a.version - b.version) })
	return steps, nil
}

func parseVersion(name string) (int64, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("%w: %s has no version prefix", ErrMigrationSource, name)
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%w: %s has no version prefix", ErrMigrationSource, name)
	}
	return v, nil
}

// splitMigration separates the goose Up and Down sections into single statements.
func splitMigration(src string) (up, down []string, err error) {
	const (
		upMarker   = "-- +goose Up"
		downMarker = "-- +goose Down"
	)

	_, rest, ok := strings.Cut(src, upMarker)
	if !ok {
		return nil, nil, errors.Join(ErrMigrationSource, errors.New("missing up section"))
	}
	upSrc, downSrc, _ := strings.Cut(rest, downMarker)

	up = splitStatements(upSrc)
	if len(up) == 0 {
		return nil, nil, errors.Join(ErrMigrationSource, errors.New("empty up section"))
	}
	return up, splitStatements(downSrc), nil
}

func splitStatements(src string) []string {
	var out []string
	for _, part := range strings.Split(src, ";\n") {
		stmt := strings.TrimSuffix(strings.TrimSpace(part), ";")
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
