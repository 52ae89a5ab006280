package sqlstore_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/integration/sessionstore/sqlstore"
)

func TestMigrations(t *testing.T) {
	t.Parallel()

	for _, d := range []sqlstore.Dialect{sqlstore.Postgres, sqlstore.MySQL} {
		t.Run(d.String(), func(t *testing.T) {
			t.Parallel()

			migrations, err := sqlstore.Migrations(d, "app_sessions")
			require.NoError(t, err)
			require.Len(t, migrations, 1)
			assert.Equal(t, int64(1), migrations[0].Version)

			up, down, err := sqlstore.Schema(d, "app_sessions")
			require.NoError(t, err)
			require.Len(t, up, 1)

			joined := strings.Join(up[0], "\n")
			assert.NotContains(t, joined, "{{TABLE_NAME}}")
			assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS app_sessions (")
			assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS app_sessions_attributes (")
			assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS app_sessions_indexes (")
			for _, stmt := range up[0] {
				assert.False(t, strings.HasSuffix(stmt, ";"), "statement keeps its terminator: %s", stmt)
			}

			assert.Equal(t, []string{
				"DROP TABLE IF EXISTS app_sessions_indexes",
				"DROP TABLE IF EXISTS app_sessions_attributes",
				"DROP TABLE IF EXISTS app_sessions",
			}, down[0])
		})
	}
}

func TestMigrations_PostgresStatements(t *testing.T) {
	t.Parallel()

	up, _, err := sqlstore.Schema(sqlstore.Postgres, "sessions")
	require.NoError(t, err)
	assert.Len(t, up[0], 6)
	assert.Contains(t, up[0], "CREATE UNIQUE INDEX IF NOT EXISTS sessions_session_id_idx ON sessions (session_id)")
}

func TestMigrations_InvalidTable(t *testing.T) {
	t.Parallel()

	for _, table := range []string{"", "1sessions", "sessions; DROP TABLE users", "app.sessions"} {
		_, err := sqlstore.Migrations(sqlstore.Postgres, table)
		assert.ErrorIs(t, err, sqlstore.ErrInvalidTableName, table)
	}
}
