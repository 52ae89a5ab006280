// Package pg connects to PostgreSQL through pgx and applies goose migrations.
//
// Connect builds a pgxpool.Pool, retries the first ping with exponential
// backoff and returns a ready pool. OpenDB exposes the same pool through
// database/sql for stores written against *sql.DB:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	db := pg.OpenDB(pool)
//	migrations, err := sqlstore.Migrations(sqlstore.Postgres, "session")
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, db, cfg, log, migrations...); err != nil {
//		return err
//	}
//
// Migrate records applied versions in cfg.MigrationsTable, so several
// applications can share one database without clashing over goose's default
// version table.
//
// Healthcheck returns a probe suitable for readiness endpoints.
package pg
