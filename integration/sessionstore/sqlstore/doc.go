// Package sqlstore implements session.Store on PostgreSQL and MySQL through database/sql.
//
// A session occupies three tables derived from one base name:
//
//	<table>             one row per session: surrogate primary_id, session_id,
//	                    times in unix milliseconds and a nullable expiry_time
//	<table>_attributes  serialized attribute values keyed by primary_id
//	<table>_indexes     index name and value pairs keyed by primary_id
//
// Child rows reference the session row with ON DELETE CASCADE, and renaming a
// session updates session_id only. Every Apply runs in a transaction; deletes
// lock the row with SELECT ... FOR UPDATE so an expiry check and a concurrent
// touch cannot interleave. expiry_time is indexed, which lets the sweeper find
// expired rows with ScanExpired.
//
// The schema ships as goose migrations rendered for a dialect and table name:
//
//	migrations, err := sqlstore.Migrations(sqlstore.Postgres, "sessions")
//	if err != nil {
//	    return err
//	}
//	if err := pg.Migrate(ctx, db, cfg, log, migrations...); err != nil {
//	    return err
//	}
//	store, err := sqlstore.New(db, sqlstore.Postgres)
//
// Calls made with a context from WithTx join that transaction, so session
// writes can commit together with application data:
//
//	tx, _ := db.BeginTx(ctx, nil)
//	ctx = sqlstore.WithTx(ctx, tx)
//	_ = repo.Save(ctx, sess)
//	_ = tx.Commit()
package sqlstore
