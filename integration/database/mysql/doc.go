// Package mysql connects to MySQL through go-sql-driver/mysql and applies goose migrations.
//
//	db, err := mysql.Connect(ctx, mysql.Config{DSN: "user:pass@tcp(localhost:3306)/app"})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	migrations, err := sqlstore.Migrations(sqlstore.MySQL, "session")
//	if err != nil {
//		return err
//	}
//	if err := mysql.Migrate(ctx, db, cfg, log, migrations...); err != nil {
//		return err
//	}
//
// ParseDSN always enables parseTime and the UTC location.
package mysql
