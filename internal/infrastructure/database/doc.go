// Package database provides the SQLite connection used to mirror device
// snapshots.
//
// The schema is owned by versioned migration files
// (YYYYMMDD_HHMMSS_name.up.sql / .down.sql) passed to Migrate as an fs.FS,
// normally the embedded set from the migrations package. Each migration runs
// in its own transaction and is recorded in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// The connection pool is capped at one connection: SQLite has a single
// writer and the mirror writes far more often than it reads.
package database
