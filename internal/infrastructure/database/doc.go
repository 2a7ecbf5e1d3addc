// Package database provides the SQLite connection used by the local device
// registry.
//
// The database is a single file opened through mattn/go-sqlite3 with foreign
// keys enabled and, optionally, WAL journaling. A single connection is kept
// open because SQLite serialises writers anyway.
//
// Schema changes are plain SQL files named
//
//	YYYYMMDD_HHMMSS_description.up.sql
//	YYYYMMDD_HHMMSS_description.down.sql
//
// read from an fs.FS (normally the embedded migrations package). Each
// pending migration runs in its own transaction and is recorded in the
// schema_migrations table.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
