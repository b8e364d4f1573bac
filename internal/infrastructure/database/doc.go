// Package database provides the SQLite store for service-call history.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Forward and backward schema migrations read from an fs.FS
//
// SQLite allows one writer, so the connection pool is capped at a single
// connection. Migrations each run in their own transaction and are
// recorded in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrations(migrations.FS, ".").Up(ctx); err != nil {
//	    return err
//	}
package database
