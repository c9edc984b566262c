// Package database provides SQLite connectivity for Seedgate.
//
// This package manages:
//   - Connections with WAL mode and a busy timeout
//   - Versioned schema migrations read from an fs.FS
//   - Small fixed schemas for per-user stores (EnsureSchema)
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database files are chmod 0600 after creation
//   - Password hashes are stored, never plaintext passwords
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql and only run
// forward. A database that records a migration this build does not ship is
// refused with ErrSchemaAhead. Migrations are additive: new columns must be
// nullable or carry a default.
package database
