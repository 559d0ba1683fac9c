// Package migration applies versioned SQL schema changes to the booking guard
// SQLite database.
//
// Migration files are named {version}_{description}.sql (for example
// "001_submissions.sql") and are read from any fs.FS, typically an embedded
// directory compiled into the binary. Applied versions are tracked in the
// schema_migrations table so each file runs exactly once.
//
// Example usage:
//
//	scanner := NewFSScanner(migrationFiles, "migrations")
//	manager := NewManagerWithLogger(scanner, NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
