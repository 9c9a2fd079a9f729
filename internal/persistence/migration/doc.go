// Package migration applies versioned schema changes to the SQLite and
// PostgreSQL stores.
//
// Migration files are embedded in the binary under sql/<dialect>/ and follow
// the naming convention {version}_{description}.sql (e.g.
// "001_initial_schema.sql"). Applied versions and their checksums are kept in
// a schema_migrations table; each migration runs and is recorded in a single
// transaction.
//
// Example usage:
//
//	manager, err := migration.NewManager(db, migration.SQLite, logger)
//	if err != nil {
//		return err
//	}
//	if _, err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
