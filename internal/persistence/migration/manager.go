package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Dialect selects the SQL flavour of the target database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Valid reports whether d is supported.
func (d Dialect) Valid() bool {
	return d == SQLite || d == Postgres
}

func (d Dialect) placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		if d == Postgres {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

const versionTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL,
	execution_time_ms INTEGER NOT NULL
)`

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version       string
	Checksum      string
	AppliedAt     time.Time
	ExecutionTime time.Duration
}

// Status summarises the migration state of a database.
type Status struct {
	CurrentVersion string
	Applied        []AppliedMigration
	Pending        []Migration
}

// Manager applies pending migrations in version order.
type Manager struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager returns a Manager for the migrations embedded for dialect.
func NewManager(db *sql.DB, dialect Dialect, logger *zap.Logger) (*Manager, error) {
	migrations, err := Embedded(dialect)
	if err != nil {
		return nil, err
	}
	return NewManagerWithMigrations(db, dialect, migrations, logger), nil
}

// NewManagerWithMigrations returns a Manager for an explicit migration set.
func NewManagerWithMigrations(db *sql.DB, dialect Dialect, migrations []Migration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:         db,
		dialect:    dialect,
		migrations: migrations,
		logger:     logger.With(zap.String("component", "migration"), zap.String("dialect", string(dialect))),
		now:        time.Now,
	}
}

// Run applies every pending migration and returns the versions it applied.
func (m *Manager) Run(ctx context.Context) ([]string, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	m.logger.Info("schema status",
		zap.String("current_version", status.CurrentVersion),
		zap.Int("pending", len(status.Pending)))

	applied := make([]string, 0, len(status.Pending))
	for _, migration := range status.Pending {
		started := m.now()
		if err := m.apply(ctx, migration, started); err != nil {
			m.logger.Error("migration failed", zap.String("version", migration.Version), zap.Error(err))
			return applied, err
		}
		m.logger.Info("migration applied",
			zap.String("version", migration.Version),
			zap.String("description", migration.Description),
			zap.Duration("duration", m.now().Sub(started)))
		applied = append(applied, migration.Version)
	}
	return applied, nil
}

// Status reports applied and pending migrations. An applied migration whose
// file changed afterwards is an error.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if _, err := m.db.ExecContext(ctx, versionTableSQL); err != nil {
		return Status{}, newMigrationError("", "", "create schema_migrations table", err)
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return Status{}, err
	}

	byVersion := make(map[string]AppliedMigration, len(applied))
	status := Status{Applied: applied}
	for _, a := range applied {
		byVersion[a.Version] = a
		status.CurrentVersion = a.Version
	}

	for _, migration := range m.migrations {
		a, ok := byVersion[migration.Version]
		if !ok {
			status.Pending = append(status.Pending, migration)
			continue
		}
		if a.Checksum != migration.Checksum {
			return Status{}, newMigrationError(migration.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return status, nil
}

func (m *Manager) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT version, checksum, applied_at, execution_time_ms FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, newMigrationError("", "", "list applied migrations", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			a         AppliedMigration
			appliedAt string
			ms        int64
		)
		if err := rows.Scan(&a.Version, &a.Checksum, &appliedAt, &ms); err != nil {
			return nil, newMigrationError("", "", "scan applied migration", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt)
		a.ExecutionTime = time.Duration(ms) * time.Millisecond
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, newMigrationError("", "", "iterate applied migrations", err)
	}
	return applied, nil
}

func (m *Manager) apply(ctx context.Context, migration Migration, started time.Time) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				m.logger.Warn("rollback failed", zap.String("version", migration.Version), zap.Error(rbErr))
			}
		}
	}()

	for i, stmt := range splitStatements(migration.SQL) {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return newMigrationError(migration.Version, migration.FilePath,
				fmt.Sprintf("execute statement %d", i+1), fmt.Errorf("%w: %v", ErrMigrationFailed, execErr))
		}
	}

	ph := m.dialect.placeholders(5)
	insert := fmt.Sprintf(
		`INSERT INTO schema_migrations (version, description, checksum, applied_at, execution_time_ms) VALUES (%s, %s, %s, %s, %s)`,
		ph[0], ph[1], ph[2], ph[3], ph[4])
	if _, err = tx.ExecContext(ctx, insert,
		migration.Version,
		migration.Description,
		migration.Checksum,
		started.UTC().Format(time.RFC3339),
		m.now().Sub(started).Milliseconds(),
	); err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "record migration", err)
	}

	if err = tx.Commit(); err != nil {
		return newMigrationError(migration.Version, migration.FilePath, "commit transaction", err)
	}
	return nil
}
