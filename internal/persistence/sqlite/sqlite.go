// Package sqlite implements the persistence repositories on an embedded
// SQLite database (modernc.org/sqlite).
package sqlite

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/persistence/migration"
)

// Store bundles the connection pool with the repositories built on it.
type Store struct {
	*DeskRepository
	*ReservationRepository

	pool   *ConnectionPool
	logger *zap.Logger
}

// Open connects to the database described by config. Call Migrate before
// first use of a fresh database.
func Open(config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}

	return &Store{
		DeskRepository:        NewDeskRepository(pool),
		ReservationRepository: NewReservationRepository(pool),
		pool:                  pool,
		logger:                logger,
	}, nil
}

// Migrate applies the embedded SQLite schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	manager, err := migration.NewManager(s.pool.DB(), migration.SQLite, s.logger)
	if err != nil {
		return err
	}
	_, err = manager.Run(ctx)
	return err
}

// Pool exposes the underlying connection pool.
func (s *Store) Pool() *ConnectionPool {
	return s.pool
}

// Close releases the database connections.
func (s *Store) Close() error {
	return s.pool.Close()
}
