// Package postgres implements the control plane repositories on PostgreSQL.
// Every node of a cluster points at the same database, which is the shared
// store the resync protocol converges to.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the connection pool. Zero values keep the defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store owns the pool shared by all repositories
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, verifies the connection and creates missing tables
func Open(ctx context.Context, databaseURL string, opts PoolOptions) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

// Cluster returns the cluster config repository
func (s *Store) Cluster() *ClusterRepository { return &ClusterRepository{pool: s.pool} }

// Tasks returns the task repository
func (s *Store) Tasks() *TaskRepository { return &TaskRepository{pool: s.pool} }

// Schedules returns the scheduler spec repository
func (s *Store) Schedules() *ScheduleRepository { return &ScheduleRepository{pool: s.pool} }

// State returns the participant state repository
func (s *Store) State() *StateRepository { return &StateRepository{pool: s.pool} }

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isUniqueViolation reports a duplicate primary key
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
