// Package postgres provides Postgres-backed persistence for the platform.
//
// Purpose:
//
//	The Store is the single data access layer shared by the identity,
//	content and ingestion binaries. It owns the pgx pool, runs goose
//	migrations at startup, and exposes entity-scoped methods grouped by
//	file (orgs, users, tokens, audit, documents, conversations, outbox).
//
// Dependencies:
//   - github.com/jackc/pgx/v5: Postgres driver and pool
//   - github.com/jackc/pgerrcode: unique-violation detection
//   - github.com/pressly/goose/v3: embedded SQL migrations
//
// Key Responsibilities:
//   - Pool lifecycle (NewStore/Close) and readiness (Ping)
//   - Transaction helper withTx for multi-statement invariants
//   - Mapping pgx errors to the package's sentinel errors
//
// Thread Safety:
//   - Store is safe for concurrent use; pgxpool handles connection sharing.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides Postgres-backed persistence for all platform entities.
type Store struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// NewStore creates a store using the provided connection string and takes
// ownership of the pool.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Store{pool: pool, ownsPool: true}, nil
}

// NewStoreFromPool wraps an existing pgx pool.
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the underlying pool if the store owns it.
func (s *Store) Close() {
	if s.ownsPool && s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pgx pool for readiness probes.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies embedded goose migrations up to the latest version.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer func(db *sql.DB) { _ = db.Close() }(db)

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	return nil
}
