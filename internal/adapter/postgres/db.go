// Package postgres implements domain.Store on PostgreSQL through pgx. The
// repository accepts a DBTX so the same queries run on a pool or inside a
// transaction; every unit of work goes through Store.WithinTx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/parking-occupancy-etl/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w: %w", domain.ErrStorageUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w: %w", domain.ErrStorageUnavailable, err)
	}

	logger.Info("postgres connected", "max_conns", poolCfg.MaxConns)
	return &Store{pool: pool, logger: logger}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// WithinTx runs fn in a transaction. The transaction is committed when fn
// returns nil and rolled back on every other path.
func (s *Store) WithinTx(ctx context.Context, fn func(domain.Repository) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(NewRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// Ping checks connectivity. It backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// storageErr wraps err with op. Anything that is not a server-side statement
// error is treated as the store being unavailable.
func storageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

// Repository implements domain.Repository on a DBTX.
type Repository struct {
	db DBTX
}

// NewRepository creates a Repository backed by a pool or a transaction.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

var (
	_ domain.Store      = (*Store)(nil)
	_ domain.Repository = (*Repository)(nil)
)
