// Package db provides the shared pgx plumbing every domain store repository is built on.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resy-watch/discovery-engine/errs"
)

// transientPgCodes are the Postgres SQLSTATE codes the transaction wrapper
// treats as recoverable by a caller retry rather than a hard failure (spec
// §7.3: serialization failure, deadlock, or a dropped connection).
var transientPgCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"08000": {}, // connection_exception
	"08003": {}, // connection_does_not_exist
	"08006": {}, // connection_failure
	"57P01": {}, // admin_shutdown
	"57P03": {}, // cannot_connect_now
}

// classifyTxError tags a transaction failure with errs.CodeDBTransient when
// it's a recognized retryable Postgres condition, leaving other failures
// (constraint violations, etc.) unwrapped.
func classifyTxError(component string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, transient := transientPgCodes[pgErr.Code]; transient {
			return errs.New(component, errs.CodeDBTransient, errs.WithCause(err), errs.WithField("pg_code", pgErr.Code))
		}
	}
	return err
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting a single repository
// method run either directly against the pool or inside a caller-managed transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the connection pool backing the persistence layer.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a Store around an already-configured pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// WithTransaction runs fn inside a single read-committed, read-write transaction,
// committing on success and rolling back on error or panic.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:       pgx.ReadCommitted,
		AccessMode:     pgx.ReadWrite,
		DeferrableMode: pgx.NotDeferrable,
	})
	if err != nil {
		return classifyTxError("db", fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			err = classifyTxError("db", err)
			return
		}
		err = classifyTxError("db", tx.Commit(ctx))
	}()

	err = fn(ctx, tx)
	return err
}

// TryAdvisoryLock attempts to acquire a transaction-scoped advisory lock keyed by key.
// The lock is released automatically when the transaction commits or rolls back.
func TryAdvisoryLock(ctx context.Context, tx pgx.Tx, key int64) (bool, error) {
	var acquired bool
	row := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", key)
	if err := row.Scan(&acquired); err != nil {
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	return acquired, nil
}
