package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrConsistency marks a broken storage invariant (duplicate base
// translations, relative id regressions). Callers abort, never repair.
var ErrConsistency = errors.New("consistency violation")

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore holds all persistence for the translation engine. Methods
// run against the pool by default; InTransaction yields a store bound to a
// single transaction so the save pipeline can keep its invariants atomic.
type PostgresStore struct {
	db *sql.DB
	q  querier
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// InTransaction runs fn against a transaction-bound copy of the store,
// committing on nil and rolling back on error. Nested calls reuse the open
// transaction.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx *PostgresStore) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
