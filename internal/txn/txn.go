// Package txn runs a group of store calls as one atomic unit.
//
// Stores never open transactions themselves. A service wraps an operation in
// Runner.WithTx and every store call made with the returned context joins the
// same unit of work: an *sql.Tx for Postgres, or a serialized section with an
// undo journal for the in-memory stores.
package txn

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// Runner executes fn atomically. Calls nested inside fn reuse the outer unit.
type Runner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DBTX is the subset of *sql.DB and *sql.Tx the stores use.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTxKey struct{}

// SQLRunner wraps operations in a database transaction.
type SQLRunner struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewSQLRunner creates a runner over db.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

// WithTx begins a transaction unless ctx already carries one.
func (r *SQLRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, r.opts)
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, sqlTxKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(sqlTxKey{}).(*sql.Tx)
	return tx
}

// Conn returns the active transaction or falls back to db.
func Conn(ctx context.Context, db *sql.DB) DBTX {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
