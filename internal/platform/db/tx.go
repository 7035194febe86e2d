package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Transactor runs work inside a single database transaction carried by the context.
type Transactor interface {
	// Transact executes fn in a transaction. Nested calls join the outer transaction.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	// AfterCommit defers fn until the outermost transaction commits. Outside a
	// transaction fn runs immediately. Callbacks are dropped on rollback.
	AfterCommit(ctx context.Context, fn func())
}

// WithTx executes a function within a read-committed transaction. Writers that
// need exclusivity take row locks with SELECT ... FOR UPDATE.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

type txState struct {
	tx    pgx.Tx
	after []func()
}

type txKey struct{}

// TxManager implements Transactor on top of a pgx pool.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager constructs a TxManager.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// Transact implements Transactor.
func (m *TxManager) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}
	state := &txState{}
	err := WithTx(ctx, m.pool, func(tx pgx.Tx) error {
		state.tx = tx
		return fn(context.WithValue(ctx, txKey{}, state))
	})
	if err != nil {
		return err
	}
	for _, cb := range state.after {
		cb()
	}
	return nil
}

// AfterCommit implements Transactor.
func (m *TxManager) AfterCommit(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.after = append(state.after, fn)
		return
	}
	fn()
}

// Querier returns the transaction bound to ctx, or the pool when none is active.
func (m *TxManager) Querier(ctx context.Context) Querier {
	if state, ok := ctx.Value(txKey{}).(*txState); ok && state.tx != nil {
		return state.tx
	}
	return m.pool
}
