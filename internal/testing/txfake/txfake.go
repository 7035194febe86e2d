// Package txfake provides an in-memory transactor for service tests.
package txfake

import (
	"context"
	"sync"
)

type txKey struct{}

type state struct {
	after []func()
}

// Transactor serialises transactions with a mutex so in-memory repositories
// observe the same exclusivity a row lock gives in Postgres.
type Transactor struct {
	mu      sync.Mutex
	Commits int
	// FailCommit, when set, turns the next commit into a rollback with this error.
	FailCommit error
}

// Transact implements db.Transactor.
func (t *Transactor) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}
	t.mu.Lock()
	st := &state{}
	err := fn(context.WithValue(ctx, txKey{}, st))
	if err == nil && t.FailCommit != nil {
		err, t.FailCommit = t.FailCommit, nil
	}
	if err == nil {
		t.Commits++
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	for _, cb := range st.after {
		cb()
	}
	return nil
}

// AfterCommit implements db.Transactor.
func (t *Transactor) AfterCommit(ctx context.Context, fn func()) {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		st.after = append(st.after, fn)
		return
	}
	fn()
}

// InTx reports whether ctx carries a transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*state)
	return ok
}
