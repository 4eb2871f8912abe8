package txn

import (
	"context"
	"sync"
)

type journalKey struct{}

type journal struct {
	undo []func()
}

// MemoryRunner serializes units of work over in-memory stores. Stores record
// compensating actions with OnRollback; they run in reverse order when fn fails.
type MemoryRunner struct {
	mu sync.Mutex
}

// NewMemoryRunner creates a runner for the in-memory stores.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

// WithTx runs fn while holding the runner lock.
func (r *MemoryRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
		if err != nil {
			j.rollback()
		}
	}()

	return fn(context.WithValue(ctx, journalKey{}, j))
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// OnRollback registers undo to run if the enclosing unit of work fails.
// Outside a unit of work it is a no-op.
func OnRollback(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}

// InTx reports whether ctx belongs to an active unit of work.
func InTx(ctx context.Context) bool {
	if TxFromContext(ctx) != nil {
		return true
	}
	_, ok := ctx.Value(journalKey{}).(*journal)
	return ok
}
