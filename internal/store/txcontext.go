package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ALT-F4-LLC/litepool/internal/pool"
)

type txKey struct{}

// TxContext binds one call chain to the single connection of its
// transaction. It travels inside the context handed to a Transaction unit of
// work; nested calls find it there and reuse the bound connection.
type TxContext struct {
	mu     sync.Mutex
	active bool
	conn   *pool.Conn
}

// FromContext returns the transaction binding carried by ctx, or nil.
func FromContext(ctx context.Context) *TxContext {
	tc, _ := ctx.Value(txKey{}).(*TxContext)
	return tc
}

func withTxContext(ctx context.Context, tc *TxContext) context.Context {
	return context.WithValue(ctx, txKey{}, tc)
}

// Active reports whether the binding is in transaction mode. A nil binding is
// inactive.
func (t *TxContext) Active() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Conn returns the bound connection, or nil when inactive.
func (t *TxContext) Conn() *pool.Conn {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// Bind enters transaction mode on c. Binding the connection already bound is
// a no-op; binding a different one fails with ErrTransactionConflict and
// leaves the binding untouched.
func (t *TxContext) Bind(c *pool.Conn) error {
	if c == nil {
		return fmt.Errorf("%w: can't bind a nil connection", pool.ErrConfiguration)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active && t.conn != c {
		return fmt.Errorf("%w: bound to %s, refusing %s", pool.ErrTransactionConflict, t.conn.Name(), c.Name())
	}
	t.conn = c
	t.active = true
	return nil
}

func (t *TxContext) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.conn = nil
}
