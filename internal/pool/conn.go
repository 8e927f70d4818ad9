package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Executor runs statements. *sql.DB, *sql.Conn and *sql.Tx all satisfy it.
type Executor interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Handle is one long-lived native database handle. *sql.DB opened with a
// single connection and *sql.Conn both satisfy it.
type Handle interface {
	Executor
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// Op is a unit of work executed against a connection. The context it receives
// carries the lock ownership of the call chain and must be used for any nested
// call.
type Op func(ctx context.Context, ex Executor) error

// inUseKey marks a connection as already entered by the current call chain.
type inUseKey struct{ c *Conn }

// Conn wraps one native handle drawn from a Pool.
type Conn struct {
	name       string
	pool       *Pool
	capability Capability
	handle     Handle

	mu     sync.RWMutex // guards the closed transition
	closed bool

	tx *sql.Tx // active transaction, only touched under the pool write lock
}

func newConn(p *Pool, name string, capability Capability, h Handle) *Conn {
	return &Conn{
		name:       name,
		pool:       p,
		capability: capability,
		handle:     h,
	}
}

// Name returns the connection name, e.g. "litepool-1-read-3".
func (c *Conn) Name() string { return c.name }

// Capability reports whether the connection is read-only or write-capable.
func (c *Conn) Capability() Capability { return c.capability }

// Pool returns the pool the connection belongs to.
func (c *Conn) Pool() *Pool { return c.pool }

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// InTx reports whether a transaction is open on the connection.
func (c *Conn) InTx() bool { return c.tx != nil }

// Read runs op under the pool-wide read lock. On a write-capable connection
// reads go through the write path so they observe the connection's own
// uncommitted writes.
func (c *Conn) Read(ctx context.Context, op Op) error {
	if c.capability == ReadWrite {
		return c.Write(ctx, op)
	}
	return c.run(ctx, lockRead, op)
}

// Write runs op under the pool-wide write lock. It always fails with
// ErrCapability on a read-only connection.
func (c *Conn) Write(ctx context.Context, op Op) error {
	if c.capability != ReadWrite {
		return fmt.Errorf("%w: write on read-only connection %s", ErrCapability, c.name)
	}
	return c.run(ctx, lockWrite, op)
}

func (c *Conn) run(ctx context.Context, mode lockMode, op Op) error {
	if ctx.Value(inUseKey{c}) == nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		ctx = context.WithValue(ctx, inUseKey{c}, true)
	}
	if c.closed {
		return fmt.Errorf("%w: %s", ErrConnectionClosed, c.name)
	}

	ctx, unlock, err := c.pool.lock.acquire(ctx, mode)
	if err != nil {
		return err
	}
	defer unlock()

	return op(ctx, c.executor())
}

func (c *Conn) executor() Executor {
	if c.tx != nil {
		return c.tx
	}
	return c.handle
}

// Begin turns autocommit off by opening a native transaction. It must be
// called from inside a Write unit of work so the pool write lock is held for
// the whole transaction.
func (c *Conn) Begin(ctx context.Context) error {
	if c.capability != ReadWrite {
		return fmt.Errorf("%w: begin on read-only connection %s", ErrCapability, c.name)
	}
	if c.pool.lock.held(ctx) != lockWrite {
		return fmt.Errorf("%w: begin outside a write unit of work on %s", ErrCapability, c.name)
	}
	if c.tx != nil {
		return fmt.Errorf("%w: %s already has an open transaction", ErrTransactionConflict, c.name)
	}

	tx, err := c.handle.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction on %s: %w", ErrStatement, c.name, err)
	}
	c.tx = tx
	return nil
}

// Commit commits the open transaction and restores autocommit.
func (c *Conn) Commit() error {
	if c.tx == nil {
		return fmt.Errorf("%w: no open transaction on %s", ErrTransactionFailed, c.name)
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing on %s: %w", ErrStatement, c.name, err)
	}
	return nil
}

// Rollback discards the open transaction and restores autocommit. A
// transaction already rolled back by context cancellation counts as success.
func (c *Conn) Rollback() error {
	if c.tx == nil {
		return fmt.Errorf("%w: no open transaction on %s", ErrTransactionFailed, c.name)
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: rolling back on %s: %w", ErrStatement, c.name, err)
	}
	return nil
}

// Release returns the connection to its pool. Releasing twice is a no-op.
func (c *Conn) Release() {
	c.pool.Release(c)
}

// Close closes the native handle. It waits for operations running on this
// connection to finish. A failing native close is logged, not returned.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if err := c.handle.Close(); err != nil {
		c.pool.log.Error("closing connection failed",
			zap.String("connection", c.name),
			zap.Error(err),
		)
		return
	}
	c.pool.log.Debug("connection closed", zap.String("connection", c.name))
}
