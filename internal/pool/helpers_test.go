package pool_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ALT-F4-LLC/litepool/internal/db"
	"github.com/ALT-F4-LLC/litepool/internal/pool"
)

// stubHandle satisfies pool.Handle without touching a database.
type stubHandle struct{}

var errStub = errors.New("stub handle")

func (stubHandle) PrepareContext(context.Context, string) (*sql.Stmt, error) { return nil, errStub }
func (stubHandle) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errStub
}
func (stubHandle) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errStub
}
func (stubHandle) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }
func (stubHandle) BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error) {
	return nil, errStub
}
func (stubHandle) Close() error { return nil }

func stubs(n int) []pool.Handle {
	hs := make([]pool.Handle, n)
	for i := range hs {
		hs[i] = stubHandle{}
	}
	return hs
}

// failingClose closes the real handle but reports a failure.
type failingClose struct{ *sql.DB }

func (f failingClose) Close() error {
	f.DB.Close()
	return errors.New("disk on fire")
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func openHandles(t *testing.T, reads int) (string, pool.Handle, []pool.Handle) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	w, err := db.Open(path, pool.ReadWrite)
	require.NoError(t, err)
	rs := make([]pool.Handle, reads)
	for i := range rs {
		r, err := db.Open(path, pool.ReadOnly)
		require.NoError(t, err)
		rs[i] = r
	}
	return path, w, rs
}

func newPool(t *testing.T, reads int, opts ...pool.Option) *pool.Pool {
	t.Helper()
	_, w, rs := openHandles(t, reads)
	p, err := pool.New(w, rs, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shortWait)
		defer cancel()
		p.Close(ctx)
	})
	return p
}
