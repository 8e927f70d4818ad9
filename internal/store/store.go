package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/ALT-F4-LLC/litepool/internal/pool"
)

// safeIdentifier matches table names that may be interpolated into SQL.
var safeIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier returns an error if name can't be used as a table name.
func ValidateIdentifier(name string) error {
	if !safeIdentifier.MatchString(name) {
		return fmt.Errorf("%w: invalid identifier %q", pool.ErrConfiguration, name)
	}
	return nil
}

// Store runs units of work against a pool. Each operation checks a connection
// out, runs, and releases it, unless the context carries an open transaction,
// in which case the bound connection is reused and released once by the
// outermost Transaction.
type Store struct {
	pool           *pool.Pool
	acquireTimeout time.Duration
	log            *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for transaction events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAcquireTimeout bounds how long an operation waits for a connection.
// Zero, the default, waits until one is released or the context is done.
func WithAcquireTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.acquireTimeout = d
	}
}

// New returns a Store over p.
func New(p *pool.Pool, opts ...Option) *Store {
	s := &Store{
		pool: p,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("pool", p.Name()))
	return s
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pool.Pool { return s.pool }

// bound returns the connection of the transaction carried by ctx, if any. A
// transaction opened on another pool is a conflict.
func (s *Store) bound(ctx context.Context) (*pool.Conn, error) {
	tc := FromContext(ctx)
	if !tc.Active() {
		return nil, nil
	}
	conn := tc.Conn()
	if conn.Pool() != s.pool {
		return nil, fmt.Errorf("%w: context is bound to %s, not pool %s", pool.ErrTransactionConflict, conn.Name(), s.pool.Name())
	}
	return conn, nil
}

// acquire returns the connection for one operation and the function that
// gives it back. Inside a transaction the release is a no-op.
func (s *Store) acquire(ctx context.Context, capability pool.Capability) (*pool.Conn, func(), error) {
	conn, err := s.bound(ctx)
	if err != nil {
		return nil, nil, err
	}
	if conn != nil {
		return conn, func() {}, nil
	}

	if capability == pool.ReadWrite {
		conn, err = s.pool.FetchWrite(ctx, s.acquireTimeout)
	} else {
		conn, err = s.pool.FetchRead(ctx, s.acquireTimeout)
	}
	if err != nil {
		return nil, nil, err
	}
	if conn == nil {
		return nil, nil, fmt.Errorf("%w: no %s connection within %s", pool.ErrUnavailable, capability, s.acquireTimeout)
	}
	return conn, conn.Release, nil
}

// Read runs op on a read connection, or on the transaction's connection.
func (s *Store) Read(ctx context.Context, op pool.Op) error {
	conn, release, err := s.acquire(ctx, pool.ReadOnly)
	if err != nil {
		return err
	}
	defer release()
	return conn.Read(ctx, op)
}

// Write runs op on the write connection, or on the transaction's connection.
func (s *Store) Write(ctx context.Context, op pool.Op) error {
	conn, release, err := s.acquire(ctx, pool.ReadWrite)
	if err != nil {
		return err
	}
	defer release()
	return conn.Write(ctx, op)
}

// Transaction runs fn with autocommit off on the write connection, which stays
// bound to the context for the whole call. Nested calls with the context
// passed to fn join the outer transaction: only the outermost call commits,
// rolls back and releases the connection. A failure from fn is returned as a
// *pool.TxError wrapping it (and the rollback failure, if any).
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := s.bound(ctx)
	if err != nil {
		return err
	}
	if conn != nil {
		return conn.Write(ctx, func(ctx context.Context, _ pool.Executor) error {
			return fn(ctx)
		})
	}

	conn, release, err := s.acquire(ctx, pool.ReadWrite)
	if err != nil {
		return err
	}
	tc := &TxContext{}
	if err := tc.Bind(conn); err != nil {
		release()
		return err
	}
	defer func() {
		tc.reset()
		release()
	}()

	return conn.Write(withTxContext(ctx, tc), func(ctx context.Context, _ pool.Executor) error {
		if err := conn.Begin(ctx); err != nil {
			return fmt.Errorf("%w: %w", pool.ErrTransactionFailed, err)
		}
		defer func() {
			if r := recover(); r != nil {
				if err := conn.Rollback(); err != nil {
					s.log.Error("rollback after panic failed", zap.String("connection", conn.Name()), zap.Error(err))
				}
				panic(r)
			}
		}()

		if err := fn(ctx); err != nil {
			rbErr := conn.Rollback()
			s.log.Debug("transaction rolled back",
				zap.String("connection", conn.Name()),
				zap.NamedError("cause", err),
				zap.NamedError("rollback_error", rbErr),
			)
			return &pool.TxError{Err: err, RollbackErr: rbErr}
		}
		if err := conn.Commit(); err != nil {
			return &pool.TxError{Err: err}
		}
		s.log.Debug("transaction committed", zap.String("connection", conn.Name()))
		return nil
	})
}

// Exec runs one statement on the write connection inside a transaction and
// returns the number of affected rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := s.Transaction(ctx, func(ctx context.Context) error {
		return s.Write(ctx, func(ctx context.Context, ex pool.Executor) error {
			res, err := ex.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("%w: executing %q: %w", pool.ErrStatement, query, err)
			}
			affected, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("%w: reading affected rows: %w", pool.ErrStatement, err)
			}
			return nil
		})
	})
	return affected, err
}

// ExecBatch runs several statements in one transaction. bind, when not nil,
// supplies the arguments of statement i. The affected row count of each
// statement is returned in order.
func (s *Store) ExecBatch(ctx context.Context, queries []string, bind func(i int) []any) ([]int64, error) {
	affected := make([]int64, len(queries))
	err := s.Transaction(ctx, func(ctx context.Context) error {
		return s.Write(ctx, func(ctx context.Context, ex pool.Executor) error {
			for i, query := range queries {
				var args []any
				if bind != nil {
					args = bind(i)
				}
				res, err := ex.ExecContext(ctx, query, args...)
				if err != nil {
					return fmt.Errorf("%w: executing batch statement %q: %w", pool.ErrStatement, query, err)
				}
				if affected[i], err = res.RowsAffected(); err != nil {
					return fmt.Errorf("%w: reading affected rows: %w", pool.ErrStatement, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

// ExecMany prepares query once and runs it n times in one transaction with the
// arguments returned by bind(i). It returns the total affected row count.
func (s *Store) ExecMany(ctx context.Context, query string, n int, bind func(i int) []any) (int64, error) {
	var total int64
	err := s.Transaction(ctx, func(ctx context.Context) error {
		return s.Write(ctx, func(ctx context.Context, ex pool.Executor) error {
			stmt, err := ex.PrepareContext(ctx, query)
			if err != nil {
				return fmt.Errorf("%w: preparing %q: %w", pool.ErrStatement, query, err)
			}
			defer stmt.Close()

			for i := 0; i < n; i++ {
				res, err := stmt.ExecContext(ctx, bind(i)...)
				if err != nil {
					return fmt.Errorf("%w: executing %q (row %d): %w", pool.ErrStatement, query, i, err)
				}
				affected, err := res.RowsAffected()
				if err != nil {
					return fmt.Errorf("%w: reading affected rows: %w", pool.ErrStatement, err)
				}
				total += affected
			}
			return nil
		})
	})
	return total, err
}

// Query runs query on a read connection and calls scan once per row.
func (s *Store) Query(ctx context.Context, query string, scan func(rows *sql.Rows) error, args ...any) error {
	return s.Read(ctx, func(ctx context.Context, ex pool.Executor) error {
		rows, err := ex.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: querying %q: %w", pool.ErrStatement, query, err)
		}
		defer rows.Close()

		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("%w: iterating %q: %w", pool.ErrStatement, query, err)
		}
		return nil
	})
}

// QueryRow runs query on a read connection and scans the single result row
// into dest. sql.ErrNoRows stays detectable with errors.Is.
func (s *Store) QueryRow(ctx context.Context, query string, args []any, dest ...any) error {
	return s.Read(ctx, func(ctx context.Context, ex pool.Executor) error {
		if err := ex.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
			return fmt.Errorf("%w: querying %q: %w", pool.ErrStatement, query, err)
		}
		return nil
	})
}

// TableExists reports whether a table named name exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.QueryRow(ctx,
		`SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		[]any{name}, &n,
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RowCount returns the number of rows in table, or 0 when it doesn't exist.
func (s *Store) RowCount(ctx context.Context, table string) (int, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var n int
	if err := s.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(1) FROM "%s"`, table), nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}
