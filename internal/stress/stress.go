// Package stress runs a concurrent read/write workload against a pool and
// checks that reads never overlap a write.
package stress

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ALT-F4-LLC/litepool/internal/db"
	"github.com/ALT-F4-LLC/litepool/internal/pool"
	"github.com/ALT-F4-LLC/litepool/internal/store"
)

// Config describes one workload.
type Config struct {
	Tables          []string `json:"tables" yaml:"tables"`
	Readers         int      `json:"readers" yaml:"readers"`
	ReadsPerReader  int      `json:"reads_per_reader" yaml:"reads_per_reader"`
	WritersPerTable int      `json:"writers_per_table" yaml:"writers_per_table"`
	DirectInserts   int      `json:"direct_inserts" yaml:"direct_inserts"`
	TxInserts       int      `json:"tx_inserts" yaml:"tx_inserts"`
}

// DefaultConfig is 10 readers doing 100 counts each against AAA and BBB while
// 5 writers per table insert 2 rows directly and 2 more in one transaction.
func DefaultConfig() Config {
	return Config{
		Tables:          append([]string(nil), db.DefaultTables...),
		Readers:         10,
		ReadsPerReader:  100,
		WritersPerTable: 5,
		DirectInserts:   2,
		TxInserts:       2,
	}
}

// RowsPerTable is the number of rows a run inserts into every table.
func (c Config) RowsPerTable() int {
	return c.WritersPerTable * (c.DirectInserts + c.TxInserts)
}

// Validate rejects negative counts and unusable table names.
func (c Config) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("%w: no tables", pool.ErrConfiguration)
	}
	for _, t := range c.Tables {
		if err := store.ValidateIdentifier(t); err != nil {
			return err
		}
	}
	for name, v := range map[string]int{
		"readers":           c.Readers,
		"reads per reader":  c.ReadsPerReader,
		"writers per table": c.WritersPerTable,
		"direct inserts":    c.DirectInserts,
		"tx inserts":        c.TxInserts,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s can't be negative (%d)", pool.ErrConfiguration, name, v)
		}
	}
	return nil
}

// TableResult is the outcome for one table.
type TableResult struct {
	Name     string `json:"name"`
	Rows     int    `json:"rows"`
	Expected int    `json:"expected"`
}

// OK reports whether the table holds exactly the rows the run inserted.
func (t TableResult) OK() bool { return t.Rows == t.Expected }

// Result summarizes a run.
type Result struct {
	RunID        string        `json:"run_id"`
	Tables       []TableResult `json:"tables"`
	Reads        int64         `json:"reads"`
	Writes       int64         `json:"writes"`
	Transactions int64         `json:"transactions"`
	MaxReaders   int32         `json:"max_concurrent_readers"`
	Violations   int64         `json:"violations"`
	Elapsed      time.Duration `json:"elapsed"`
}

// OK reports whether the run saw no overlap and every table count matches.
func (r Result) OK() bool {
	if r.Violations != 0 {
		return false
	}
	for _, t := range r.Tables {
		if !t.OK() {
			return false
		}
	}
	return true
}

// probe tracks the units of work in flight. A write that overlaps another
// write or any read is a violation.
type probe struct {
	readers    atomic.Int32
	writers    atomic.Int32
	maxReaders atomic.Int32
	violations atomic.Int64
}

func (p *probe) read(fn func() error) error {
	n := p.readers.Add(1)
	defer p.readers.Add(-1)
	for {
		m := p.maxReaders.Load()
		if n <= m || p.maxReaders.CompareAndSwap(m, n) {
			break
		}
	}
	if p.writers.Load() > 0 {
		p.violations.Add(1)
	}
	return fn()
}

func (p *probe) write(fn func() error) error {
	n := p.writers.Add(1)
	defer p.writers.Add(-1)
	if n > 1 || p.readers.Load() > 0 {
		p.violations.Add(1)
	}
	return fn()
}

// Runner drives workloads through a store.
type Runner struct {
	store *store.Store
	log   *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for run progress.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRunner returns a runner over s.
func NewRunner(s *store.Store, opts ...Option) *Runner {
	r := &Runner{store: s, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run creates the tables if needed, runs the readers and writers concurrently
// and counts the rows tagged with this run's ID. The first worker error
// cancels the rest.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := db.Initialize(ctx, r.store, cfg.Tables...); err != nil {
		return nil, fmt.Errorf("preparing tables: %w", err)
	}

	runID := uuid.New().String()
	log := r.log.With(zap.String("run_id", runID))
	log.Info("stress run started",
		zap.Strings("tables", cfg.Tables),
		zap.Int("readers", cfg.Readers),
		zap.Int("writers", cfg.WritersPerTable*len(cfg.Tables)),
	)

	var pr probe
	var reads, writes, txs atomic.Int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Readers; i++ {
		table := cfg.Tables[i%len(cfg.Tables)]
		g.Go(func() error {
			for j := 0; j < cfg.ReadsPerReader; j++ {
				err := r.store.Read(gctx, func(ctx context.Context, ex pool.Executor) error {
					return pr.read(func() error {
						var n int
						return ex.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(1) FROM "%s"`, table)).Scan(&n)
					})
				})
				if err != nil {
					return fmt.Errorf("reader %d: %w", i, err)
				}
				reads.Add(1)
			}
			return nil
		})
	}

	for _, table := range cfg.Tables {
		insert := fmt.Sprintf(`INSERT INTO "%s" (run_id, worker, payload, created_at) VALUES (?, ?, ?, ?)`, table)
		for w := 0; w < cfg.WritersPerTable; w++ {
			g.Go(func() error {
				one := func(ctx context.Context) error {
					return r.store.Write(ctx, func(ctx context.Context, ex pool.Executor) error {
						return pr.write(func() error {
							_, err := ex.ExecContext(ctx, insert,
								runID, w, uuid.New().String(), time.Now().UTC().Format(time.RFC3339Nano),
							)
							if err != nil {
								return fmt.Errorf("%w: %w", pool.ErrStatement, err)
							}
							writes.Add(1)
							return nil
						})
					})
				}

				for k := 0; k < cfg.DirectInserts; k++ {
					if err := one(gctx); err != nil {
						return fmt.Errorf("writer %s/%d: %w", table, w, err)
					}
				}
				if cfg.TxInserts == 0 {
					return nil
				}
				err := r.store.Transaction(gctx, func(ctx context.Context) error {
					for k := 0; k < cfg.TxInserts; k++ {
						if err := one(ctx); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					return fmt.Errorf("writer %s/%d: %w", table, w, err)
				}
				txs.Add(1)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		log.Error("stress run failed", zap.Error(err))
		return nil, err
	}

	res := &Result{
		RunID:        runID,
		Reads:        reads.Load(),
		Writes:       writes.Load(),
		Transactions: txs.Load(),
		MaxReaders:   pr.maxReaders.Load(),
		Violations:   pr.violations.Load(),
		Elapsed:      time.Since(start),
	}

	cg, cctx := errgroup.WithContext(ctx)
	res.Tables = make([]TableResult, len(cfg.Tables))
	for i, table := range cfg.Tables {
		cg.Go(func() error {
			var n int
			err := r.store.QueryRow(cctx,
				fmt.Sprintf(`SELECT COUNT(1) FROM "%s" WHERE run_id = ?`, table),
				[]any{runID}, &n,
			)
			if err != nil {
				return fmt.Errorf("counting %s: %w", table, err)
			}
			res.Tables[i] = TableResult{Name: table, Rows: n, Expected: cfg.RowsPerTable()}
			return nil
		})
	}
	if err := cg.Wait(); err != nil {
		return nil, err
	}

	log.Info("stress run finished",
		zap.Int64("reads", res.Reads),
		zap.Int64("writes", res.Writes),
		zap.Int64("violations", res.Violations),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}
