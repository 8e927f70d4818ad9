package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MaxReadConnections bounds the read queue (pool size 256 = 1 write + 255 read).
const MaxReadConnections = 255

var poolCounter atomic.Int64

// Pool multiplexes one database file over exactly one write-capable connection
// and a growable set of read-only connections. All connections share one
// pool-wide read/write lock: reads run concurrently with each other, never
// with a write.
type Pool struct {
	name  string
	lock  serialLock
	write *queue
	read  *queue

	growMu  sync.Mutex
	closeMu sync.Mutex
	log     *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for pool events. The default discards logs.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// QueueStats is a point-in-time view of one queue.
type QueueStats struct {
	Status Status `json:"status"`
	Total  int    `json:"total"`
	Idle   int    `json:"idle"`
}

// InUse returns the number of checked-out connections.
func (s QueueStats) InUse() int { return s.Total - s.Idle }

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name  string     `json:"name"`
	Write QueueStats `json:"write"`
	Read  QueueStats `json:"read"`
}

// New builds a pool around one write handle and at least one read handle.
func New(write Handle, reads []Handle, opts ...Option) (*Pool, error) {
	if write == nil {
		return nil, fmt.Errorf("%w: write handle can't be nil", ErrConfiguration)
	}
	if len(reads) == 0 {
		return nil, fmt.Errorf("%w: there are no read handles", ErrConfiguration)
	}
	if len(reads) > MaxReadConnections {
		return nil, fmt.Errorf("%w: %d read handles exceed the limit of %d", ErrConfiguration, len(reads), MaxReadConnections)
	}
	for i, h := range reads {
		if h == nil {
			return nil, fmt.Errorf("%w: read handle %d can't be nil", ErrConfiguration, i)
		}
	}

	p := &Pool{
		name: fmt.Sprintf("litepool-%d", poolCounter.Add(1)),
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.String("pool", p.name))
	p.write = newQueue(p, ReadWrite)
	p.read = newQueue(p, ReadOnly)

	// Fresh queues are running, so add cannot fail here.
	_ = p.write.add(newConn(p, p.name+"-write-1", ReadWrite, write))
	for i, h := range reads {
		_ = p.read.add(newConn(p, fmt.Sprintf("%s-read-%d", p.name, i+1), ReadOnly, h))
	}

	p.log.Info("connection pool created", zap.Int("read_connections", len(reads)))
	return p, nil
}

// Name returns the pool name, e.g. "litepool-1".
func (p *Pool) Name() string { return p.name }

// ReadCapacity returns the number of read connections the pool owns.
func (p *Pool) ReadCapacity() int {
	return p.read.snapshot().Total
}

// Stats returns a snapshot of both queues.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:  p.name,
		Write: p.write.snapshot(),
		Read:  p.read.snapshot(),
	}
}

// FetchWrite checks out the write connection. A timeout <= 0 waits until it is
// released or ctx is done (ErrInterrupted). With a positive timeout it returns
// nil, nil when the connection is still unavailable at the deadline.
func (p *Pool) FetchWrite(ctx context.Context, timeout time.Duration) (*Conn, error) {
	p.log.Debug("fetching write connection", zap.Duration("timeout", timeout))
	return p.write.fetch(ctx, timeout)
}

// FetchRead checks out a read connection with the same semantics as FetchWrite.
func (p *Pool) FetchRead(ctx context.Context, timeout time.Duration) (*Conn, error) {
	p.log.Debug("fetching read connection", zap.Duration("timeout", timeout))
	return p.read.fetch(ctx, timeout)
}

// FetchWriteOrNil waits for the write connection without a deadline. An
// interrupted wait is logged and reported as nil, nil.
func (p *Pool) FetchWriteOrNil(ctx context.Context) (*Conn, error) {
	return p.orNil(p.FetchWrite(ctx, 0))
}

// FetchReadOrNil waits for a read connection without a deadline. An
// interrupted wait is logged and reported as nil, nil.
func (p *Pool) FetchReadOrNil(ctx context.Context) (*Conn, error) {
	return p.orNil(p.FetchRead(ctx, 0))
}

func (p *Pool) orNil(c *Conn, err error) (*Conn, error) {
	if errors.Is(err, ErrInterrupted) {
		p.log.Error("fetching connection failed, wait was interrupted", zap.Error(err))
		return nil, nil
	}
	return c, err
}

// AddReadConnection wraps h as a new read-only connection and makes it
// available to waiters. It fails with ErrPoolState unless the read queue is
// running.
func (p *Pool) AddReadConnection(h Handle) error {
	if h == nil {
		return fmt.Errorf("%w: read handle can't be nil", ErrConfiguration)
	}

	// Serialize with other growth so connection numbering stays dense.
	p.growMu.Lock()
	defer p.growMu.Unlock()

	n := p.read.snapshot().Total
	if n >= MaxReadConnections {
		return fmt.Errorf("%w: read connections already at the limit of %d", ErrConfiguration, MaxReadConnections)
	}
	c := newConn(p, fmt.Sprintf("%s-read-%d", p.name, n+1), ReadOnly, h)
	if err := p.read.add(c); err != nil {
		return err
	}
	p.log.Debug("read connection added", zap.String("connection", c.name))
	return nil
}

// Release returns c to the queue matching its capability and wakes waiters.
// Connections already idle, nil connections and connections of another pool
// are ignored.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	if c.pool != p {
		p.log.Warn("ignoring release of foreign connection", zap.String("connection", c.name))
		return
	}

	switch c.capability {
	case ReadWrite:
		p.log.Debug("releasing write connection", zap.String("connection", c.name))
		p.write.release(c)
	case ReadOnly:
		p.log.Debug("releasing read connection", zap.String("connection", c.name))
		p.read.release(c)
	}
}

// Close drains the write queue and then the read queue: each blocks until all
// of its checked-out connections are released, closes them and moves to
// shutdown. Cancelling ctx abandons the wait with ErrInterrupted; the pool
// stays closing and cannot be reused.
func (p *Pool) Close(ctx context.Context) error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()

	p.log.Debug("closing connection pool")
	if err := p.write.drain(ctx); err != nil {
		return err
	}
	if err := p.read.drain(ctx); err != nil {
		return err
	}
	p.log.Info("connection pool shut down")
	return nil
}
