package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// queue is a blocking FIFO of idle connections of one capability. Waiters park
// on the current wake channel, which is closed and replaced on every change.
type queue struct {
	pool       *Pool
	capability Capability

	mu     sync.Mutex
	idle   []*Conn
	total  int // connections owned by the queue, idle or checked out
	status Status
	wake   chan struct{}
}

func newQueue(p *Pool, capability Capability) *queue {
	return &queue{
		pool:       p,
		capability: capability,
		status:     StatusRunning,
		wake:       make(chan struct{}),
	}
}

// broadcast wakes every waiter. Callers hold q.mu.
func (q *queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// checkStatus fails unless the queue is running. Callers hold q.mu.
func (q *queue) checkStatus() error {
	switch q.status {
	case StatusRunning:
		return nil
	case StatusClosing:
		return fmt.Errorf("%w: %s pool [%s] is closing", ErrPoolState, q.capability, q.pool.name)
	case StatusShutdown:
		return fmt.Errorf("%w: %s pool [%s] is closed", ErrPoolState, q.capability, q.pool.name)
	default:
		return fmt.Errorf("%w: %s pool [%s] has illegal status %d", ErrPoolState, q.capability, q.pool.name, q.status)
	}
}

// add registers a new connection with the queue and makes it idle.
func (q *queue) add(c *Conn) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.checkStatus(); err != nil {
		return err
	}
	q.idle = append(q.idle, c)
	q.total++
	q.broadcast()
	return nil
}

// fetch takes an idle connection. A timeout <= 0 waits until one is available
// or ctx is done. A positive timeout returns nil, nil once it elapses with the
// queue still empty. The status check and the dequeue happen under one lock,
// and a queue leaving the running state wakes its waiters so they fail fast.
func (q *queue) fetch(ctx context.Context, timeout time.Duration) (*Conn, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if err := q.checkStatus(); err != nil {
			q.mu.Unlock()
			return nil, err
		}
		if len(q.idle) > 0 {
			c := q.idle[0]
			q.idle = q.idle[1:]
			q.mu.Unlock()
			return c, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return q.poll()
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: fetching %s connection from [%s]: %w", ErrInterrupted, q.capability, q.pool.name, ctx.Err())
		}
	}
}

// poll is the last look after a timed wait: it may still find a connection
// released at the deadline, or nothing.
func (q *queue) poll() (*Conn, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.checkStatus(); err != nil {
		return nil, err
	}
	if len(q.idle) == 0 {
		return nil, nil
	}
	c := q.idle[0]
	q.idle = q.idle[1:]
	return c, nil
}

// release makes c idle again. A connection already idle is not added twice.
func (q *queue) release(c *Conn) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.status == StatusShutdown {
		return
	}
	if !slices.Contains(q.idle, c) {
		q.idle = append(q.idle, c)
	}
	q.broadcast()
}

// drain moves the queue to closing, waits until every checked-out connection
// has come back, closes all of them and marks the queue shut down. Cancelling
// ctx abandons the wait and leaves the queue closing.
func (q *queue) drain(ctx context.Context) error {
	q.mu.Lock()
	if q.status == StatusShutdown {
		q.mu.Unlock()
		return nil
	}
	if q.status == StatusRunning {
		q.status = StatusClosing
		q.broadcast()
	}

	for len(q.idle) != q.total {
		wake := q.wake
		outstanding := q.total - len(q.idle)
		q.mu.Unlock()

		q.pool.log.Debug("waiting for checked-out connections",
			zap.Stringer("capability", q.capability),
			zap.Int("outstanding", outstanding),
		)

		select {
		case <-wake:
		case <-ctx.Done():
			return fmt.Errorf("%w: draining %s pool [%s]: %w", ErrInterrupted, q.capability, q.pool.name, ctx.Err())
		}
		q.mu.Lock()
	}

	idle := slices.Clone(q.idle)
	q.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}

	q.mu.Lock()
	q.status = StatusShutdown
	q.broadcast()
	q.mu.Unlock()
	return nil
}

func (q *queue) snapshot() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Status: q.status,
		Total:  q.total,
		Idle:   len(q.idle),
	}
}
