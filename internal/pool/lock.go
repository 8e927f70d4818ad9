package pool

import (
	"context"
	"fmt"
	"sync"
)

type lockMode int

const (
	lockNone lockMode = iota
	lockRead
	lockWrite
)

// heldKey marks, inside a context, which mode of a pool's serialization lock
// the current call chain already holds.
type heldKey struct{ l *serialLock }

// serialLock is the pool-wide read/write lock shared by every connection of
// one pool. It models the engine's single-writer file lock: any number of
// readers, or exactly one writer. Ownership is recorded in the context handed
// to the unit of work so nested calls on the same chain re-enter instead of
// deadlocking on sync.RWMutex.
type serialLock struct {
	rw sync.RWMutex
}

func (l *serialLock) held(ctx context.Context) lockMode {
	mode, _ := ctx.Value(heldKey{l}).(lockMode)
	return mode
}

// acquire takes the lock in the requested mode unless the chain already holds
// a compatible mode. The returned context records ownership and must be the
// one passed further down.
func (l *serialLock) acquire(ctx context.Context, mode lockMode) (context.Context, func(), error) {
	switch held := l.held(ctx); {
	case held == lockWrite:
		return ctx, func() {}, nil
	case held == lockRead && mode == lockRead:
		return ctx, func() {}, nil
	case held == lockRead && mode == lockWrite:
		return ctx, nil, fmt.Errorf("%w: write requested while holding the read lock", ErrCapability)
	}

	if mode == lockWrite {
		l.rw.Lock()
		return context.WithValue(ctx, heldKey{l}, lockWrite), l.rw.Unlock, nil
	}
	l.rw.RLock()
	return context.WithValue(ctx, heldKey{l}, lockRead), l.rw.RUnlock, nil
}
