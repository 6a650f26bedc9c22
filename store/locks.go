/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type keyLock struct {
	sem  chan struct{}
	refs int
}

// Locks serializes work per key within one process. Different keys never
// contend, and a key's entry is dropped once nobody holds or waits for it.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
	clock clockwork.Clock
}

func NewLocks(clock clockwork.Clock) *Locks {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Locks{
		locks: make(map[string]*keyLock),
		clock: clock,
	}
}

// Acquire waits at most wait for the lock on key. The returned func
// releases it and must be called exactly once.
func (k *Locks) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() { k.release(key, l) }, nil
	default:
	}

	timer := k.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return func() { k.release(key, l) }, nil
	case <-timer.Chan():
		k.forget(key, l)

		return nil, ErrLocked
	case <-ctx.Done():
		k.forget(key, l)

		return nil, ctx.Err()
	}
}

func (k *Locks) release(key string, l *keyLock) {
	<-l.sem
	k.forget(key, l)
}

func (k *Locks) forget(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len reports how many keys are held or waited on.
func (k *Locks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.locks)
}
