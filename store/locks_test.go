/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestLocksSeparateKeys(t *testing.T) {
	t.Parallel()

	locks := NewLocks(clockwork.NewFakeClock())
	ctx := context.Background()

	releaseA, err := locks.Acquire(ctx, "a", time.Second)
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}

	// With a fake clock that never advances, any wait here would hang.
	releaseB, err := locks.Acquire(ctx, "b", time.Second)
	if err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}

	if got := locks.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	releaseA()
	releaseB()

	if got := locks.Len(); got != 0 {
		t.Fatalf("Len() after release = %d, want 0", got)
	}
}

func TestLocksHandOff(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	locks := NewLocks(clock)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release, err := locks.Acquire(ctx, "a", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan func(), 1)
	go func() {
		r, err := locks.Acquire(ctx, "a", time.Second)
		if err != nil {
			close(acquired)
			return
		}
		acquired <- r
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	release()

	r, ok := <-acquired
	if !ok {
		t.Fatal("waiter failed to acquire released lock")
	}
	r()

	if got := locks.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestLocksContextCancel(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	locks := NewLocks(clock)

	release, err := locks.Acquire(context.Background(), "a", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := locks.Acquire(ctx, "a", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want %v", err, context.Canceled)
	}
	if got := locks.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestLocksTimeout(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	locks := NewLocks(clock)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release, err := locks.Acquire(ctx, "a", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	result := make(chan error, 1)
	go func() {
		_, err := locks.Acquire(ctx, "a", time.Second)
		result <- err
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	clock.Advance(time.Second)

	if err := <-result; !errors.Is(err, ErrLocked) {
		t.Fatalf("Acquire() error = %v, want %v", err, ErrLocked)
	}
}
