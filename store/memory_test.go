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

func TestMemoryGetSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory(clockwork.NewFakeClock())

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want %v", err, ErrNotFound)
	}

	if err := m.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get() = %q, want %q", got, "v1")
	}

	got[0] = 'x'
	again, _ := m.Get(ctx, "k")
	if string(again) != "v1" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}

func TestMemoryCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)

	if err := m.Create(ctx, "k", []byte("a"), time.Minute); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := m.Create(ctx, "k", []byte("b"), time.Minute); !errors.Is(err, ErrExists) {
		t.Fatalf("second Create() error = %v, want %v", err, ErrExists)
	}

	clock.Advance(time.Minute)

	if err := m.Create(ctx, "k", []byte("c"), time.Minute); err != nil {
		t.Fatalf("Create() after expiry error = %v", err)
	}
	got, _ := m.Get(ctx, "k")
	if string(got) != "c" {
		t.Fatalf("Get() = %q, want %q", got, "c")
	}
}

func TestMemoryExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)

	_ = m.Set(ctx, "k", []byte("v"), 10*time.Second)

	clock.Advance(9 * time.Second)
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	// refresh
	_ = m.Set(ctx, "k", []byte("v"), 10*time.Second)
	clock.Advance(9 * time.Second)
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() after refresh error = %v", err)
	}

	clock.Advance(time.Second)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after expiry error = %v, want %v", err, ErrNotFound)
	}
}

func TestMemoryRunReapsExpired(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)

	_ = m.Set(ctx, "short", []byte("v"), time.Second)
	_ = m.Set(ctx, "long", []byte("v"), time.Hour)

	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Minute)
		close(done)
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	clock.Advance(time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		_, present := m.entries["short"]
		m.mu.Unlock()
		if !present {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expired entry was not reaped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}

	cancel()
	<-done
}

func TestSessionKey(t *testing.T) {
	t.Parallel()

	if got := SessionKey("abc123"); got != "buzzbox:session:{abc123}" {
		t.Fatalf("SessionKey() = %q", got)
	}
}

func TestMemoryLock(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release, err := m.Lock(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	// The lock does not touch the value under the same key.
	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() under lock error = %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := m.Lock(ctx, "k", time.Second)
		result <- err
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	clock.Advance(time.Second)

	if err := <-result; !errors.Is(err, ErrLocked) {
		t.Fatalf("Lock() error = %v, want %v", err, ErrLocked)
	}

	release()

	again, err := m.Lock(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	again()
}
