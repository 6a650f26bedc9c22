/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process store. Expired entries are never returned, and
// are removed from the map by Run.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   clockwork.Clock
	locks   *Locks
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Memory{
		entries: make(map[string]memoryEntry),
		clock:   clock,
		locks:   NewLocks(clock),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.liveLocked(key)
	if !ok {
		return nil, ErrNotFound
	}

	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: m.clock.Now().Add(ttl),
	}

	return nil
}

func (m *Memory) Create(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.liveLocked(key); ok {
		return ErrExists
	}

	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: m.clock.Now().Add(ttl),
	}

	return nil
}

// Lock holds key exclusively until the returned func is called. It fails
// with ErrLocked if key stays held for longer than wait.
func (m *Memory) Lock(ctx context.Context, key string, wait time.Duration) (func(), error) {
	return m.locks.Acquire(ctx, key+lockSuffix, wait)
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	now := m.clock.Now()
	for _, e := range m.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}

	return n
}

func (m *Memory) liveLocked(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}

	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)

		return memoryEntry{}, false
	}

	return e, true
}

// Run removes expired entries every interval until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := m.reap(); n > 0 {
				log.Debug().Int("expired", n).Msg("reaped expired sessions")
			}
		}
	}
}

func (m *Memory) reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	n := 0
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
			n++
		}
	}

	return n
}
