/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package session owns the buzzer sessions: creating them, ordering buzzes
// within a round, and resetting rounds. All writes to one session are
// serialized, across processes when the store can lock; separate sessions
// proceed in parallel.
package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Seednode/buzzbox/broadcast"
	"github.com/Seednode/buzzbox/store"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	MaxNameLength = 20

	DefaultTTL      = 24 * time.Hour
	DefaultLockWait = 2 * time.Second
	DefaultIDLength = 6

	idAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	maxIDAttempts = 8

	// Bytes at or above this are redrawn so every character is equally likely.
	idByteLimit = 256 - 256%len(idAlphabet)
)

// Palette is the ordered list of team names; a session with n teams uses
// the first n.
var Palette = []string{"Red", "Blue", "Green", "Yellow", "Purple", "Orange", "Cyan", "Magenta"}

// MaxTeams is the largest team count CreateSession accepts.
var MaxTeams = len(Palette)

// Store is the key-value backend for session records.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Create(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Locker is implemented by stores that can hold a key exclusively for
// every process sharing them.
type Locker interface {
	Lock(ctx context.Context, key string, wait time.Duration) (func(), error)
}

// Publisher delivers session events to subscribers. rev is the revision the
// write produced. Its errors never fail a command.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, rev int64, event string, payload any) error
}

// Manager is the only writer of session records.
type Manager struct {
	store     Store
	publisher Publisher
	clock     clockwork.Clock
	locks     *store.Locks
	storeLock Locker

	ttl      time.Duration
	lockWait time.Duration
	newID    func() (string, error)
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithTTL sets how long an idle session lives in the store.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithLockWait bounds how long a command waits for a busy session.
func WithLockWait(wait time.Duration) Option {
	return func(m *Manager) { m.lockWait = wait }
}

func WithIDLength(n int) Option {
	return func(m *Manager) { m.newID = func() (string, error) { return randomID(n) } }
}

// WithIDGenerator replaces the session identifier source.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.newID = gen }
}

func NewManager(st Store, pub Publisher, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		publisher: pub,
		clock:     clockwork.NewRealClock(),
		ttl:       DefaultTTL,
		lockWait:  DefaultLockWait,
		newID:     func() (string, error) { return randomID(DefaultIDLength) },
	}

	for _, opt := range opts {
		opt(m)
	}

	m.locks = store.NewLocks(m.clock)
	m.storeLock, _ = st.(Locker)

	return m
}

// CreateSession starts a session with the first teamCount palette colors
// and an armed round.
func (m *Manager) CreateSession(ctx context.Context, teamCount int) (string, []string, error) {
	if teamCount < 1 || teamCount > MaxTeams {
		return "", nil, fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidTeamCount, MaxTeams, teamCount)
	}

	rec := newRecord(Palette[:teamCount])

	data, err := json.Marshal(rec)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode session: %w", err)
	}

	for range maxIDAttempts {
		id, err := m.newID()
		if err != nil {
			return "", nil, fmt.Errorf("failed to generate session id: %w", err)
		}

		err = m.store.Create(ctx, store.SessionKey(id), data, m.ttl)
		if errors.Is(err, store.ErrExists) {
			log.Debug().Str("session_id", id).Msg("session id collision, retrying")

			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to store session %s: %w", id, err)
		}

		log.Info().
			Str("session_id", id).
			Strs("teams", rec.Teams).
			Msg("session created")

		return id, rec.Teams, nil
	}

	return "", nil, fmt.Errorf("failed to allocate a unique session id after %d attempts", maxIDAttempts)
}

// Snapshot returns the current teams, ranking and round start of a session.
func (m *Manager) Snapshot(ctx context.Context, id string) (*Snapshot, error) {
	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	return rec.snapshot(id), nil
}

// SubmitBuzz records a buzz for team. The arrival instant is read inside the
// session's critical section, so acceptance order is arrival order at that
// point.
//
// An unknown session is reported before a bad name or team.
func (m *Manager) SubmitBuzz(ctx context.Context, id, name, team string) (Buzz, error) {
	var accepted Buzz

	err := m.mutate(ctx, id, func(rec *Record) error {
		name, err := normalizeName(name)
		if err != nil {
			return err
		}

		b, err := rec.RecordBuzz(name, team, m.clock.Now())
		if err != nil {
			return err
		}
		accepted = b

		return nil
	}, func(ctx context.Context, rev int64) {
		m.publish(ctx, id, rev, broadcast.EventNewBuzz, accepted)
	})
	if err != nil {
		return Buzz{}, err
	}

	log.Debug().
		Str("session_id", id).
		Str("name", accepted.Name).
		Str("team", accepted.Team).
		Int64("time_ms", accepted.Time).
		Msg("buzz accepted")

	return accepted, nil
}

// ResetBuzzes clears the ranking and re-arms the round. Every call emits a
// reset event, even when the round was already armed.
func (m *Manager) ResetBuzzes(ctx context.Context, id string) error {
	err := m.mutate(ctx, id, func(rec *Record) error {
		rec.Reset()

		return nil
	}, func(ctx context.Context, rev int64) {
		m.publish(ctx, id, rev, broadcast.EventResetBuzzes, nil)
	})
	if err != nil {
		return err
	}

	log.Debug().Str("session_id", id).Msg("buzzes reset")

	return nil
}

// mutate runs read, apply, persist and notify under the session lock. If
// apply or persist fails nothing is written and notify is not called.
// Every successful write advances the record's revision by one.
func (m *Manager) mutate(ctx context.Context, id string, apply func(*Record) error, notify func(context.Context, int64)) error {
	release, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	rec, err := m.load(ctx, id)
	if err != nil {
		return err
	}

	if err := apply(rec); err != nil {
		return err
	}
	rec.Revision++

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", id, err)
	}

	if err := m.store.Set(ctx, store.SessionKey(id), data, m.ttl); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", id, err)
	}

	// Still inside the critical section, so events for one session leave
	// in the order their writes were made.
	notify(context.WithoutCancel(ctx), rec.Revision)

	return nil
}

// lock takes the in-process lock for id and then, if the store supports it,
// the store's lock. Both waits come out of one lockWait budget.
func (m *Manager) lock(ctx context.Context, id string) (func(), error) {
	start := m.clock.Now()

	release, err := m.locks.Acquire(ctx, id, m.lockWait)
	if err != nil {
		return nil, lockError(id, err)
	}

	if m.storeLock == nil {
		return release, nil
	}

	remaining := max(0, m.lockWait-m.clock.Since(start))

	unlock, err := m.storeLock.Lock(ctx, store.SessionKey(id), remaining)
	if err != nil {
		release()

		return nil, lockError(id, err)
	}

	return func() {
		unlock()
		release()
	}, nil
}

func lockError(id string, err error) error {
	if errors.Is(err, store.ErrLocked) {
		return fmt.Errorf("%w: %s", ErrSessionBusy, id)
	}

	return err
}

func (m *Manager) load(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrSessionNotFound)
	}

	data, err := m.store.Get(ctx, store.SessionKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	if rec.Buzzes == nil {
		rec.Buzzes = []Buzz{}
	}

	return rec, nil
}

func (m *Manager) publish(ctx context.Context, id string, rev int64, event string, payload any) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.Publish(ctx, id, rev, event, payload); err != nil {
		log.Debug().Err(err).Str("session_id", id).Int64("revision", rev).Str("event", event).Msg("command succeeded with degraded delivery")
	}
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)

	switch {
	case name == "":
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}

	return name, nil
}

// randomID returns n characters drawn from crypto/rand.
func randomID(n int) (string, error) {
	return randomIDFrom(rand.Reader, n)
}

func randomIDFrom(r io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)

	for len(out) < n {
		need := buf[:n-len(out)]
		if _, err := io.ReadFull(r, need); err != nil {
			return "", err
		}

		for _, b := range need {
			if int(b) >= idByteLimit {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
		}
	}

	return string(out), nil
}
