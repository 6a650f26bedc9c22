/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// RoundState is derived from a record, never stored.
type RoundState string

const (
	Armed  RoundState = "armed"
	Locked RoundState = "locked"
)

// Buzz is one accepted claim. Time is milliseconds since the round started.
type Buzz struct {
	Team string `json:"team"`
	Name string `json:"name"`
	Time int64  `json:"time"`
}

// Record is the persisted form of a session.
// StartTime is Unix milliseconds, and is nil exactly when Buzzes is empty.
// Revision counts the writes made to the session.
type Record struct {
	Teams     []string `json:"teams"`
	Buzzes    []Buzz   `json:"buzzes"`
	StartTime *int64   `json:"startTime"`
	Revision  int64    `json:"revision"`
}

func newRecord(teams []string) *Record {
	return &Record{
		Teams:  slices.Clone(teams),
		Buzzes: []Buzz{},
	}
}

func (r *Record) State() RoundState {
	if r.StartTime == nil {
		return Armed
	}

	return Locked
}

func (r *Record) HasTeam(team string) bool {
	return slices.Contains(r.Teams, team)
}

// RecordBuzz accepts a buzz at instant now. The first buzz of a round sets
// the start time and gets 0; later buzzes get the elapsed time rounded up
// to the next millisecond, and never less than 1. The list stays sorted by
// time, ties keeping arrival order.
//
// On error the record is left untouched.
func (r *Record) RecordBuzz(name, team string, now time.Time) (Buzz, error) {
	if !r.HasTeam(team) {
		return Buzz{}, fmt.Errorf("%w: %q", ErrInvalidTeam, team)
	}

	b := Buzz{Team: team, Name: name}

	if r.StartTime == nil {
		start := now.UnixMilli()
		r.StartTime = &start
	} else {
		elapsed := now.Sub(time.UnixMilli(*r.StartTime))
		if elapsed < 0 {
			return Buzz{}, fmt.Errorf("%w: %s before round start", ErrClockRegression, -elapsed)
		}

		b.Time = max(1, int64((elapsed+time.Millisecond-1)/time.Millisecond))
	}

	r.Buzzes = append(r.Buzzes, b)
	slices.SortStableFunc(r.Buzzes, func(x, y Buzz) int {
		return cmp.Compare(x.Time, y.Time)
	})

	return b, nil
}

// Reset returns the round to armed. Resetting an armed round changes nothing.
func (r *Record) Reset() {
	r.Buzzes = []Buzz{}
	r.StartTime = nil
}

// Snapshot is a read-only copy of a session handed to callers.
type Snapshot struct {
	ID        string     `json:"gameId"`
	Teams     []string   `json:"teams"`
	Buzzes    []Buzz     `json:"buzzes"`
	StartTime *int64     `json:"startTime"`
	State     RoundState `json:"state"`
	Revision  int64      `json:"revision"`
}

func (r *Record) snapshot(id string) *Snapshot {
	s := &Snapshot{
		ID:       id,
		Teams:    slices.Clone(r.Teams),
		Buzzes:   slices.Clone(r.Buzzes),
		State:    r.State(),
		Revision: r.Revision,
	}
	if s.Buzzes == nil {
		s.Buzzes = []Buzz{}
	}
	if r.StartTime != nil {
		start := *r.StartTime
		s.StartTime = &start
	}

	return s
}
