/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import "errors"

var (
	ErrInvalidTeamCount = errors.New("invalid number of teams")
	ErrInvalidTeam      = errors.New("team is not part of this session")
	ErrInvalidName      = errors.New("invalid participant name")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionBusy      = errors.New("session busy")

	// ErrClockRegression means the time source went backwards within a
	// round. The clock must never do this; the command fails untouched.
	ErrClockRegression = errors.New("clock moved backwards within a round")
)
