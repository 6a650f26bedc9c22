/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package store provides the key-value backends that hold session records.
// Every backend supports get, set-with-expiry and create-if-absent; entries
// disappear passively once their time-to-live elapses.
package store

import (
	"errors"
	"fmt"
)

const (
	// SessionKeyPrefix is the key layout for session records: buzzbox:session:{id}
	SessionKeyPrefix = "buzzbox:session:{%s}"
)

const lockSuffix = ":lock"

var (
	ErrNotFound = errors.New("key not found")
	ErrExists   = errors.New("key already exists")
	ErrLocked   = errors.New("key is locked")
)

// SessionKey returns the storage key for a session identifier.
func SessionKey(id string) string {
	return fmt.Sprintf(SessionKeyPrefix, id)
}
