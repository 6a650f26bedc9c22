/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package broadcast relays session events to every subscriber of a
// session's topic. It holds no session state of its own.
package broadcast

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	EventNewBuzz      = "new-buzz"
	EventResetBuzzes  = "reset-buzzes"
	EventSessionState = "state"

	topicPrefix = "buzzbox.session."
)

var ErrDeliveryDegraded = errors.New("event delivery degraded")

// Event is the envelope written to subscribers. Revision is the session
// revision the event produced; replies that change nothing leave it zero.
type Event struct {
	Name     string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	Revision int64           `json:"rev,omitempty"`
}

// Topic returns the fan-out topic for a session. It depends only on the
// session identifier, so the host and every participant resolve to the same
// topic without a lookup.
func Topic(sessionID string) string {
	return topicPrefix + sessionID
}

// SessionID is the inverse of Topic.
func SessionID(topic string) (string, bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return "", false
	}

	id := strings.TrimPrefix(topic, topicPrefix)

	return id, id != ""
}

// NewEvent marshals payload into an envelope. A nil payload becomes {}.
func NewEvent(name string, payload any) ([]byte, error) {
	return NewRevisionEvent(name, 0, payload)
}

// NewRevisionEvent is NewEvent for an event that produced revision rev.
func NewRevisionEvent(name string, rev int64, payload any) ([]byte, error) {
	data := json.RawMessage(`{}`)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}

	return json.Marshal(Event{Name: name, Data: data, Revision: rev})
}

// Revision reads the revision of an encoded event, or 0 if it has none.
func Revision(data []byte) int64 {
	var ev struct {
		Revision int64 `json:"rev"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return 0
	}

	return ev.Revision
}
