/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Transport moves an encoded event to the subscribers of a topic.
type Transport interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Gateway publishes session events. Callers issue Publish calls for a given
// session in order, and the gateway hands them to the transport in that same
// order; it adds no sequencing of its own.
type Gateway struct {
	transport Transport
	degraded  atomic.Uint64
}

func NewGateway(transport Transport) *Gateway {
	return &Gateway{transport: transport}
}

// Publish never aborts the caller's write path. Any failure is logged,
// counted, and returned wrapped in ErrDeliveryDegraded so callers can tell
// it apart from their own errors.
func (g *Gateway) Publish(ctx context.Context, sessionID string, rev int64, event string, payload any) error {
	topic := Topic(sessionID)

	data, err := NewRevisionEvent(event, rev, payload)
	if err != nil {
		return g.degrade(topic, event, fmt.Errorf("%w: encode %s: %v", ErrDeliveryDegraded, event, err))
	}

	if err := g.transport.Publish(ctx, topic, data); err != nil {
		return g.degrade(topic, event, fmt.Errorf("%w: %w", ErrDeliveryDegraded, err))
	}

	log.Debug().
		Str("topic", topic).
		Str("event", event).
		Msg("event published")

	return nil
}

func (g *Gateway) degrade(topic, event string, err error) error {
	g.degraded.Add(1)

	log.Warn().
		Err(err).
		Str("topic", topic).
		Str("event", event).
		Msg("event delivery degraded")

	return err
}

// Degraded reports how many publishes have failed to reach every subscriber.
func (g *Gateway) Degraded() uint64 {
	return g.degraded.Load()
}
