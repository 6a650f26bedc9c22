/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSTransport publishes events on core NATS subjects named after the topic.
type NATSTransport struct {
	conn *nats.Conn
	hub  *Hub
}

func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("buzzbox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return nc, nil
}

func NewNATSTransport(conn *nats.Conn, hub *Hub) *NATSTransport {
	return &NATSTransport{conn: conn, hub: hub}
}

func (t *NATSTransport) Publish(_ context.Context, topic string, data []byte) error {
	if err := t.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}

	return nil
}

// Relay blocks until ctx is cancelled. A synchronous subscription is used
// so messages are delivered to the hub one at a time, in subject order.
func (t *NATSTransport) Relay(ctx context.Context) error {
	sub, err := t.conn.SubscribeSync(topicPrefix + "*")
	if err != nil {
		return fmt.Errorf("failed to subscribe to session topics: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	log.Info().Str("subject", topicPrefix+"*").Msg("relaying NATS session events")

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to receive session event: %w", err)
		}

		if err := t.hub.Deliver(msg.Subject, msg.Data); err != nil {
			log.Warn().Err(err).Str("topic", msg.Subject).Msg("relay delivery degraded")
		}
	}
}
