/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisTransport publishes events on Redis channels named after the topic.
// Relay feeds everything published on those channels into a local Hub, so
// websocket subscribers see events regardless of which process accepted the
// command.
type RedisTransport struct {
	client redis.UniversalClient
	hub    *Hub
}

func NewRedisTransport(client redis.UniversalClient, hub *Hub) *RedisTransport {
	return &RedisTransport{client: client, hub: hub}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, data []byte) error {
	if err := t.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}

	return nil
}

// Relay blocks until ctx is cancelled. Messages arrive on a single Go
// channel, so per-channel order from Redis is kept.
func (t *RedisTransport) Relay(ctx context.Context) error {
	pubsub := t.client.PSubscribe(ctx, topicPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to session topics: %w", err)
	}

	log.Info().Str("pattern", topicPrefix+"*").Msg("relaying Redis session events")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := t.hub.Deliver(msg.Channel, []byte(msg.Payload)); err != nil {
				log.Warn().Err(err).Str("topic", msg.Channel).Msg("relay delivery degraded")
			}
		}
	}
}
