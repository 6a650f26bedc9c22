/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Subscriber receives the raw event envelopes published on one topic.
// Send is closed when the subscriber is removed from the hub.
type Subscriber struct {
	ID    string
	Topic string
	Send  chan []byte
}

// Hub fans events out to the subscribers connected to this process.
// Delivery never blocks the publisher: a subscriber whose buffer is full is
// dropped and the publish reports ErrDeliveryDegraded.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}

	return &Hub{
		topics: make(map[string]map[*Subscriber]struct{}),
		buffer: buffer,
	}
}

func (h *Hub) Subscribe(topic string) *Subscriber {
	s := &Subscriber{
		ID:    uuid.NewString(),
		Topic: topic,
		Send:  make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscriber]struct{})
	}
	h.topics[topic][s] = struct{}{}

	log.Debug().
		Str("subscriber_id", s.ID).
		Str("topic", topic).
		Int("subscribers", len(h.topics[topic])).
		Msg("subscriber registered")

	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call more
// than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscriber) {
	subs, ok := h.topics[s.Topic]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}

	delete(subs, s)
	close(s.Send)

	if len(subs) == 0 {
		delete(h.topics, s.Topic)
	}

	log.Debug().
		Str("subscriber_id", s.ID).
		Str("topic", s.Topic).
		Msg("subscriber removed")
}

// Publish implements Transport by delivering to local subscribers.
func (h *Hub) Publish(_ context.Context, topic string, data []byte) error {
	return h.Deliver(topic, data)
}

// Deliver hands data to every subscriber of topic, in call order.
func (h *Hub) Deliver(topic string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for s := range h.topics[topic] {
		select {
		case s.Send <- data:
		default:
			log.Warn().
				Str("subscriber_id", s.ID).
				Str("topic", topic).
				Msg("subscriber buffer full, dropping subscriber")
			h.removeLocked(s)
			dropped++
		}
	}

	if dropped > 0 {
		return fmt.Errorf("%w: %d subscriber(s) dropped on %s", ErrDeliveryDegraded, dropped, topic)
	}

	return nil
}

// Subscribers reports how many subscribers are attached to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.topics[topic])
}

// Close removes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.topics {
		for s := range subs {
			h.removeLocked(s)
		}
	}
}
