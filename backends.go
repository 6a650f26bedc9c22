/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"

	"github.com/Seednode/buzzbox/broadcast"
	"github.com/Seednode/buzzbox/session"
	"github.com/Seednode/buzzbox/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// backends holds the store and fan-out selected on the command line, plus
// the background loops that keep them running.
type backends struct {
	store   session.Store
	hub     *broadcast.Hub
	gateway *broadcast.Gateway

	loops   []func(ctx context.Context) error
	closers []func() error
}

func newBackends(ctx context.Context, cfg *Config) (*backends, error) {
	b := &backends{
		hub: broadcast.NewHub(cfg.subscriberBuffer),
	}

	var rdb *redis.Client
	if cfg.store == storeRedis || cfg.broadcast == broadcastRedis {
		var err error

		rdb, err = store.NewRedisClient(ctx, cfg.redisAddr, cfg.redisPassword, cfg.redisDB)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, rdb.Close)
	}

	switch cfg.store {
	case storeRedis:
		b.store = store.NewRedis(rdb)
	default:
		mem := store.NewMemory(nil)
		b.store = mem
		b.loops = append(b.loops, func(ctx context.Context) error {
			mem.Run(ctx, cfg.sessionTTL/2)

			return nil
		})
	}

	switch cfg.broadcast {
	case broadcastRedis:
		t := broadcast.NewRedisTransport(rdb, b.hub)
		b.gateway = broadcast.NewGateway(t)
		b.loops = append(b.loops, t.Relay)
	case broadcastNATS:
		nc, err := broadcast.ConnectNATS(cfg.natsURL)
		if err != nil {
			_ = b.close()

			return nil, err
		}
		b.closers = append(b.closers, func() error {
			nc.Close()

			return nil
		})

		t := broadcast.NewNATSTransport(nc, b.hub)
		b.gateway = broadcast.NewGateway(t)
		b.loops = append(b.loops, t.Relay)
	default:
		b.gateway = broadcast.NewGateway(b.hub)
	}

	log.Info().
		Str("store", cfg.store).
		Str("broadcast", cfg.broadcast).
		Msg("backends ready")

	return b, nil
}

// run starts every background loop. A loop that fails is logged and not
// restarted.
func (b *backends) run(ctx context.Context) {
	for _, loop := range b.loops {
		go func() {
			if err := loop(ctx); err != nil {
				log.Error().Err(err).Msg("background loop stopped")
			}
		}()
	}
}

func (b *backends) close() error {
	b.hub.Close()

	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}

	return errors.Join(errs...)
}
