/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// lockLease bounds how long a crashed holder can keep a session locked.
	// It must exceed the time one mutation spends inside the lock.
	lockLease = 10 * time.Second

	lockRetryInterval = 20 * time.Millisecond
)

// unlockScript deletes the lock key only while it still holds our token, so
// a holder whose lease ran out never releases someone else's lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient creates a Redis client and pings it to make sure the
// server is reachable before the caller starts serving.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("no Redis address provided")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  6 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()

		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Int("db", db).Msg("connected to Redis")

	return rdb, nil
}

// Redis stores session records as plain string values with a native TTL.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}

	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}

	return nil
}

func (r *Redis) Create(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create %s in Redis: %w", key, err)
	}
	if !ok {
		return ErrExists
	}

	return nil
}

// Lock takes a lease on key shared by every process using this server. It
// retries until wait runs out and then fails with ErrLocked.
func (r *Redis) Lock(ctx context.Context, key string, wait time.Duration) (func(), error) {
	lockKey := key + lockSuffix
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, lockLease).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to lock %s in Redis: %w", key, err)
		}
		if ok {
			return func() {
				if err := unlockScript.Run(context.WithoutCancel(ctx), r.client, []string{lockKey}, token).Err(); err != nil {
					log.Warn().Err(err).Str("key", lockKey).Msg("failed to release Redis lock")
				}
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, ErrLocked
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
