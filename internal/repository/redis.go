package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the coordination substrate shared by the token cache, the
// sync fingerprint guard and the commerce price cache. It exposes the three
// primitives those callers need (string get/set with TTL, delete, and a
// SETNX-style lock) instead of the raw go-redis client, so every key that
// ends up in Redis goes through one of these named operations.
type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(redisURL string) (*RedisClient, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Ping checks connectivity, used by the readiness probe.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetString returns the value at key, with found=false (not an error) when
// the key does not exist or has expired.
func (r *RedisClient) GetString(ctx context.Context, key string) (value string, found bool, err error) {
	value, err = r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// SetString stores value at key with the given TTL. A ttl <= 0 is rejected
// rather than silently persisted forever: every cached value in this system
// (tokens, price snapshots) carries an expiry.
func (r *RedisClient) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis set %s: non-positive ttl %v", key, ttl)
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Del removes the given keys. Deleting a key that does not exist is not an
// error, matching how cache invalidation callers use it.
func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// AcquireLock takes a SETNX-style lock at key with the given TTL, reporting
// whether this caller won it. The TTL bounds how long a crashed holder can
// wedge the key; the winner releases earlier via Del.
func (r *RedisClient) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}
