package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store using go-redis. Unlike Distributed it has no
// client-side caching, and connects lazily on first command, which suits
// servers that do not support RESP3 client tracking.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// DialRedis creates a client for the server at url, for example
// "redis://:password@localhost:6379/0". timeout bounds dialing, reads and
// writes; zero keeps the client defaults.
func DialRedis(url string, timeout time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}

	return NewRedis(redis.NewClient(opts)), nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cached value: %w", err)
	}

	return val, true, nil
}

// SetWithExpiry stores a token with a server-side expiry in whole seconds.
// Expiries under one second are not written.
func (r *Redis) SetWithExpiry(ctx context.Context, key string, token string, ttl time.Duration) error {
	ttl = ttl.Truncate(time.Second)
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, key, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached value: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
