package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/trellis/errors"
)

// RedisGuard backs the idempotency guard with Redis, for deployments
// that run more than one trellis process against the same upstream.
// SET NX with a TTL is the atomic check-and-mark.
type RedisGuard struct {
	client *redis.Client
	window time.Duration
}

// NewRedisGuard connects to Redis and verifies the connection so the
// factory can fall back early instead of failing on first Acquire.
func NewRedisGuard(addr string, window time.Duration) (*RedisGuard, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", addr)
	}

	return &RedisGuard{client: client, window: window}, nil
}

func (g *RedisGuard) Acquire(ctx context.Context, signature string) (bool, error) {
	acquired, err := g.client.SetNX(ctx, "trellis:dedup:"+signature, 1, g.window).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to acquire dedup entry")
	}
	return acquired, nil
}

// CleanupExpired is a no-op: Redis evicts entries via their TTL.
func (g *RedisGuard) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}
