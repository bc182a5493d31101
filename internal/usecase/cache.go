package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache holds recently finished attempts so status lookups skip the database.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache stores attempt summaries under a shared key prefix so several
// kiosks can use one Redis without colliding.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache wraps client. Keys are written as prefix + key.
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Set writes value with the given expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, expiration).Err()
}

// Get returns redis.Nil on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, c.prefix+key).Result()
}

// nopCache is used when no Redis address is configured. Every lookup misses.
type nopCache struct{}

func (nopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }

func (nopCache) Get(context.Context, string) (string, error) { return "", redis.Nil }
