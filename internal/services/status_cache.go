package services

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusCachePrefix = "compliance:status:"

// RedisStatusCache stores compliance statuses as plain keys with a TTL.
type RedisStatusCache struct {
	client *redis.Client
}

func NewRedisStatusCache(client *redis.Client) *RedisStatusCache {
	return &RedisStatusCache{client: client}
}

func (c *RedisStatusCache) Get(ctx context.Context, reference string) (string, bool, error) {
	v, err := c.client.Get(ctx, statusCachePrefix+reference).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, reference, status string, ttl time.Duration) error {
	return c.client.Set(ctx, statusCachePrefix+reference, status, ttl).Err()
}
