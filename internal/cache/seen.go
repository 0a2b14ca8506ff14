// Package cache holds the optional Redis pre-filter for already ingested
// carrier message ids.
package cache

import (
	"context"
	"fmt"
	"time"

	"smsrelay/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sms:seen:"

// SeenCache remembers provider message ids that have been stored. It is a
// hint only; the database remains authoritative for deduplication.
type SeenCache interface {
	Seen(ctx context.Context, providerID string) (bool, error)
	MarkSeen(ctx context.Context, providerID string) error
}

type RedisSeenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSeenCache(rdb *redis.Client, ttl time.Duration) *RedisSeenCache {
	return &RedisSeenCache{rdb: rdb, ttl: ttl}
}

// NewRedisClient builds a client from configuration and verifies it with PING.
func NewRedisClient(ctx context.Context, cfg models.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func key(providerID string) string {
	return keyPrefix + providerID
}

func (c *RedisSeenCache) Seen(ctx context.Context, providerID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key(providerID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisSeenCache) MarkSeen(ctx context.Context, providerID string) error {
	return c.rdb.Set(ctx, key(providerID), time.Now().UTC().Unix(), c.ttl).Err()
}

// NoopSeenCache is used when Redis is not configured.
type NoopSeenCache struct{}

func (NoopSeenCache) Seen(context.Context, string) (bool, error) { return false, nil }

func (NoopSeenCache) MarkSeen(context.Context, string) error { return nil }
