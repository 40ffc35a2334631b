// Package cache provides a Redis-backed WiFi resolution cache for
// deployments where several server instances share resolutions.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onichip/pettrack-backend-go/internal/models"
)

const keyPrefix = "pettrack:wifi:"

// RedisWifiCache stores entries under pettrack:wifi:<fingerprint> with a
// native Redis TTL matching the entry's expiry.
type RedisWifiCache struct {
	rdb *redis.Client
}

// NewRedisWifiCache wraps an existing client.
func NewRedisWifiCache(rdb *redis.Client) *RedisWifiCache {
	return &RedisWifiCache{rdb: rdb}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*RedisWifiCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisWifiCache{rdb: rdb}, nil
}

func key(fingerprint string) string {
	return keyPrefix + fingerprint
}

// Get returns the entry unless it is missing or expired at now.
func (c *RedisWifiCache) Get(ctx context.Context, fingerprint string, now time.Time) (*models.WifiCacheEntry, error) {
	raw, err := c.rdb.Get(ctx, key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", fingerprint, err)
	}

	var e models.WifiCacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", fingerprint, err)
	}
	if e.Expired(now) {
		return nil, nil
	}
	return &e, nil
}

// Put stores the entry until its ExpiresAt. Already-expired entries are dropped.
func (c *RedisWifiCache) Put(ctx context.Context, e models.WifiCacheEntry) error {
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, key(e.Fingerprint), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", e.Fingerprint, err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis evicts expired keys itself.
func (c *RedisWifiCache) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// Close releases the client.
func (c *RedisWifiCache) Close() error {
	return c.rdb.Close()
}
