package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotPrefix = "usage:snapshot:"

// RedisCache implements Cache using Redis
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCache creates a snapshot cache for the named account. A zero ttl
// keeps the snapshot until it is replaced.
func NewRedisCache(client *redis.Client, account string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, key: snapshotPrefix + account, ttl: ttl}
}

// CheckHealth verifies Redis connectivity
func (c *RedisCache) CheckHealth(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Load retrieves the cached snapshot, or nil when there is none
func (c *RedisCache) Load(ctx context.Context) (*Snapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &snap, nil
}

// Save replaces the cached snapshot
func (c *RedisCache) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}
