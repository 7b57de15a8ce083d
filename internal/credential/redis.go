package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
)

const (
	credentialPrefix = "credential:"
	fieldToken       = "token"
	fieldSavedAt     = "saved_at"
)

// RedisStore implements the Store interface using Redis. Each store owns a
// single hash keyed by account name.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a new Redis-backed store for the named account
func NewRedisStore(client *redis.Client, account string) *RedisStore {
	return &RedisStore{client: client, key: credentialPrefix + account}
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Credential retrieves the stored credential
func (s *RedisStore) Credential(ctx context.Context) (oauth.Credential, error) {
	token, err := s.client.HGet(ctx, s.key, fieldToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("getting credential: %w", err)
	}
	return oauth.Credential(token), nil
}

// SavedAt reports when the credential was last saved
func (s *RedisStore) SavedAt(ctx context.Context) (time.Time, error) {
	secs, err := s.client.HGet(ctx, s.key, fieldSavedAt).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("getting credential timestamp: %w", err)
	}
	return time.Unix(secs, 0), nil
}

// Save stores the credential without expiry
func (s *RedisStore) Save(ctx context.Context, cred oauth.Credential) error {
	if cred.IsEmpty() {
		return s.Delete(ctx)
	}

	// Use pipeline to replace the hash atomically
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	pipe.HSet(ctx, s.key,
		fieldToken, string(cred),
		fieldSavedAt, time.Now().Unix())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

// Delete removes the stored credential
func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
