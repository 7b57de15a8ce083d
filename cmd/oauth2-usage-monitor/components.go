package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wrale/oauth2-usage-monitor/internal/credential"
	"github.com/wrale/oauth2-usage-monitor/internal/deviceflow"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
	"github.com/wrale/oauth2-usage-monitor/internal/session"
	"github.com/wrale/oauth2-usage-monitor/internal/usage"
)

const redisPingTimeout = 5 * time.Second

// components is everything the server and the login command share
type components struct {
	redis    *redis.Client // nil without REDIS_URL
	creds    credential.Store
	cache    *usage.RedisCache // nil without REDIS_URL
	client   *deviceflow.Client
	usage    *usage.Store
	sessions *session.Manager
}

func newComponents(ctx context.Context, cfg Config, logger *zap.Logger) (*components, error) {
	c := &components{}
	storeOpts := []usage.Option{
		usage.WithLogger(logger.Named("usage")),
		usage.WithFetchTimeout(cfg.FetchTimeout),
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing Redis URL: %w", err)
		}
		c.redis = redis.NewClient(redisOpts)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := c.redis.Ping(pingCtx).Err(); err != nil {
			_ = c.redis.Close()
			return nil, fmt.Errorf("connecting to Redis: %w", err)
		}

		c.creds = credential.NewRedisStore(c.redis, cfg.Account)
		c.cache = usage.NewRedisCache(c.redis, cfg.Account, cfg.SnapshotTTL)
		storeOpts = append(storeOpts, usage.WithCache(c.cache))
	} else {
		logger.Warn("REDIS_URL is not set; the credential lives only as long as the process")
		c.creds = credential.NewMemoryStore(oauth.Credential(cfg.Token))
	}

	provider := cfg.OAuth()
	c.client = deviceflow.NewClient(provider,
		deviceflow.WithLogger(logger.Named("deviceflow")),
		deviceflow.WithMaxPollInterval(cfg.MaxPollInterval))

	fetcher := usage.NewHTTPFetcher(provider.UsageURL,
		usage.WithRequestTimeout(cfg.FetchTimeout),
		usage.WithUserAgent("oauth2-usage-monitor/"+Version))
	c.usage = usage.NewStore(fetcher, c.creds, storeOpts...)

	c.sessions = session.NewManager(c.client, c.creds,
		session.WithRefresher(c.usage),
		session.WithLogger(logger.Named("session")))

	return c, nil
}

// Close releases the Redis connection, if any
func (c *components) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
