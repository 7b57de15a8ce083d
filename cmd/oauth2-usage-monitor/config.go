package main

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
)

// Config holds settings loaded from environment variables
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	RedisURL string `envconfig:"REDIS_URL"`
	Account  string `envconfig:"ACCOUNT" default:"github"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Token seeds the in-memory credential store when REDIS_URL is unset
	Token string `envconfig:"GITHUB_TOKEN"`

	// Provider overrides; empty values keep the GitHub defaults
	ClientID      string   `envconfig:"GITHUB_CLIENT_ID"`
	Scopes        []string `envconfig:"OAUTH_SCOPES"`
	DeviceAuthURL string   `envconfig:"DEVICE_AUTH_URL"`
	TokenURL      string   `envconfig:"TOKEN_URL"`
	UsageURL      string   `envconfig:"USAGE_URL"`

	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"5m"`
	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT" default:"15s"`
	MaxPollInterval time.Duration `envconfig:"MAX_POLL_INTERVAL" default:"60s"`
	SnapshotTTL     time.Duration `envconfig:"SNAPSHOT_TTL" default:"24h"`

	// HTTP server timeouts
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// loadConfig reads and validates the environment
func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.RefreshInterval <= 0 {
		return Config{}, fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", cfg.RefreshInterval)
	}
	if cfg.FetchTimeout <= 0 {
		return Config{}, fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", cfg.FetchTimeout)
	}
	return cfg, nil
}

// OAuth returns the provider configuration threaded into each component
func (c Config) OAuth() oauth.Config {
	cfg := oauth.DefaultConfig()
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}
	if len(c.Scopes) > 0 {
		cfg.Scopes = c.Scopes
	}
	if c.DeviceAuthURL != "" {
		cfg.DeviceAuthURL = c.DeviceAuthURL
	}
	if c.TokenURL != "" {
		cfg.TokenURL = c.TokenURL
	}
	if c.UsageURL != "" {
		cfg.UsageURL = c.UsageURL
	}
	return cfg
}
