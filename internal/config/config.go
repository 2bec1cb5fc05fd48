// Package config loads runtime settings for the relay from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config holds every tunable of the relay. Zero values for the optional peer
// knobs keep the plain inline forwarding behaviour.
type Config struct {
	Port        string `env:"SERVER_PORT" default:":8080"`
	ServiceName string `env:"SERVICE_NAME" default:"SVC"`

	PeerURL             string        `env:"PEER_URL"`
	PeerTimeout         time.Duration `env:"PEER_TIMEOUT" default:"5s"`
	PeerQueueSize       int           `env:"PEER_QUEUE_SIZE" default:"0"`
	PeerBreakerFailures int           `env:"PEER_BREAKER_FAILURES" default:"0"`
	PeerBreakerCooldown time.Duration `env:"PEER_BREAKER_COOLDOWN" default:"30s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" default:"*"`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE" default:"65536"`
	SendBufferSize int      `env:"SEND_BUFFER_SIZE" default:"256"`
	RateLimit      RateLimitConfig

	MetricsTick     time.Duration `env:"METRICS_TICK" default:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
// A Burst of zero disables limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" default:"0"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
}

// PeerEnabled reports whether a forwarding target is configured.
func (c *Config) PeerEnabled() bool {
	return c.PeerURL != ""
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("SERVER_PORT must not be empty")
	}
	if c.PeerURL != "" {
		u, err := url.Parse(c.PeerURL)
		if err != nil {
			return fmt.Errorf("PEER_URL is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("PEER_URL must be an absolute http(s) URL, got %q", c.PeerURL)
		}
	}
	if c.PeerTimeout <= 0 {
		return errors.New("PEER_TIMEOUT must be positive")
	}
	if c.PeerQueueSize < 0 {
		return errors.New("PEER_QUEUE_SIZE must not be negative")
	}
	if c.PeerBreakerFailures < 0 {
		return errors.New("PEER_BREAKER_FAILURES must not be negative")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("MAX_MESSAGE_SIZE must be positive")
	}
	if c.SendBufferSize <= 0 {
		return errors.New("SEND_BUFFER_SIZE must be positive")
	}
	if c.RateLimit.Burst < 0 {
		return errors.New("RATE_LIMIT_BURST must not be negative")
	}
	if c.RateLimit.Burst > 0 && c.RateLimit.RefillInterval <= 0 {
		return errors.New("RATE_LIMIT_REFILL_INTERVAL must be positive when rate limiting is enabled")
	}
	if c.MetricsTick < 0 {
		return errors.New("METRICS_TICK must not be negative")
	}
	return nil
}
