package server

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/Tyrowin/chatrelay/internal/config"
)

// newRateLimiter returns a token bucket that allows cfg.Burst messages per
// cfg.RefillInterval, or nil when limiting is disabled.
func newRateLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.Burst <= 0 {
		return nil
	}

	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	every := interval / time.Duration(cfg.Burst)
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, cfg.Burst)
	}
	return rate.NewLimiter(rate.Every(every), cfg.Burst)
}
