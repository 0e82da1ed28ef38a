package httpx

import (
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters for outbound calls.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// TokenEndpointLimit is the default budget for token endpoint calls made by a
// single client: 10 per minute with the whole budget available as a burst.
// Override with: RATELIMIT_TOKEN_REQUESTS, RATELIMIT_TOKEN_WINDOW_SEC, RATELIMIT_TOKEN_BURST
var TokenEndpointLimit = RateLimitConfig{
	RequestsPerWindow: 10,
	Window:            time.Minute,
	Burst:             10,
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_TOKEN_REQUESTS, RATELIMIT_TOKEN_WINDOW_SEC, RATELIMIT_TOKEN_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// NewLimiter converts a config into a token bucket. A zero or negative
// RequestsPerWindow yields nil, meaning "no limit".
func NewLimiter(config RateLimitConfig) *rate.Limiter {
	if config.RequestsPerWindow <= 0 || config.Window <= 0 {
		return nil
	}

	ratePerSecond := float64(config.RequestsPerWindow) / config.Window.Seconds()
	burst := max(config.Burst, 1)

	return rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}
