package api

import (
	"fmt"
	"time"

	"github.com/mihaimyh/goreconcile/pkg/reconcile"
)

// DefaultMaxBodyBytes caps webhook payloads at 256 KiB.
const DefaultMaxBodyBytes int64 = 256 * 1024

// Config holds configuration for the webhook handler
type Config struct {
	// Reconciler applies decoded events (required)
	Reconciler *reconcile.Reconciler

	// Logger records transport-level failures. Defaults to a no-op logger.
	Logger reconcile.Logger

	// MaxBodyBytes limits the request body size. Default: 256 KiB
	MaxBodyBytes int64

	// ProcessTimeout bounds directory work for one delivery.
	// Zero leaves the request context untouched.
	ProcessTimeout time.Duration

	// RateLimit is the number of deliveries allowed per client IP per RateLimitWindow.
	// Zero disables rate limiting.
	RateLimit int

	// RateLimitWindow is the rate limiting window. Default: 1 minute
	RateLimitWindow time.Duration
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Reconciler == nil {
		return fmt.Errorf("reconciler is required")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max body bytes must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

// NewHandler creates a new webhook handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &reconcile.NoopLogger{}
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = time.Minute
	}
	return &Handler{config: config}, nil
}
