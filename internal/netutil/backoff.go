// Package netutil holds small connection-retry helpers shared by the
// scanner's dial path.
package netutil

import (
	"math"
	"math/rand"
	"time"

	"github.com/mgolinelli/wcdscan/internal/config"
)

// Backoff provides exponential backoff with jitter for retry operations.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	JitterRatio float64

	attempt int
}

// DefaultBackoff returns a backoff with default configuration.
func DefaultBackoff() *Backoff {
	return &Backoff{
		BaseDelay:   config.BaseBackoffDelay,
		MaxDelay:    config.MaxBackoffDelay,
		JitterRatio: config.BackoffJitterRatio,
		Multiplier:  config.BackoffMultiplier,
	}
}

// Next returns the next backoff delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return b.Calculate(b.attempt)
}

// Calculate returns the backoff delay for a specific attempt number.
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt-1))

	if b.JitterRatio > 0 {
		jitter := delay * b.JitterRatio * (rand.Float64()*2 - 1)
		delay += jitter
	}

	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if delay < 0 {
		delay = float64(b.BaseDelay)
	}

	return time.Duration(delay)
}

// Reset resets the attempt counter.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the current attempt number.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// RetryConfig bounds a Backoff by a maximum attempt count.
type RetryConfig struct {
	MaxAttempts int
	Backoff     *Backoff
}

// DefaultRetryConfig returns a retry configuration with defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: config.MaxReconnectAttempts,
		Backoff:     DefaultBackoff(),
	}
}

// ShouldRetry returns whether another retry should be attempted.
func (r *RetryConfig) ShouldRetry() bool {
	return r.Backoff.Attempt() < r.MaxAttempts
}

// NextDelay returns the delay before the next retry.
func (r *RetryConfig) NextDelay() time.Duration {
	return r.Backoff.Next()
}
