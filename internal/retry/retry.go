// Package retry retries transient failures with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config holds the retry policy. MaxRetries counts retries after the first
// attempt.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// Jitter adds up to one extra backoff interval of random delay.
	Jitter bool
}

// DefaultConfig suits short JSON-RPC calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// Do calls fn until it succeeds, returns an error isRetryable rejects, or
// the retries run out. onRetry may be nil.
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable func(error) bool,
	onRetry func(attempt int, err error, backoff time.Duration),
	fn func() (T, error),
) (T, error) {
	var zero T
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if cfg.Jitter {
				wait += time.Duration(rand.Int64N(int64(backoff)))
			}
			if onRetry != nil {
				onRetry(attempt, lastErr, wait)
			}
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, fmt.Errorf("retry: cancelled after %d attempts: %w", attempt, lastErr)
			case <-t.C:
			}
			backoff = min(time.Duration(float64(backoff)*cfg.BackoffFactor), cfg.MaxBackoff)
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("retry: gave up after %d retries: %w", cfg.MaxRetries, lastErr)
}
