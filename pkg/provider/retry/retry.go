// Package retry implements exponential-backoff retry for provider backend
// calls. Adapted from the teacher's pkg/sidecar/retry/retry.go: the public
// Config/DefaultConfig/WithRetry surface is kept, but the loop itself now
// runs on github.com/cenkalti/backoff/v4 instead of a hand-rolled timer.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config defines retry behavior with exponential backoff.
// Matches Infisical's retry pattern: 3 attempts, 200ms base, 5s max.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns standard retry configuration.
// Based on industry best practices (Infisical, cloud SDK defaults).
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// WithRetry executes fn with exponential backoff retry logic.
// Retries on any error; the delay starts at BaseDelay and doubles after each
// attempt, capped at MaxDelay (with DefaultConfig: 200ms, then 400ms).
//
// Context cancellation is respected - returns immediately if ctx.Done().
func WithRetry(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // bounded by MaxAttempts below, not wall-clock

	bounded := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1)), ctx)

	attempts := 0
	var lastErr error
	err := backoff.Retry(func() error {
		attempts++
		lastErr = fn()
		return lastErr
	}, bounded)

	if err == nil {
		return nil
	}
	if ctx.Err() != nil && attempts < cfg.MaxAttempts {
		return fmt.Errorf("retry canceled: %w", ctx.Err())
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
