// Package repository holds shared repository plumbing: the retry
// policy used by foreground fetches and the pending-op drain loop.
package repository

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	apperrors "eventwish-sync/internal/errors"
)

// RetryConfig defines backoff behavior for retried operations.
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// DefaultRetryConfig suits short foreground fetches.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// RetryWithBackoff runs operation until it succeeds, returns a
// non-retryable error, or exhausts MaxAttempts. Retryable errors that
// carry their own retry-after hint override the computed backoff.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !apperrors.IsRetryable(err) {
			return err
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := config.Delay(attempt)
		if hinted := apperrors.RetryAfter(err); hinted > 0 {
			delay = hinted
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// Delay computes the exponential backoff for an attempt, with jitter
// to avoid thundering herds, capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	backoff := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	jitter := backoff * c.JitterFactor * (rand.Float64() - 0.5) * 2
	delay := time.Duration(backoff + jitter)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
