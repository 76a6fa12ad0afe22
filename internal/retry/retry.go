// Package retry implements exponential-backoff retry for operations whose
// failures classify as retryable.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/portfolio-tracker/internal/errors"
)

// Config configures retry behavior.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts including the first
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap on the backoff delay
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultConfig returns the default retry configuration.
// Pattern: 1s, 2s, 4s, capped at 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Func is an operation that can be retried.
type Func func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds, returns a terminal error, the attempt budget
// is spent, or the context is cancelled. Only errors that classify retryable
// via the taxonomy are retried; terminal errors are returned immediately.
func Do(ctx context.Context, cfg Config, logger zerolog.Logger, fn Func) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempts", attempt).Msg("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !apperrors.IsRetryable(err) {
			logger.Debug().Err(err).Msg("terminal error, not retrying")
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoffDelay(cfg, attempt)
		logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("delay", delay).
			Err(err).
			Msg("operation failed, retrying with backoff")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Error().Int("attempts", cfg.MaxAttempts).Err(lastErr).Msg("operation failed after max attempts")
	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// backoffDelay computes initialDelay * multiplier^(attempt-1), capped at MaxDelay.
func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
