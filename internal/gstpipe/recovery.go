package gstpipe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/visiona/glbridge/internal/logging"
)

// RecoveryConfig controls automatic pipeline rebuilds after fatal bus
// errors.
type RecoveryConfig struct {
	// MaxRetries bounds consecutive failed rebuilds before giving up.
	// Zero or negative retries forever.
	MaxRetries int
	// RetryDelay is the first backoff delay
	RetryDelay time.Duration
	// MaxRetryDelay caps the exponential backoff
	MaxRetryDelay time.Duration
}

// DefaultRecoveryConfig returns the recovery defaults.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// RecoveryState tracks consecutive failures across rebuild attempts.
// Reset it once the pipeline proves healthy again so a later outage
// gets a fresh retry budget.
type RecoveryState struct {
	attempts atomic.Int32
}

// Reset clears the consecutive-failure count.
func (s *RecoveryState) Reset() {
	s.attempts.Store(0)
}

// Attempts returns the current consecutive-failure count.
func (s *RecoveryState) Attempts() int {
	return int(s.attempts.Load())
}

// RunWithRecovery runs one pipeline session at a time and rebuilds after
// fatal errors with exponential backoff. run must block for the session's
// lifetime and return nil on clean end of stream, which stops the loop.
//
// Context cancellation always wins: it stops both a running session and
// a backoff wait.
func RunWithRecovery(ctx context.Context, run func(ctx context.Context) error, cfg RecoveryConfig, state *RecoveryState) error {
	log := logging.Logger()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := run(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return ctx.Err()
		}

		attempt := int(state.attempts.Add(1))
		if cfg.MaxRetries > 0 && attempt > cfg.MaxRetries {
			return fmt.Errorf("gstpipe: giving up after %d rebuild attempts: %w", attempt-1, err)
		}

		delay := calculateBackoff(attempt, cfg)

		category := ErrorCategoryUnknown
		var perr *PipelineError
		if errors.As(err, &perr) {
			category = perr.Category
		}
		log.Warn("gstpipe: pipeline failed, rebuilding",
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"category", category.String(),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// calculateBackoff returns the exponential delay for the given attempt,
// capped at MaxRetryDelay.
func calculateBackoff(attempt int, cfg RecoveryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
