package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/willibrandon/eventimport/internal/logger"
)

// RetryState tracks connection attempts against the target.
type RetryState struct {
	Attempt     int           // Current attempt number (1-based)
	LastAttempt time.Time     // Timestamp of last attempt
	NextDelay   time.Duration // Delay before the next attempt
	MaxRetries  int           // Retries after the first attempt
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryState creates a retry state with a 1s base delay capped at 30s.
func NewRetryState(maxRetries int) *RetryState {
	return &RetryState{
		MaxRetries: maxRetries,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		NextDelay:  time.Second,
	}
}

// CalculateNextDelay returns the wait before the current attempt, doubling
// per retry. The first attempt does not wait; the first retry waits BaseDelay.
// Sequence: 1s, 2s, 4s, 8s, 16s, capped at 30s
func (r *RetryState) CalculateNextDelay() time.Duration {
	shift := r.Attempt - 2
	if shift < 0 {
		shift = 0
	}
	if shift > 16 {
		shift = 16
	}
	delay := r.BaseDelay << uint(shift)
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// NextAttempt records an attempt and reports whether it is allowed.
func (r *RetryState) NextAttempt() bool {
	r.Attempt++
	r.LastAttempt = time.Now()
	r.NextDelay = r.CalculateNextDelay()
	return r.Attempt <= r.MaxRetries+1
}

// retry calls fn until it succeeds, the attempts run out or ctx ends.
func retry[T any](ctx context.Context, state *RetryState, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for state.NextAttempt() {
		if state.Attempt > 1 {
			logger.Debug("Waiting before connection attempt", "attempt", state.Attempt, "delay", state.NextDelay)
			timer := time.NewTimer(state.NextDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		v, err := fn(ctx)
		if err == nil {
			if state.Attempt > 1 {
				logger.Info("Connected after retry", "attempt", state.Attempt)
			}
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, err
		}
		logger.Warn("Connection attempt failed",
			"attempt", state.Attempt,
			"max_attempts", state.MaxRetries+1,
			"error", err,
		)
	}
	return zero, fmt.Errorf("giving up after %d attempts: %w", state.MaxRetries+1, lastErr)
}
