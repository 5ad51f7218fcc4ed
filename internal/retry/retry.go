// Package retry centralizes transient-failure handling for external calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"
)

// ErrExhausted wraps the last error after all attempts failed.
var ErrExhausted = errors.New("retry attempts exhausted")

type retryableError struct {
	err error
}

func (e *retryableError) Error() string     { return e.err.Error() }
func (e *retryableError) Unwrap() error     { return e.err }
func (e *retryableError) IsRetryable() bool { return true }

// Retryable marks err as transient so Do will attempt it again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Classify reports whether err is worth another attempt. Errors declare
// retryability through an IsRetryable method; network timeouts and context
// deadline expiry on a still-live parent also qualify.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	var tagged interface{ IsRetryable() bool }
	if errors.As(err, &tagged) {
		return tagged.IsRetryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Policy drives exponential backoff for every external call the gateway makes.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy builds a Policy, clamping nonsensical values to safe minimums.
func NewPolicy(maxAttempts int, initial, max time.Duration, factor float64) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	if factor < 1 {
		factor = 1
	}
	return &Policy{
		MaxAttempts:   maxAttempts,
		InitialDelay:  initial,
		MaxDelay:      max,
		BackoffFactor: factor,
		sleep:         sleepContext,
	}
}

// Delay returns the backoff before the given attempt (1-based; attempt 1 has
// no delay).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-2))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable error, the context
// ends, or attempts run out. Exhaustion wraps the last error in ErrExhausted.
func (p *Policy) Do(ctx context.Context, log *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if log == nil {
		log = slog.Default()
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Classify(lastErr) {
			log.Debug("operation failed terminally",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			return lastErr
		}
		log.Warn("operation failed, will retry",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.String("error", lastErr.Error()),
		)
	}
	return fmt.Errorf("%w: %s: %w", ErrExhausted, op, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
