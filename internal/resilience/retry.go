package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is a bounded backoff schedule. Session re-acquisition uses a
// fixed one (FixedRetry); forced checkpoint saves use an exponential one
// (FromRetryConfig) that skips store lock conflicts.
type RetryConfig struct {
	// MaxAttempts counts the first try. Values below 1 mean a single try.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait. Zero means no cap.
	MaxBackoff time.Duration

	// Multiplier grows the wait after each failure. Values up to 1 keep it
	// fixed.
	Multiplier float64

	// JitterFraction spreads each wait by ±fraction of itself.
	JitterFraction float64

	// ShouldRetry reports whether err is worth another try. Nil retries
	// every error.
	ShouldRetry func(err error) bool

	// OnRetry is called before each wait with the failed attempt number.
	OnRetry func(attempt int, err error)
}

// Do runs fn until it succeeds, the schedule is exhausted, ShouldRetry
// rejects the error, or ctx ends. It returns the last error.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for operations that produce a value, such as opening a
// lookup session.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if attempt >= attempts || ctx.Err() != nil || !cfg.retryable(err) {
			return zero, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleepCtx(ctx, cfg.Backoff(attempt-1)) {
			return zero, err
		}
	}
}

func (c RetryConfig) retryable(err error) bool {
	return c.ShouldRetry == nil || c.ShouldRetry(err)
}

// Backoff returns the wait after the failure of the zero-based attempt.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := float64(c.InitialBackoff)
	if c.Multiplier > 1 {
		delay *= math.Pow(c.Multiplier, float64(attempt))
	}
	if c.MaxBackoff > 0 && delay > float64(c.MaxBackoff) {
		delay = float64(c.MaxBackoff)
	}
	if c.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * c.JitterFraction
	}
	switch {
	case delay <= 0:
		return 0
	case delay >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryExcept returns a ShouldRetry that gives up on errors matching any
// of targets and retries everything else.
func RetryExcept(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return false
			}
		}
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
