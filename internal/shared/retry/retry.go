package retry

import (
	"context"
	"errors"
	"time"
)

var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// Config holds retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial); 0 means unbounded
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// normalize fills zero-valued fields with defaults
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxAttempts < 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 1.0 {
		c.Multiplier = d.Multiplier
	}
	return c
}

// ShouldRetry determines if an error is retryable
type ShouldRetry func(error) bool

// Execute runs fn with exponential backoff until it succeeds, the
// attempt budget is spent, the error is not retryable, or ctx is done.
// MaxAttempts of 0 retries indefinitely (reconnect loops).
func Execute(ctx context.Context, config Config, shouldRetry ShouldRetry, fn func() error) error {
	config = config.normalize()

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.MaxAttempts > 0 && attempt >= config.MaxAttempts {
			break
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
	}

	return lastErr
}

// ExecuteWithResult runs fn with retry logic and returns its result
func ExecuteWithResult[T any](ctx context.Context, config Config, shouldRetry ShouldRetry, fn func() (T, error)) (T, error) {
	var result T
	err := Execute(ctx, config, shouldRetry, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// CalculateBackoff returns the delay before the given attempt (1-based)
func CalculateBackoff(attempt int, initialDelay time.Duration, multiplier float64, maxDelay time.Duration) time.Duration {
	delay := initialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// IsRetryable returns a ShouldRetry function that checks for specific error types
func IsRetryable(retryableErrors ...error) ShouldRetry {
	return func(err error) bool {
		for _, retryableErr := range retryableErrors {
			if errors.Is(err, retryableErr) {
				return true
			}
		}
		return false
	}
}

// AlwaysRetry returns a ShouldRetry function that always retries
func AlwaysRetry() ShouldRetry {
	return func(error) bool {
		return true
	}
}
