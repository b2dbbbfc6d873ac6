package middleware

import (
	"context"
	"fmt"
	"math"
	"time"

	"conductor/pkg/backend"
)

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay before first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Multiplier for exponential backoff
	Jitter        bool          // Add random jitter to prevent thundering herd
}

// DefaultRetryConfig provides reasonable defaults for retry behavior.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Retry returns middleware that retries classified retryable failures
// with exponential backoff. Auth and bad-prompt errors fail immediately.
func Retry(cfg RetryConfig) backend.Middleware {
	return func(next backend.Invoker) backend.Invoker {
		return backend.WrapInvoker(
			func(ctx context.Context, req backend.Request) (*backend.Result, error) {
				var lastErr error

				for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
					if attempt > 0 {
						select {
						case <-ctx.Done():
							return nil, ctx.Err()
						case <-time.After(calculateDelay(cfg, attempt)):
						}
					}

					result, err := next.Invoke(ctx, req)
					if err == nil {
						return result, nil
					}
					lastErr = err

					if !backend.IsRetryable(err) {
						return nil, err
					}
					if attempt == cfg.MaxRetries {
						break
					}
				}

				return nil, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
			},
			next.ModelName,
		)
	}
}

// calculateDelay computes the backoff delay for the given retry attempt.
func calculateDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		jitterFactor := float64(2*(time.Now().UnixNano()%2) - 1) // -1 or 1
		delay += time.Duration(float64(delay) * 0.1 * jitterFactor)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
