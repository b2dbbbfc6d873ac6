package middleware

import (
	"context"
	"errors"

	"conductor/pkg/backend"
	"conductor/pkg/limiter"
)

// TokenEstimator predicts how many tokens a request will consume, for
// rate limit reservation before the call goes out.
type TokenEstimator func(req backend.Request) int

// RateLimit returns middleware that reserves estimated tokens from the
// limiter before each request, blocking until the bucket allows it.
func RateLimit(l *limiter.Limiter, estimate TokenEstimator) backend.Middleware {
	return func(next backend.Invoker) backend.Invoker {
		return backend.WrapInvoker(
			func(ctx context.Context, req backend.Request) (*backend.Result, error) {
				if err := l.Wait(ctx, estimate(req)); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return nil, backend.ClassifyError(err)
					}
					return nil, backend.NewErrorWithCause(backend.ErrorTypeRateLimit, err, "local rate limit")
				}
				return next.Invoke(ctx, req)
			},
			next.ModelName,
		)
	}
}
