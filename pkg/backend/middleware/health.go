package middleware

import (
	"context"

	"conductor/pkg/backend"
)

// HealthReporter receives the outcome of each backend invocation.
// Implemented by backend.Health.
type HealthReporter interface {
	RecordError(err error)
	ClearError()
}

// ReportHealth returns middleware that records every invocation outcome,
// so /healthz and /status surface the most recent backend error.
func ReportHealth(h HealthReporter) backend.Middleware {
	return func(next backend.Invoker) backend.Invoker {
		return backend.WrapInvoker(
			func(ctx context.Context, req backend.Request) (*backend.Result, error) {
				result, err := next.Invoke(ctx, req)
				if err != nil {
					h.RecordError(err)
					return nil, err
				}
				h.ClearError()
				return result, nil
			},
			next.ModelName,
		)
	}
}
