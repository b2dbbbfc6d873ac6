package middleware

import (
	"context"
	"sync"

	"conductor/pkg/backend"
	"conductor/pkg/contextmgr"
)

// RequestDefaults returns middleware that fills the completion cap and
// temperature on requests that leave them unset, so the configured backend
// settings reach every provider call.
func RequestDefaults(maxTokens int, temperature float32) backend.Middleware {
	return func(next backend.Invoker) backend.Invoker {
		return backend.WrapInvoker(
			func(ctx context.Context, req backend.Request) (*backend.Result, error) {
				if req.MaxTokens == 0 {
					req.MaxTokens = maxTokens
				}
				if req.Temperature == 0 {
					req.Temperature = temperature
				}
				return next.Invoke(ctx, req)
			},
			next.ModelName,
		)
	}
}

// ContextBudget returns middleware that clips request history to the token
// budget, dropping the oldest messages first. A budget of zero disables
// clipping.
func ContextBudget(model string, maxContextTokens int) backend.Middleware {
	manager := contextmgr.NewContextManager(model, maxContextTokens)
	var mu sync.Mutex

	return func(next backend.Invoker) backend.Invoker {
		return backend.WrapInvoker(
			func(ctx context.Context, req backend.Request) (*backend.Result, error) {
				if maxContextTokens > 0 && len(req.History) > 0 {
					mu.Lock()
					manager.SetMessages(req.History)
					manager.CompactIfNeeded()
					req.History = manager.Messages()
					manager.Clear()
					mu.Unlock()
				}
				return next.Invoke(ctx, req)
			},
			next.ModelName,
		)
	}
}
