// Package factory constructs execution backends with their middleware
// chain from configuration.
package factory

import (
	"fmt"

	"conductor/pkg/backend"
	"conductor/pkg/backend/anthropic"
	"conductor/pkg/backend/google"
	"conductor/pkg/backend/middleware"
	"conductor/pkg/backend/ollamaclient"
	"conductor/pkg/backend/openai"
	"conductor/pkg/config"
	"conductor/pkg/contextmgr"
	"conductor/pkg/limiter"
)

// New creates the configured provider client wrapped with metrics, health
// reporting, request defaults, context budgeting, rate limit, and retry
// middleware. rec and health may be nil to skip the corresponding layer
// (tests).
func New(cfg *config.Backend, rec middleware.Recorder, health middleware.HealthReporter) (backend.Invoker, error) {
	base, err := newRaw(cfg)
	if err != nil {
		return nil, err
	}

	middlewares := []backend.Middleware{}
	if rec != nil {
		middlewares = append(middlewares, middleware.Metrics(rec))
	}
	if health != nil {
		middlewares = append(middlewares, middleware.ReportHealth(health))
	}
	middlewares = append(middlewares,
		middleware.RequestDefaults(cfg.MaxTokens, cfg.Temperature),
		middleware.ContextBudget(cfg.Model, cfg.MaxContextTokens))
	if cfg.RateLimitTPM > 0 {
		middlewares = append(middlewares,
			middleware.RateLimit(limiter.New(cfg.RateLimitTPM), newTokenEstimator(cfg)))
	}
	retryCfg := middleware.DefaultRetryConfig
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	middlewares = append(middlewares, middleware.Retry(retryCfg))

	return backend.Chain(base, middlewares...), nil
}

// newTokenEstimator counts prompt-side tokens and reserves headroom for
// the completion.
func newTokenEstimator(cfg *config.Backend) middleware.TokenEstimator {
	counter, err := contextmgr.NewTokenCounter(cfg.Model)
	count := func(text string) int {
		if err != nil {
			// No tokenizer for this model; a rough chars/4 estimate
			// is good enough for rate limiting.
			return len(text) / 4
		}
		return counter.CountTokens(text)
	}

	return func(req backend.Request) int {
		tokens := count(req.SystemPrompt) + count(req.Prompt)
		for i := range req.History {
			tokens += count(req.History[i].Content)
		}
		return tokens + cfg.MaxTokens
	}
}

func newRaw(cfg *config.Backend) (backend.Invoker, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic backend requires an API key")
		}
		return anthropic.NewClient(cfg.APIKey, cfg.Model), nil
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai backend requires an API key")
		}
		return openai.NewClient(cfg.APIKey, cfg.Model), nil
	case config.ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("google backend requires an API key")
		}
		return google.NewClient(cfg.APIKey, cfg.Model), nil
	case config.ProviderOllama:
		return ollamaclient.NewClient(cfg.Host, cfg.Model), nil
	case config.ProviderEcho:
		return backend.NewEchoInvoker(), nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}
