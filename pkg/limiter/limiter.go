// Package limiter provides token-per-minute rate limiting for backend
// calls with a token bucket algorithm.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimit is returned when token rate limits are exceeded.
var ErrRateLimit = errors.New("rate limit exceeded")

// Limiter enforces a tokens-per-minute budget for one backend. The
// bucket starts full and refills once per elapsed minute.
type Limiter struct {
	mu                 sync.Mutex
	maxTokensPerMinute int
	currentTokens      int
	lastRefill         time.Time
}

// New creates a limiter with the given tokens-per-minute budget.
func New(maxTokensPerMinute int) *Limiter {
	return &Limiter{
		maxTokensPerMinute: maxTokensPerMinute,
		currentTokens:      maxTokensPerMinute, // Start with full bucket
		lastRefill:         time.Now(),
	}
}

// Reserve attempts to take tokens from the bucket without blocking.
// Requests larger than the full bucket are allowed when the bucket is
// full, otherwise nothing that size could ever run.
func (l *Limiter) Reserve(tokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillTokens()

	if tokens > l.maxTokensPerMinute {
		if l.currentTokens < l.maxTokensPerMinute {
			return ErrRateLimit
		}
		l.currentTokens = 0
		return nil
	}

	if l.currentTokens < tokens {
		return ErrRateLimit
	}

	l.currentTokens -= tokens
	return nil
}

// Wait blocks until the tokens can be reserved or ctx is done.
func (l *Limiter) Wait(ctx context.Context, tokens int) error {
	for {
		err := l.Reserve(tokens)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.untilNextRefill()):
		}
	}
}

// Available returns the current token balance.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillTokens()
	return l.currentTokens
}

func (l *Limiter) untilNextRefill() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	wait := time.Until(l.lastRefill.Add(time.Minute))
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (l *Limiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill)

	if elapsed >= time.Minute {
		// Refill tokens for each minute that has passed.
		minutes := int(elapsed / time.Minute)
		l.currentTokens += minutes * l.maxTokensPerMinute

		// Cap at maximum.
		if l.currentTokens > l.maxTokensPerMinute {
			l.currentTokens = l.maxTokensPerMinute
		}

		// Update refill time to the last complete minute.
		l.lastRefill = l.lastRefill.Add(time.Duration(minutes) * time.Minute)
	}
}
