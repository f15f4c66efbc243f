package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter enforces a minimum delay between requests sharing a key, such
// as the host of a job page.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	minDelay time.Duration
}

// NewKeyedLimiter creates a limiter allowing one request per minDelay per key.
// A zero minDelay never blocks.
func NewKeyedLimiter(minDelay time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		minDelay: minDelay,
	}
}

// Wait blocks until a request for key may proceed.
// Returns an error if the context is cancelled while waiting.
func (k *KeyedLimiter) Wait(ctx context.Context, key string) error {
	if k.minDelay <= 0 {
		return nil
	}

	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(k.minDelay), 1)
		k.limiters[key] = l
	}
	k.mu.Unlock()

	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", key, err)
	}
	return nil
}

// Completer is the LLM call being throttled.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LimitedProvider is a decorator that applies backpressure to an LLM provider
// so a large pending batch cannot exceed the service's request budget.
type LimitedProvider struct {
	inner   Completer
	limiter *rate.Limiter
}

// NewLimitedProvider wraps inner with a token bucket of requestsPerMinute.
// requestsPerMinute <= 0 disables limiting.
func NewLimitedProvider(inner Completer, requestsPerMinute int) *LimitedProvider {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60)
	}
	return &LimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Complete waits for a token, then delegates to the wrapped provider.
func (p *LimitedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	return p.inner.Complete(ctx, prompt)
}
