package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/amishk599/jobharvest/internal/model"
)

// Ensure Provider implements model.FeedProvider.
var _ model.FeedProvider = (*Provider)(nil)

// Provider is a decorator that retries transient failures with exponential
// backoff and jitter before giving up on the wrapped FeedProvider.
type Provider struct {
	inner      model.FeedProvider
	name       string
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewProvider wraps a FeedProvider with retry logic.
// maxRetries is the number of additional attempts after the first failure.
// baseDelay is the delay before the first retry, doubled on each subsequent retry.
func NewProvider(inner model.FeedProvider, name string, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Provider {
	return &Provider{
		inner:      inner,
		name:       name,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// FetchCandidates fetches from the wrapped provider, retrying transient errors.
func (p *Provider) FetchCandidates(ctx context.Context) ([]model.Posting, error) {
	return Do(ctx, p.maxRetries, p.baseDelay, p.logger.With("provider", p.name), func(ctx context.Context) ([]model.Posting, error) {
		return p.inner.FetchCandidates(ctx)
	})
}

// Do runs fn, retrying up to maxRetries times while the error is transient.
func Do[T any](ctx context.Context, maxRetries int, baseDelay time.Duration, logger *slog.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := fn(ctx)
	if err == nil {
		return v, nil
	}
	if !IsRetryable(err) {
		return zero, err
	}

	lastErr := err
	for attempt := 1; attempt <= maxRetries; attempt++ {
		delay := backoffDelay(baseDelay, attempt, lastErr)

		logger.Warn("retrying after transient error",
			"attempt", attempt,
			"max_retries", maxRetries,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, lastErr
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
// A Retry-After duration on the error takes precedence.
func backoffDelay(base time.Duration, attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// permanentError marks a failure that another attempt cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so IsRetryable reports false for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable returns true if the error represents a transient failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}

	// Network and DNS failures.
	return true
}
