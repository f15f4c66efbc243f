package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/amishk599/jobharvest/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockProvider calls a function on each invocation, tracking call count.
type mockProvider struct {
	calls int
	fn    func(attempt int) ([]model.Posting, error)
}

func (m *mockProvider) FetchCandidates(_ context.Context) ([]model.Posting, error) {
	m.calls++
	return m.fn(m.calls)
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	postings := []model.Posting{{Title: "Lecturer", Link: "https://example.com/1"}}
	mock := &mockProvider{fn: func(_ int) ([]model.Posting, error) {
		return postings, nil
	}}

	rp := NewProvider(mock, "direct", 2, 10*time.Millisecond, discardLogger())
	got, err := rp.FetchCandidates(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Lecturer" {
		t.Fatalf("unexpected postings: %v", got)
	}
	if mock.calls != 1 {
		t.Fatalf("expected 1 call, got %d", mock.calls)
	}
}

func TestRetry_RetriesOn5xx_SucceedsOnSecondAttempt(t *testing.T) {
	mock := &mockProvider{fn: func(attempt int) ([]model.Posting, error) {
		if attempt == 1 {
			return nil, &model.HTTPError{StatusCode: 503, Err: errors.New("service unavailable")}
		}
		return []model.Posting{{Title: "x"}}, nil
	}}

	rp := NewProvider(mock, "miniflux", 2, 10*time.Millisecond, discardLogger())
	got, err := rp.FetchCandidates(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 posting, got %d", len(got))
	}
	if mock.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", mock.calls)
	}
}

func TestRetry_HonoursRetryAfter(t *testing.T) {
	mock := &mockProvider{fn: func(attempt int) ([]model.Posting, error) {
		if attempt == 1 {
			return nil, &model.HTTPError{StatusCode: 429, RetryAfter: 20 * time.Millisecond}
		}
		return nil, nil
	}}

	start := time.Now()
	rp := NewProvider(mock, "freshrss", 1, time.Hour, discardLogger())
	if _, err := rp.FetchCandidates(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("waited %v; Retry-After should override the 1h base delay", elapsed)
	}
}

func TestRetry_DoesNotRetryOn4xx(t *testing.T) {
	mock := &mockProvider{fn: func(_ int) ([]model.Posting, error) {
		return nil, &model.HTTPError{StatusCode: 401, Err: errors.New("unauthorized")}
	}}

	rp := NewProvider(mock, "miniflux", 2, 10*time.Millisecond, discardLogger())
	_, err := rp.FetchCandidates(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 401 {
		t.Fatalf("expected HTTPError with status 401, got %v", err)
	}
	if mock.calls != 1 {
		t.Fatalf("expected 1 call (no retry), got %d", mock.calls)
	}
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	mock := &mockProvider{fn: func(_ int) ([]model.Posting, error) {
		return nil, &model.HTTPError{StatusCode: 500, Err: errors.New("internal error")}
	}}

	rp := NewProvider(mock, "direct", 2, 10*time.Millisecond, discardLogger())
	_, err := rp.FetchCandidates(context.Background())
	if err == nil {
		t.Fatal("expected error after max retries, got nil")
	}
	// 1 initial + 2 retries = 3
	if mock.calls != 3 {
		t.Fatalf("expected 3 calls (1 + 2 retries), got %d", mock.calls)
	}
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	mock := &mockProvider{fn: func(_ int) ([]model.Posting, error) {
		return nil, &model.HTTPError{StatusCode: 500, Err: errors.New("internal error")}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rp := NewProvider(mock, "direct", 2, time.Second, discardLogger())
	_, err := rp.FetchCandidates(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mock.calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", mock.calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"429", &model.HTTPError{StatusCode: 429}, true},
		{"502", &model.HTTPError{StatusCode: 502}, true},
		{"404", &model.HTTPError{StatusCode: 404}, false},
		{"network", errors.New("connection reset"), true},
		{"permanent", Permanent(errors.New("bad xml")), false},
		{"wrapped permanent", fmt.Errorf("feed: %w", Permanent(errors.New("bad xml"))), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
