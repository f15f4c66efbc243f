package content

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/ratelimit"
)

const (
	// MaxLength caps text from the reader and structured strategies.
	MaxLength = 8000
	// FallbackMaxLength caps text from the basic strategy.
	FallbackMaxLength = 5000
	// SubstantialLength is the minimum for a structured region to count.
	SubstantialLength = 200

	maxPageBytes = 5 << 20
)

// PageLoader returns the raw HTML of the page being extracted. It is loaded
// at most once per Fetch, however many strategies ask for it.
type PageLoader func(ctx context.Context) ([]byte, error)

// Strategy is one way of turning a job page into plain text.
type Strategy interface {
	Name() string
	// MinLength is the rune count a result must exceed to be accepted.
	MinLength() int
	Extract(ctx context.Context, pageURL string, page PageLoader) (string, error)
}

// Fetcher runs its strategies in order and returns the first acceptable text.
type Fetcher struct {
	strategies []Strategy
	client     *http.Client
	hosts      *ratelimit.KeyedLimiter
	userAgent  string
	batchSize  int
	batchPause time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// NewFetcher builds the reader, structured and basic chain from cfg.
func NewFetcher(cfg config.ContentConfig, client *http.Client, logger *slog.Logger) *Fetcher {
	f := &Fetcher{
		client:     client,
		hosts:      ratelimit.NewKeyedLimiter(cfg.HostMinDelay),
		userAgent:  cfg.UserAgent,
		batchSize:  cfg.BatchSize,
		batchPause: cfg.BatchPause,
		sleep:      sleepCtx,
		logger:     logger,
	}
	if !cfg.DisableReader {
		f.strategies = append(f.strategies, &ReaderStrategy{
			BaseURL:   cfg.ReaderURL,
			Client:    client,
			UserAgent: cfg.UserAgent,
			MinDelay:  cfg.ReaderMinDelay,
			MaxDelay:  cfg.ReaderMaxDelay,
			Sleep:     func(ctx context.Context, d time.Duration) error { return f.sleep(ctx, d) },
		})
	}
	f.strategies = append(f.strategies, NewStructuredStrategy(), BasicStrategy{})
	if f.batchSize <= 0 {
		f.batchSize = 5
	}
	return f
}

// Fetch returns extracted text for pageURL, or "" when every strategy fails.
// It never returns an error.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) string {
	if strings.TrimSpace(pageURL) == "" {
		return ""
	}

	page := f.pageLoader(pageURL)
	for _, s := range f.strategies {
		if ctx.Err() != nil {
			return ""
		}
		text, err := s.Extract(ctx, pageURL, page)
		if err != nil {
			f.logger.Debug("content strategy failed", "strategy", s.Name(), "url", pageURL, "error", err)
			continue
		}
		if runeLen(text) > s.MinLength() {
			f.logger.Debug("content extracted", "strategy", s.Name(), "url", pageURL, "chars", runeLen(text))
			return text
		}
	}
	f.logger.Warn("no content extracted", "url", pageURL)
	return ""
}

// FetchBatch fetches urls in chunks of the configured batch size, pausing
// between chunks. A cancelled context stops before the next URL; whatever was
// fetched so far is returned.
func (f *Fetcher) FetchBatch(ctx context.Context, urls []string) map[string]string {
	out := make(map[string]string, len(urls))
	for start := 0; start < len(urls); start += f.batchSize {
		end := min(start+f.batchSize, len(urls))
		f.logger.Info("fetching content batch",
			"batch", start/f.batchSize+1,
			"urls", end-start,
			"total", len(urls),
		)
		for _, u := range urls[start:end] {
			if ctx.Err() != nil {
				return out
			}
			out[u] = f.Fetch(ctx, u)
		}
		if end < len(urls) {
			if err := f.sleep(ctx, f.batchPause); err != nil {
				return out
			}
		}
	}
	return out
}

// pageLoader memoises one rate-limited GET of pageURL.
func (f *Fetcher) pageLoader(pageURL string) PageLoader {
	var (
		once sync.Once
		body []byte
		err  error
	)
	return func(ctx context.Context) ([]byte, error) {
		once.Do(func() {
			body, err = f.getPage(ctx, pageURL)
		})
		return body, err
	}
}

func (f *Fetcher) getPage(ctx context.Context, pageURL string) ([]byte, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if err := f.hosts.Wait(ctx, u.Host); err != nil {
		return nil, err
	}
	return get(ctx, f.client, pageURL, f.userAgent)
}

func get(ctx context.Context, client *http.Client, target, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.HTTPError{StatusCode: resp.StatusCode, URL: target}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return body, nil
}

// ReaderStrategy asks a remote clean-extraction service (r.jina.ai style:
// the page URL is appended to BaseURL) for the page text.
type ReaderStrategy struct {
	BaseURL   string
	Client    *http.Client
	UserAgent string
	MinDelay  time.Duration
	MaxDelay  time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
	Rand      func() float64 // uniform in [0,1); defaults to math/rand/v2
}

func (r *ReaderStrategy) Name() string   { return "reader" }
func (r *ReaderStrategy) MinLength() int { return 0 }

func (r *ReaderStrategy) Extract(ctx context.Context, pageURL string, _ PageLoader) (string, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	if err := sleep(ctx, r.delay()); err != nil {
		return "", err
	}

	body, err := get(ctx, r.Client, r.BaseURL+pageURL, r.UserAgent)
	if err != nil {
		return "", err
	}
	return truncate(strings.TrimSpace(string(body)), MaxLength), nil
}

// delay picks a uniform delay in [MinDelay, MaxDelay] so requests to the
// reader service are not evenly spaced.
func (r *ReaderStrategy) delay() time.Duration {
	span := r.MaxDelay - r.MinDelay
	if span <= 0 {
		return r.MinDelay
	}
	rnd := r.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	return r.MinDelay + time.Duration(rnd()*float64(span))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
