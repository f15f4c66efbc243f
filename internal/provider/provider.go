// Package provider fetches candidate postings from the configured feed source.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/retry"
)

// ErrUnsupportedMode is returned for an rss_mode no provider implements.
var ErrUnsupportedMode = errors.New("unsupported rss_mode")

// Mode names a FeedProvider variant.
type Mode string

const (
	ModeDirect   Mode = "direct"
	ModeMiniflux Mode = "miniflux"
	ModeFreshRSS Mode = "freshrss"
	modeAuto          = "auto"
)

// ResolveMode picks the provider variant. An explicit mode wins; "auto" picks
// Miniflux, then FreshRSS, by which endpoint is configured, else Direct.
func ResolveMode(rssMode string, creds config.Credentials) (Mode, error) {
	switch rssMode {
	case string(ModeDirect), string(ModeMiniflux), string(ModeFreshRSS):
		return Mode(rssMode), nil
	case modeAuto, "":
		switch {
		case creds.MinifluxURL != "":
			return ModeMiniflux, nil
		case creds.FreshRSSURL != "":
			return ModeFreshRSS, nil
		}
		return ModeDirect, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, rssMode)
}

// ContentFetcher extracts page text for postings that arrive without it.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) string
	FetchBatch(ctx context.Context, urls []string) map[string]string
}

// RelevanceChecker is the cheap pre-filter applied before content fetches.
type RelevanceChecker interface {
	IsRelevant(ctx context.Context, title, description, link string) (bool, int)
}

// Deps are the collaborators a provider may need.
type Deps struct {
	Store      model.PostingStore
	Content    ContentFetcher
	Gate       RelevanceChecker
	Watermarks config.WatermarkSaver
	Client     *http.Client
	Logger     *slog.Logger

	// MaxRetries and RetryDelay tune the retry decorator.
	MaxRetries int
	RetryDelay time.Duration
}

// Handle is the provider chosen for one config snapshot.
type Handle struct {
	Mode     Mode
	Provider model.FeedProvider
	// Syncer is nil unless the provider follows feeds on a remote reader.
	Syncer model.FeedSyncer
}

// Build constructs the provider resolved from cfg. Single-endpoint providers
// are wrapped in the retry decorator; Direct retries per feed.
func Build(cfg *config.Config, deps Deps) (*Handle, error) {
	mode, err := ResolveMode(cfg.RSSMode, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	if deps.MaxRetries == 0 {
		deps.MaxRetries = 2
	}
	if deps.RetryDelay == 0 {
		deps.RetryDelay = 5 * time.Second
	}
	logger := deps.Logger.With("provider", string(mode))

	switch mode {
	case ModeMiniflux:
		if cfg.Credentials.MinifluxURL == "" {
			return nil, fmt.Errorf("rss_mode miniflux requires MINIFLUX_URL")
		}
		m := NewMiniflux(MinifluxOptions{
			BaseURL:   cfg.Credentials.MinifluxURL,
			Token:     cfg.Credentials.MinifluxToken,
			Watermark: cfg.LastMinifluxFetch,
		}, deps.Client, deps.Store, deps.Gate, deps.Content, deps.Watermarks, logger)
		return &Handle{
			Mode:     mode,
			Provider: retry.NewProvider(m, string(mode), deps.MaxRetries, deps.RetryDelay, logger),
			Syncer:   m,
		}, nil

	case ModeFreshRSS:
		if cfg.Credentials.FreshRSSURL == "" {
			return nil, fmt.Errorf("rss_mode freshrss requires FRESHRSS_URL")
		}
		f := NewFreshRSS(cfg.Credentials.FreshRSSURL, cfg.Credentials.FreshRSSUsername,
			cfg.Credentials.FreshRSSPassword, deps.Client)
		return &Handle{
			Mode:     mode,
			Provider: retry.NewProvider(f, string(mode), deps.MaxRetries, deps.RetryDelay, logger),
		}, nil
	}

	d := NewDirect(cfg.Feeds, cfg.Content.UserAgent, deps.Client, deps.Store, deps.Content, logger)
	d.maxRetries, d.retryDelay = deps.MaxRetries, deps.RetryDelay
	return &Handle{Mode: ModeDirect, Provider: d}, nil
}
