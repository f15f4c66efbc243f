package provider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/retry"
)

// Ensure Direct implements model.FeedProvider.
var _ model.FeedProvider = (*Direct)(nil)

// Direct parses the configured RSS/Atom feeds itself.
type Direct struct {
	feeds      []model.FeedSource
	userAgent  string
	client     *http.Client
	store      model.PostingStore
	content    ContentFetcher
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

func NewDirect(feeds []model.FeedSource, userAgent string, client *http.Client, store model.PostingStore, content ContentFetcher, logger *slog.Logger) *Direct {
	return &Direct{
		feeds:      feeds,
		userAgent:  userAgent,
		client:     client,
		store:      store,
		content:    content,
		logger:     logger,
		maxRetries: 2,
		retryDelay: 5 * time.Second,
	}
}

// FetchCandidates reads every feed, skips postings already stored and fills
// content for the rest. A failing feed is logged and contributes nothing.
func (d *Direct) FetchCandidates(ctx context.Context) ([]model.Posting, error) {
	var out []model.Posting
	seen := make(map[string]bool)

	for _, feed := range d.feeds {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		postings, err := d.fetchFeed(ctx, feed, seen)
		if err != nil {
			d.logger.Error("feed fetch failed", "feed", feed.Name, "url", feed.URL, "error", err)
			continue
		}
		out = append(out, postings...)
	}
	return out, nil
}

func (d *Direct) fetchFeed(ctx context.Context, feed model.FeedSource, seen map[string]bool) ([]model.Posting, error) {
	parsed, err := retry.Do(ctx, d.maxRetries, d.retryDelay, d.logger.With("feed", feed.Name), func(ctx context.Context) (*gofeed.Feed, error) {
		return d.parse(ctx, feed.URL)
	})
	if err != nil {
		return nil, err
	}

	var (
		fresh []model.Posting
		urls  []string
	)
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		title := strings.TrimSpace(item.Title)
		link := strings.TrimSpace(item.Link)
		id := model.PostingID(title, link)
		if seen[id] {
			continue
		}
		seen[id] = true

		exists, err := d.store.Exists(ctx, id)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("checking %q: %w", title, err))
		}
		if exists {
			continue
		}

		fresh = append(fresh, model.Posting{
			ID:          id,
			Title:       title,
			Link:        link,
			Description: item.Description,
			Published:   item.Published,
			Source:      feed.Name,
			Category:    feed.Category,
		})
		urls = append(urls, link)
	}

	d.logger.Info("parsed feed", "feed", feed.Name, "entries", len(parsed.Items), "new", len(fresh))
	if len(fresh) == 0 {
		return nil, nil
	}

	texts := d.content.FetchBatch(ctx, urls)
	for i := range fresh {
		fresh[i].Content = texts[fresh[i].Link]
	}
	return fresh, nil
}

func (d *Direct) parse(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	body, err := do(d.client, req)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parse feed: %w", err))
	}
	return feed, nil
}
