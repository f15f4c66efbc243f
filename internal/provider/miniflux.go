package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/retry"
)

// Ensure Miniflux implements model.FeedProvider and model.FeedSyncer.
var (
	_ model.FeedProvider = (*Miniflux)(nil)
	_ model.FeedSyncer   = (*Miniflux)(nil)
)

const minifluxPageSize = 1000

// MinifluxOptions locate a Miniflux instance and the last published_at seen.
type MinifluxOptions struct {
	BaseURL   string
	Token     string
	Watermark string
}

// Miniflux polls the entries endpoint of a Miniflux reader. Entries are
// gated for relevance before their pages are fetched.
type Miniflux struct {
	baseURL    string
	token      string
	client     *http.Client
	store      model.PostingStore
	gate       RelevanceChecker
	content    ContentFetcher
	watermarks config.WatermarkSaver
	logger     *slog.Logger

	mu        sync.Mutex
	watermark string
}

func NewMiniflux(opts MinifluxOptions, client *http.Client, store model.PostingStore, gate RelevanceChecker, content ContentFetcher, watermarks config.WatermarkSaver, logger *slog.Logger) *Miniflux {
	return &Miniflux{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		client:     client,
		store:      store,
		gate:       gate,
		content:    content,
		watermarks: watermarks,
		logger:     logger,
		watermark:  opts.Watermark,
	}
}

type minifluxEntries struct {
	Total   int             `json:"total"`
	Entries []minifluxEntry `json:"entries"`
}

type minifluxEntry struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	PublishedAt string `json:"published_at"`
	Feed        struct {
		Title string `json:"title"`
	} `json:"feed"`
}

// Watermark returns the highest published_at observed so far.
func (m *Miniflux) Watermark() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermark
}

// FetchCandidates returns relevant entries newer than the watermark with
// their page content filled in. The watermark moves to the newest entry
// observed whether or not that entry passed the gate.
func (m *Miniflux) FetchCandidates(ctx context.Context) ([]model.Posting, error) {
	last := m.Watermark()

	var resp minifluxEntries
	if err := getJSON(ctx, m.client, m.entriesURL(last), m.authorize, &resp); err != nil {
		return nil, fmt.Errorf("miniflux entries: %w", err)
	}

	latest := last
	var (
		out        []model.Posting
		irrelevant int
	)
	for _, e := range resp.Entries {
		title := strings.TrimSpace(e.Title)
		link := strings.TrimSpace(e.URL)
		id := model.PostingID(title, link)

		exists, err := m.store.Exists(ctx, id)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("checking %q: %w", title, err))
		}
		if exists {
			continue
		}

		if config.After(e.PublishedAt, latest) {
			latest = e.PublishedAt
		}

		relevant, score := m.gate.IsRelevant(ctx, title, e.Content, link)
		if !relevant {
			irrelevant++
			continue
		}

		out = append(out, model.Posting{
			ID:             id,
			Title:          title,
			Link:           link,
			Description:    e.Content,
			Content:        m.content.Fetch(ctx, link),
			Published:      e.PublishedAt,
			Source:         e.Feed.Title,
			Category:       "general",
			RelevanceScore: score,
		})
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	}

	m.logger.Info("polled miniflux",
		"entries", len(resp.Entries),
		"relevant", len(out),
		"skipped_irrelevant", irrelevant,
	)

	if latest != last {
		m.advance(latest)
	}
	return out, nil
}

func (m *Miniflux) advance(ts string) {
	m.mu.Lock()
	if !config.After(ts, m.watermark) {
		m.mu.Unlock()
		return
	}
	m.watermark = ts
	m.mu.Unlock()

	if m.watermarks == nil {
		return
	}
	if err := m.watermarks.SaveWatermark(ts); err != nil {
		m.logger.Error("failed to persist watermark", "watermark", ts, "error", err)
		return
	}
	m.logger.Info("advanced watermark", "watermark", ts)
}

func (m *Miniflux) entriesURL(watermark string) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(minifluxPageSize))
	q.Set("order", "published_at")
	q.Set("direction", "desc")
	if watermark != "" {
		q.Set("after", afterParam(watermark))
	}
	return m.baseURL + "/v1/entries?" + q.Encode()
}

// afterParam converts an RFC 3339 watermark into the unix seconds the entries
// endpoint filters on. Anything unparseable is passed through unchanged.
func afterParam(watermark string) string {
	t, err := time.Parse(time.RFC3339, watermark)
	if err != nil {
		return watermark
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func (m *Miniflux) authorize(req *http.Request) {
	req.Header.Set("X-Auth-Token", m.token)
}

// SyncFeeds subscribes the reader to every configured feed. 201 counts as
// added, 409 as already present; anything else is recorded as failed.
func (m *Miniflux) SyncFeeds(ctx context.Context, feeds []model.FeedSource) (model.SyncReport, error) {
	var report model.SyncReport
	for _, feed := range feeds {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		status, err := m.createFeed(ctx, feed)
		switch {
		case err != nil:
			m.logger.Error("feed sync failed", "feed", feed.Name, "error", err)
			report.Failed = append(report.Failed, feed.Name)
		case status == http.StatusCreated:
			m.logger.Info("added feed to miniflux", "feed", feed.Name)
			report.Added = append(report.Added, feed.Name)
		case status == http.StatusConflict:
			m.logger.Debug("feed already in miniflux", "feed", feed.Name)
			report.Existed = append(report.Existed, feed.Name)
		default:
			m.logger.Warn("unexpected status adding feed", "feed", feed.Name, "status", status)
			report.Failed = append(report.Failed, feed.Name)
		}
	}
	return report, nil
}

func (m *Miniflux) createFeed(ctx context.Context, feed model.FeedSource) (int, error) {
	category := feed.Category
	if category == "" {
		category = "Jobs"
	}
	payload, err := json.Marshal(map[string]string{
		"feed_url":       feed.URL,
		"category_title": category,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/feeds", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	m.authorize(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
