package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/provider"
	"github.com/amishk599/jobharvest/internal/store"
	"github.com/amishk599/jobharvest/internal/vecindex"
)

// --- Fakes ---

type staticConfig struct {
	cfg *config.Config
	err error
}

func (s staticConfig) Load() (*config.Config, error) { return s.cfg, s.err }

type noContent struct{}

func (noContent) Fetch(_ context.Context, _ string) string { return "" }
func (noContent) FetchBatch(_ context.Context, urls []string) map[string]string {
	out := make(map[string]string, len(urls))
	for _, u := range urls {
		out[u] = "full text of " + u
	}
	return out
}

// stubAnalysis scores everything 8 and fails analysis for titles in failFor.
type stubAnalysis struct {
	mu       sync.Mutex
	failFor  map[string]bool
	analyzed []string
}

func (s *stubAnalysis) Score(_ context.Context, _, _ string, _ []string, _ config.RecruitmentFilters) (int, error) {
	return 8, nil
}

func (s *stubAnalysis) Analyze(_ context.Context, p model.Posting, _ []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[p.Title] {
		return "", errors.New("prompt rendering failed")
	}
	s.analyzed = append(s.analyzed, p.Title)
	return "## Title\n" + p.Title, nil
}

// lengthEmbedder gives every text a 2-d vector, enough to exercise the index.
type lengthEmbedder struct{}

func (lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type recordingNotifier struct {
	notified []model.Posting
}

func (n *recordingNotifier) Notify(postings []model.Posting) error {
	n.notified = append(n.notified, postings...)
	return nil
}

// --- Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func feedServer(t *testing.T, items ...string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Jobs</title>`)
		for i, title := range items {
			fmt.Fprintf(&b, `<item><title>%s</title><link>https://example.com/%d</link><description>about %s</description></item>`, title, i+1, title)
		}
		b.WriteString(`</channel></rss>`)
		w.Write([]byte(b.String()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	pipeline *Pipeline
	store    *store.MemoryStore
	index    *vecindex.Index
	analysis *stubAnalysis
	notifier *recordingNotifier
}

func newHarness(t *testing.T, feedURL string) *harness {
	t.Helper()
	cfg := &config.Config{
		RSSMode:  "direct",
		Feeds:    []model.FeedSource{{Name: "uni", URL: feedURL, Category: "academic"}},
		Keywords: []string{"professor"},
	}

	dir := t.TempDir()
	ix, err := vecindex.Open(context.Background(), vecindex.Paths{
		Index:    filepath.Join(dir, "index.bin"),
		Metadata: filepath.Join(dir, "docs.json"),
	}, lengthEmbedder{}, nil, discardLogger())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}

	h := &harness{
		store:    store.NewMemoryStore(),
		index:    ix,
		analysis: &stubAnalysis{failFor: map[string]bool{}},
		notifier: &recordingNotifier{},
	}
	h.pipeline = New(Deps{
		Config:     staticConfig{cfg: cfg},
		Store:      h.store,
		Analysis:   h.analysis,
		Index:      ix,
		Notifier:   h.notifier,
		Content:    noContent{},
		Logger:     discardLogger(),
		RetryDelay: time.Millisecond,
	})
	return h
}

// --- Tests ---

func TestIngestThenAnalyzePending(t *testing.T) {
	ctx := context.Background()
	srv := feedServer(t, "Assistant Professor X")
	h := newHarness(t, srv.URL+"/feed.xml")

	report, err := h.pipeline.Ingest(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Mode != provider.ModeDirect || report.Inserted != 1 || report.CycleID == "" {
		t.Fatalf("unexpected report %+v", report)
	}

	stats, _ := h.store.Stats(ctx)
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("after ingest stats = %+v, want 1 pending", stats)
	}
	id := model.PostingID("Assistant Professor X", "https://example.com/1")
	p, err := h.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("posting not stored: %v", err)
	}
	if p.Analyzed || p.Content != "full text of https://example.com/1" || p.Category != "academic" {
		t.Errorf("unexpected stored posting %+v", p)
	}

	ar, err := h.pipeline.AnalyzePending(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ar.Analyzed != 1 || ar.Indexed != 1 {
		t.Fatalf("unexpected analyze report %+v", ar)
	}
	p, _ = h.store.Get(ctx, id)
	if !p.Analyzed || p.AnalysisResult != "## Title\nAssistant Professor X" {
		t.Errorf("analysis not persisted: %+v", p)
	}
	if h.index.Len() != 1 {
		t.Errorf("index has %d documents, want 1", h.index.Len())
	}
	if len(h.notifier.notified) != 1 {
		t.Errorf("expected 1 notification, got %d", len(h.notifier.notified))
	}
}

func TestRunCycle_SecondPollInsertsNothing(t *testing.T) {
	ctx := context.Background()
	srv := feedServer(t, "Assistant Professor X", "Lecturer Y")
	h := newHarness(t, srv.URL+"/feed.xml")

	first, err := h.pipeline.RunCycle(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Inserted != 2 || first.Analysis.Analyzed != 2 {
		t.Fatalf("first cycle %+v", first)
	}

	second, err := h.pipeline.RunCycle(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Inserted != 0 || second.Analysis.Pending != 0 {
		t.Errorf("second cycle %+v, want no new work", second)
	}

	stats, _ := h.store.Stats(ctx)
	if stats.Total != 2 || stats.Analyzed != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if len(h.analysis.analyzed) != 2 {
		t.Errorf("analysis called for %v", h.analysis.analyzed)
	}
	if h.index.Len() != 2 {
		t.Errorf("index has %d documents, want 2", h.index.Len())
	}
}

func TestRunCycle_OneFailedAnalysisDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	srv := feedServer(t, "A", "B", "C")
	h := newHarness(t, srv.URL+"/feed.xml")
	h.analysis.failFor["B"] = true

	report, err := h.pipeline.RunCycle(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Analysis.Analyzed != 2 || report.Analysis.Failed != 1 || report.Analysis.Indexed != 2 {
		t.Fatalf("analyze report %+v", report.Analysis)
	}

	pending, _ := h.store.ListUnanalyzed(ctx)
	if len(pending) != 1 || pending[0].Title != "B" {
		t.Errorf("expected only B pending, got %+v", pending)
	}
	if h.index.Len() != 2 {
		t.Errorf("index has %d documents", h.index.Len())
	}
}

func TestRunCycle_FetchFailureCompletesCycle(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL+"/down.xml")

	report, err := h.pipeline.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("a failing feed must not fail the cycle: %v", err)
	}
	if report.Fetched != 0 || report.Inserted != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestRunCycle_ConfigReloadFailureSkipsCycle(t *testing.T) {
	called := false
	p := New(Deps{
		Config: staticConfig{err: errors.New("yaml: line 3: bad indentation")},
		Store:  store.NewMemoryStore(),
		Logger: discardLogger(),
		Providers: func(*config.Config, provider.Deps) (*provider.Handle, error) {
			called = true
			return nil, nil
		},
	})

	if _, err := p.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error on config reload failure")
	}
	if called {
		t.Error("provider must not be built without a config")
	}
}

type fakeProvider struct{ postings []model.Posting }

func (f fakeProvider) FetchCandidates(context.Context) ([]model.Posting, error) { return f.postings, nil }

type fakeSyncer struct{ got []model.FeedSource }

func (f *fakeSyncer) SyncFeeds(_ context.Context, feeds []model.FeedSource) (model.SyncReport, error) {
	f.got = feeds
	return model.SyncReport{Added: []string{feeds[0].Name}}, nil
}

func TestRunCycle_SyncsFeedsBeforeFetching(t *testing.T) {
	feeds := []model.FeedSource{{Name: "uni", URL: "https://uni.example/rss"}}
	syncer := &fakeSyncer{}
	var gotDeps provider.Deps

	p := New(Deps{
		Config:   staticConfig{cfg: &config.Config{Feeds: feeds}},
		Store:    store.NewMemoryStore(),
		Analysis: &stubAnalysis{failFor: map[string]bool{}},
		Content:  noContent{},
		Logger:   discardLogger(),
		Providers: func(_ *config.Config, deps provider.Deps) (*provider.Handle, error) {
			gotDeps = deps
			return &provider.Handle{
				Mode:     provider.ModeMiniflux,
				Provider: fakeProvider{postings: []model.Posting{{Title: "Reader", Link: "https://x/1", RelevanceScore: 9}}},
				Syncer:   syncer,
			}, nil
		},
	})

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(syncer.got) != 1 || report.Synced == nil || len(report.Synced.Added) != 1 {
		t.Errorf("feeds not synced: %+v", report.Synced)
	}
	if gotDeps.Gate == nil || gotDeps.Store == nil {
		t.Error("provider deps missing gate or store")
	}
	if report.Inserted != 1 || report.Analysis.Analyzed != 1 || report.Analysis.Indexed != 0 {
		t.Errorf("unexpected report %+v", report)
	}

	stored, err := p.deps.Store.Get(context.Background(), model.PostingID("Reader", "https://x/1"))
	if err != nil || stored.RelevanceScore != 9 {
		t.Errorf("relevance score not kept: %+v, %v", stored, err)
	}
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	srv := feedServer(t, "Assistant Professor X", "Lecturer Y")
	h := newHarness(t, srv.URL+"/feed.xml")
	if _, err := h.pipeline.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}

	list, err := h.pipeline.List(ctx, 10, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("List = %d, %v", len(list), err)
	}
	found, err := h.pipeline.SearchText(ctx, "lecturer", 10)
	if err != nil || len(found) != 1 || found[0].Title != "Lecturer Y" {
		t.Fatalf("SearchText = %+v, %v", found, err)
	}
	stats, err := h.pipeline.Stats(ctx)
	if err != nil || stats != (model.Stats{Total: 2, Analyzed: 2, Pending: 0}) {
		t.Fatalf("Stats = %+v, %v", stats, err)
	}
	hits, err := h.pipeline.Search(ctx, "Lecturer Y", 5)
	if err != nil || len(hits) != 2 {
		t.Fatalf("Search = %d, %v", len(hits), err)
	}

	n, err := h.pipeline.RebuildIndex(ctx)
	if err != nil || n != 2 {
		t.Fatalf("RebuildIndex = %d, %v", n, err)
	}

	bare := New(Deps{Store: h.store, Logger: discardLogger()})
	if _, err := bare.SemanticSearch(ctx, "x", ""); !errors.Is(err, ErrNoIndex) {
		t.Errorf("expected ErrNoIndex, got %v", err)
	}
}
