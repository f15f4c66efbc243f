// Package pipeline runs the harvest cycle: fetch, dedup, analyze, index and
// notify. It also exposes the read operations collaborators need.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/content"
	"github.com/amishk599/jobharvest/internal/filter"
	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/provider"
	"github.com/amishk599/jobharvest/internal/vecindex"
)

// AnalysisService scores, analyzes and expands queries.
type AnalysisService interface {
	filter.Scorer
	Analyze(ctx context.Context, p model.Posting, keywords []string) (string, error)
}

// Index is the vector index as the pipeline uses it.
type Index interface {
	Add(ctx context.Context, postings []model.Posting) error
	Search(ctx context.Context, query string, topK int) ([]model.SearchHit, error)
	SemanticSearch(ctx context.Context, query, timeFilter string) ([]model.SearchHit, error)
	Rebuild(ctx context.Context, src vecindex.Source) (int, error)
}

// ProviderFactory builds the feed provider for one config snapshot.
type ProviderFactory func(cfg *config.Config, deps provider.Deps) (*provider.Handle, error)

// Deps wires a Pipeline. Index and Notifier may be nil.
type Deps struct {
	Config     config.Source
	Watermarks config.WatermarkSaver
	Store      model.PostingStore
	Analysis   AnalysisService
	Index      Index
	Notifier   model.Notifier
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Content overrides the fetcher otherwise built from each snapshot.
	Content provider.ContentFetcher
	// Providers defaults to provider.Build.
	Providers ProviderFactory
	// RetryDelay tunes the feed retry decorator; zero keeps its default.
	RetryDelay time.Duration
}

// Pipeline owns the cycle logic. It holds no cycle state of its own; the
// scheduler serialises cycles.
type Pipeline struct {
	deps Deps
}

func New(deps Deps) *Pipeline {
	if deps.Providers == nil {
		deps.Providers = provider.Build
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Pipeline{deps: deps}
}

// CycleReport summarises one RunCycle.
type CycleReport struct {
	CycleID  string
	Mode     provider.Mode
	Synced   *model.SyncReport
	Fetched  int
	Inserted int
	Analysis AnalyzeReport
	Duration time.Duration
}

// AnalyzeReport summarises one pass over pending postings.
type AnalyzeReport struct {
	Pending  int
	Analyzed int
	Failed   int
	Indexed  int
	// Postings analyzed in this pass, in processing order.
	Postings []model.Posting `json:"-"`
}

// RunCycle performs one full cycle against a freshly loaded config. Step
// failures are logged and the cycle goes on where it can; the returned error
// is reserved for a config that cannot be loaded or wired, and cancellation.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report, cfg, logger, err := p.ingest(ctx)
	if err != nil {
		report.Duration = time.Since(start)
		return report, err
	}

	report.Analysis, err = p.analyzePending(ctx, cfg.Keywords, logger)
	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}

	logger.Info("cycle finished",
		"fetched", report.Fetched,
		"inserted", report.Inserted,
		"analyzed", report.Analysis.Analyzed,
		"failed", report.Analysis.Failed,
		"indexed", report.Analysis.Indexed,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

// Ingest runs the fetch half of a cycle: reload, sync feeds, fetch and store.
// New postings are left pending for AnalyzePending.
func (p *Pipeline) Ingest(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report, _, _, err := p.ingest(ctx)
	report.Duration = time.Since(start)
	return report, err
}

func (p *Pipeline) ingest(ctx context.Context) (CycleReport, *config.Config, *slog.Logger, error) {
	report := CycleReport{CycleID: uuid.NewString()}
	logger := p.deps.Logger.With("cycle_id", report.CycleID)

	cfg, err := p.deps.Config.Load()
	if err != nil {
		logger.Error("config reload failed, skipping cycle", "error", err)
		return report, nil, logger, fmt.Errorf("reload config: %w", err)
	}

	fetcher := p.contentFetcher(cfg, logger)
	gate := filter.NewRelevanceGate(p.deps.Analysis, p.deps.Store, cfg.Keywords, cfg.Recruitment, logger)
	handle, err := p.deps.Providers(cfg, provider.Deps{
		Store:      p.deps.Store,
		Content:    fetcher,
		Gate:       gate,
		Watermarks: p.deps.Watermarks,
		Client:     p.deps.HTTPClient,
		Logger:     logger,
		RetryDelay: p.deps.RetryDelay,
	})
	if err != nil {
		logger.Error("provider setup failed, skipping cycle", "error", err)
		return report, cfg, logger, fmt.Errorf("build provider: %w", err)
	}
	report.Mode = handle.Mode
	logger = logger.With("provider", string(handle.Mode))
	logger.Info("cycle started")

	if handle.Syncer != nil {
		synced, err := handle.Syncer.SyncFeeds(ctx, cfg.Feeds)
		if err != nil {
			logger.Error("feed sync failed", "error", err)
		} else {
			report.Synced = &synced
			logger.Info("synced feeds",
				"added", len(synced.Added),
				"existing", len(synced.Existed),
				"failed", len(synced.Failed),
			)
		}
	}

	postings, err := handle.Provider.FetchCandidates(ctx)
	if err != nil {
		logger.Error("fetch failed, continuing with no new postings", "error", err)
	}
	report.Fetched = len(postings)

	for _, posting := range postings {
		if ctx.Err() != nil {
			break
		}
		inserted, err := p.deps.Store.AddIfAbsent(ctx, posting)
		if err != nil {
			logger.Error("failed to store posting", "title", posting.Title, "link", posting.Link, "error", err)
			continue
		}
		if inserted {
			report.Inserted++
		}
	}
	logger.Info("stored postings", "fetched", report.Fetched, "inserted", report.Inserted)

	return report, cfg, logger, ctx.Err()
}

// AnalyzePending analyzes every unanalyzed posting outside a full cycle.
func (p *Pipeline) AnalyzePending(ctx context.Context) (AnalyzeReport, error) {
	cfg, err := p.deps.Config.Load()
	if err != nil {
		return AnalyzeReport{}, fmt.Errorf("reload config: %w", err)
	}
	return p.analyzePending(ctx, cfg.Keywords, p.deps.Logger)
}

// analyzePending persists each result as soon as it is produced. A failure on
// one posting leaves it pending and moves on to the next.
func (p *Pipeline) analyzePending(ctx context.Context, keywords []string, logger *slog.Logger) (AnalyzeReport, error) {
	var report AnalyzeReport

	pending, err := p.deps.Store.ListUnanalyzed(ctx)
	if err != nil {
		logger.Error("failed to list pending postings", "error", err)
		return report, nil
	}
	report.Pending = len(pending)

	for _, posting := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := p.deps.Analysis.Analyze(ctx, posting, keywords)
		if err != nil {
			report.Failed++
			logger.Error("analysis failed", "posting_id", posting.ID, "title", posting.Title, "error", err)
			continue
		}
		if err := p.deps.Store.UpdateAnalysis(ctx, posting.ID, result); err != nil {
			report.Failed++
			logger.Error("failed to store analysis", "posting_id", posting.ID, "error", err)
			continue
		}
		posting.Analyzed = true
		posting.AnalysisResult = result
		report.Postings = append(report.Postings, posting)
		logger.Debug("analyzed posting", "posting_id", posting.ID, "title", posting.Title)
	}
	report.Analyzed = len(report.Postings)

	if report.Analyzed == 0 {
		return report, nil
	}

	if p.deps.Index != nil {
		if err := p.deps.Index.Add(ctx, report.Postings); err != nil {
			logger.Error("failed to index analyzed postings", "count", report.Analyzed, "error", err)
		} else {
			report.Indexed = report.Analyzed
		}
	}

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.Notify(report.Postings); err != nil {
			logger.Error("notification failed", "count", report.Analyzed, "error", err)
		}
	}
	return report, nil
}

func (p *Pipeline) contentFetcher(cfg *config.Config, logger *slog.Logger) provider.ContentFetcher {
	if p.deps.Content != nil {
		return p.deps.Content
	}
	return content.NewFetcher(cfg.Content, &http.Client{Timeout: cfg.Content.Timeout}, logger)
}
