// Package filter decides which postings are worth fetching and analyzing.
package filter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/model"
)

// Policy holds the gate's knobs.
type Policy struct {
	// Threshold is the lowest score counted as relevant.
	Threshold int
	// FailOpenScore is reported when scoring fails or cannot be parsed. It
	// should be at or above Threshold so a flaky scorer never drops a posting.
	FailOpenScore int
}

// DefaultPolicy accepts scores of 6 and above and fails open at 6.
var DefaultPolicy = Policy{Threshold: 6, FailOpenScore: 6}

// Scorer rates a posting 0..10 against keywords and eligibility filters.
type Scorer interface {
	Score(ctx context.Context, title, description string, keywords []string, filters config.RecruitmentFilters) (int, error)
}

// RecordLookup is the part of the Record Store the gate reads and writes.
type RecordLookup interface {
	Get(ctx context.Context, id string) (model.Posting, error)
	UpdateRelevanceScore(ctx context.Context, id string, score int) error
}

// RelevanceGate is the cheap pre-filter run before content is fetched. A
// stored positive score is reused so each identity is scored at most once.
type RelevanceGate struct {
	scorer   Scorer
	records  RecordLookup
	keywords []string
	filters  config.RecruitmentFilters
	policy   Policy
	logger   *slog.Logger
}

// NewRelevanceGate returns a gate using DefaultPolicy. records may be nil.
func NewRelevanceGate(scorer Scorer, records RecordLookup, keywords []string, filters config.RecruitmentFilters, logger *slog.Logger) *RelevanceGate {
	return &RelevanceGate{
		scorer:   scorer,
		records:  records,
		keywords: keywords,
		filters:  filters,
		policy:   DefaultPolicy,
		logger:   logger,
	}
}

// WithPolicy replaces the gate's policy.
func (g *RelevanceGate) WithPolicy(p Policy) *RelevanceGate {
	g.policy = p
	return g
}

// IsRelevant returns the verdict and the score it was based on.
func (g *RelevanceGate) IsRelevant(ctx context.Context, title, description, link string) (bool, int) {
	id := model.PostingID(title, link)

	var known bool
	if g.records != nil && link != "" {
		p, err := g.records.Get(ctx, id)
		switch {
		case err == nil:
			known = true
			if p.RelevanceScore > 0 {
				g.logger.Debug("relevance cache hit", "posting_id", id, "score", p.RelevanceScore)
				return g.verdict(p.RelevanceScore)
			}
		case !errors.Is(err, model.ErrNotFound):
			g.logger.Warn("relevance cache lookup failed", "posting_id", id, "error", err)
		}
	}

	score, err := g.scorer.Score(ctx, title, description, g.keywords, g.filters)
	if err != nil {
		g.logger.Warn("relevance scoring failed, failing open",
			"title", title,
			"score", g.policy.FailOpenScore,
			"error", err,
		)
		return g.verdict(g.policy.FailOpenScore)
	}

	if known && score > 0 {
		if err := g.records.UpdateRelevanceScore(ctx, id, score); err != nil {
			g.logger.Warn("failed to store relevance score", "posting_id", id, "error", err)
		}
	}
	return g.verdict(score)
}

func (g *RelevanceGate) verdict(score int) (bool, int) {
	return score >= g.policy.Threshold, score
}
