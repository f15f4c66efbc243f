package pipeline

import (
	"context"
	"errors"

	"github.com/amishk599/jobharvest/internal/model"
)

// ErrNoIndex is returned by index operations on a pipeline built without one.
var ErrNoIndex = errors.New("vector index not configured")

// RebuildIndex re-embeds every analyzed posting.
func (p *Pipeline) RebuildIndex(ctx context.Context) (int, error) {
	if p.deps.Index == nil {
		return 0, ErrNoIndex
	}
	return p.deps.Index.Rebuild(ctx, p.deps.Store)
}

// Search is a raw nearest-neighbour lookup.
func (p *Pipeline) Search(ctx context.Context, query string, topK int) ([]model.SearchHit, error) {
	if p.deps.Index == nil {
		return nil, ErrNoIndex
	}
	return p.deps.Index.Search(ctx, query, topK)
}

// SemanticSearch expands query and applies an optional recency filter label.
func (p *Pipeline) SemanticSearch(ctx context.Context, query, timeFilter string) ([]model.SearchHit, error) {
	if p.deps.Index == nil {
		return nil, ErrNoIndex
	}
	return p.deps.Index.SemanticSearch(ctx, query, timeFilter)
}

// List pages through stored postings, newest first.
func (p *Pipeline) List(ctx context.Context, limit, offset int) ([]model.Posting, error) {
	return p.deps.Store.List(ctx, limit, offset)
}

// SearchText is a case-insensitive substring search over title and description.
func (p *Pipeline) SearchText(ctx context.Context, query string, limit int) ([]model.Posting, error) {
	return p.deps.Store.Search(ctx, query, limit)
}

func (p *Pipeline) Stats(ctx context.Context) (model.Stats, error) {
	return p.deps.Store.Stats(ctx)
}
