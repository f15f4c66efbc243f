// Package vecindex is a flat cosine-similarity index over analyzed postings,
// persisted as a binary vector file plus a JSON metadata list.
package vecindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amishk599/jobharvest/internal/embedding"
	"github.com/amishk599/jobharvest/internal/model"
)

// ErrDimensionMismatch means the embedder returned vectors of a different
// size than the index was created with. The index cannot recover from it:
// change the embedding model back or rebuild.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

const (
	sampleText = "sample text"

	// SemanticCandidates is the candidate pool searched before time filtering.
	SemanticCandidates = 20
	// SemanticResults caps what SemanticSearch returns.
	SemanticResults = 10

	defaultBatchSize = 100
)

// Paths locate the two artifacts. They are always written as a pair.
type Paths struct {
	Index    string
	Metadata string
}

// Expander supplies auxiliary search terms for a user query.
type Expander interface {
	ExpandQuery(ctx context.Context, query string) ([]string, error)
}

// Source lists analyzed postings page by page, in a stable order.
type Source interface {
	ListAnalyzed(ctx context.Context, limit, offset int) ([]model.Posting, error)
}

// Index holds L2-normalised vectors and the metadata list in the same order.
// Row i of vectors belongs to docs[i].
type Index struct {
	mu       sync.RWMutex
	paths    Paths
	embedder embedding.Embedder
	expander Expander
	logger   *slog.Logger

	now             func() time.Time
	batchSize       int
	keepUnparseable bool

	dim     int
	vectors [][]float32
	docs    []model.IndexedDocument
}

// Option customises an Index.
type Option func(*Index)

// WithClock sets the clock used for recency filters.
func WithClock(now func() time.Time) Option {
	return func(ix *Index) { ix.now = now }
}

// WithRebuildBatchSize sets how many postings Rebuild embeds per call.
func WithRebuildBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// Open loads the artifacts at paths. When they are missing or unreadable a
// new empty index is started, its dimension fixed by probing the embedder.
func Open(ctx context.Context, paths Paths, embedder embedding.Embedder, expander Expander, logger *slog.Logger, opts ...Option) (*Index, error) {
	ix := &Index{
		paths:           paths,
		embedder:        embedder,
		expander:        expander,
		logger:          logger,
		now:             time.Now,
		batchSize:       defaultBatchSize,
		keepUnparseable: KeepUnparseableDates,
	}
	for _, opt := range opts {
		opt(ix)
	}

	dim, vectors, err := readIndex(paths.Index)
	if err == nil {
		var docs []model.IndexedDocument
		docs, err = readMetadata(paths.Metadata)
		if err == nil {
			ix.dim, ix.vectors, ix.docs = dim, vectors, docs
			if len(vectors) != len(docs) {
				logger.Warn("vector index and metadata disagree",
					"vectors", len(vectors),
					"documents", len(docs),
				)
			}
			logger.Info("loaded vector index", "documents", len(docs), "dimension", dim)
			return ix, nil
		}
	}
	if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not load vector index, starting empty", "error", err)
	}

	if ix.dim, err = ix.measureDimension(ctx); err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *Index) measureDimension(ctx context.Context) (int, error) {
	vectors, err := ix.embedder.Embed(ctx, []string{sampleText})
	if err != nil {
		return 0, fmt.Errorf("measure embedding dimension: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("measure embedding dimension: empty vector")
	}
	return len(vectors[0]), nil
}

// CheckDimension embeds a sample text and fails with ErrDimensionMismatch when
// it no longer produces vectors of the index's dimension.
func (ix *Index) CheckDimension(ctx context.Context) error {
	dim, err := ix.measureDimension(ctx)
	if err != nil {
		return err
	}
	if want := ix.Dimension(); dim != want {
		return fmt.Errorf("%w: index has %d, embedder returns %d", ErrDimensionMismatch, want, dim)
	}
	return nil
}

// Len is the number of documents in the metadata list.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Dimension is the vector size fixed at creation.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Add embeds postings in one call, appends them and persists both artifacts.
func (ix *Index) Add(ctx context.Context, postings []model.Posting) error {
	if len(postings) == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.addLocked(ctx, postings)
}

func (ix *Index) addLocked(ctx context.Context, postings []model.Posting) error {
	docs := make([]model.IndexedDocument, len(postings))
	texts := make([]string, len(postings))
	for i, p := range postings {
		docs[i] = Document(p)
		texts[i] = docs[i].Text
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d documents: %w", len(texts), err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embed %d documents: got %d vectors", len(docs), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != ix.dim {
			return fmt.Errorf("%w: index has %d, embedder returned %d", ErrDimensionMismatch, ix.dim, len(v))
		}
		vectors[i] = normalize(v)
	}

	ix.vectors = append(ix.vectors, vectors...)
	ix.docs = append(ix.docs, docs...)

	if err := ix.persist(); err != nil {
		return err
	}
	ix.logger.Info("indexed documents", "added", len(docs), "total", len(ix.docs))
	return nil
}

// Document is the searchable projection of p.
func Document(p model.Posting) model.IndexedDocument {
	return model.IndexedDocument{
		PostingID: p.ID,
		Title:     p.Title,
		Link:      p.Link,
		Source:    p.Source,
		Category:  p.Category,
		Published: p.Published,
		Text:      strings.Join([]string{p.Title, p.Description, p.AnalysisResult}, " "),
		Analysis:  p.AnalysisResult,
	}
}

// Search returns up to topK documents by cosine similarity to query.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]model.SearchHit, error) {
	if ix.Len() == 0 || topK <= 0 {
		return nil, nil
	}

	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(vectors[0]) != ix.dim {
		return nil, fmt.Errorf("%w: index has %d, query has %d", ErrDimensionMismatch, ix.dim, len(vectors[0]))
	}
	q := normalize(vectors[0])

	type scored struct {
		pos   int
		score float32
	}
	results := make([]scored, 0, len(ix.vectors))
	for i, v := range ix.vectors {
		results = append(results, scored{pos: i, score: dot(q, v)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	hits := make([]model.SearchHit, 0, topK)
	for _, r := range results {
		if len(hits) == topK {
			break
		}
		// Rows past the metadata list have no document to return.
		if r.pos >= len(ix.docs) {
			continue
		}
		hits = append(hits, model.SearchHit{IndexedDocument: ix.docs[r.pos], Score: r.score})
	}
	return hits, nil
}

// SemanticSearch widens query with auxiliary terms, searches a larger pool,
// applies the optional recency filter and returns at most SemanticResults.
func (ix *Index) SemanticSearch(ctx context.Context, query, timeFilter string) ([]model.SearchHit, error) {
	expanded := query
	if ix.expander != nil {
		terms, err := ix.expander.ExpandQuery(ctx, query)
		if err != nil {
			ix.logger.Warn("query expansion failed, searching with the original query", "error", err)
		} else if len(terms) > 0 {
			expanded = query + " " + strings.Join(terms, " ")
		}
	}

	hits, err := ix.Search(ctx, expanded, SemanticCandidates)
	if err != nil {
		return nil, err
	}
	if days := FilterDays(timeFilter); days > 0 {
		hits = ix.filterRecent(hits, days)
	}
	if len(hits) > SemanticResults {
		hits = hits[:SemanticResults]
	}
	return hits, nil
}

// Rebuild discards both artifacts, re-measures the dimension and re-adds every
// analyzed posting from src in batches. It returns the number indexed.
func (ix *Index) Rebuild(ctx context.Context, src Source) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, path := range []string{ix.paths.Index, ix.paths.Metadata} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("remove %s: %w", path, err)
		}
	}
	dim, err := ix.measureDimension(ctx)
	if err != nil {
		return 0, err
	}
	ix.dim, ix.vectors, ix.docs = dim, nil, nil

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := src.ListAnalyzed(ctx, ix.batchSize, total)
		if err != nil {
			return total, fmt.Errorf("list analyzed at offset %d: %w", total, err)
		}
		if len(batch) == 0 {
			break
		}
		if err := ix.addLocked(ctx, batch); err != nil {
			return total, err
		}
		total += len(batch)
		if len(batch) < ix.batchSize {
			break
		}
	}
	if total == 0 {
		// Leave a valid empty pair on disk.
		if err := ix.persist(); err != nil {
			return 0, err
		}
	}
	ix.logger.Info("rebuilt vector index", "documents", total, "dimension", dim)
	return total, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
