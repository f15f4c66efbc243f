package vecindex

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobharvest/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// hashEmbedder maps each lower-cased word to a bucket, so texts sharing words
// have high cosine similarity. It is deterministic across runs.
type hashEmbedder struct {
	dim   int
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.calls = append(h.calls, texts)
	h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, h.dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			f := fnv.New32a()
			f.Write([]byte(w))
			v[f.Sum32()%uint32(h.dim)]++
		}
		out[i] = v
	}
	return out, nil
}

type stubExpander struct {
	terms []string
	err   error
}

func (s stubExpander) ExpandQuery(_ context.Context, _ string) ([]string, error) {
	return s.terms, s.err
}

type pagedSource struct {
	postings []model.Posting
	pages    []int
}

func (p *pagedSource) ListAnalyzed(_ context.Context, limit, offset int) ([]model.Posting, error) {
	if offset >= len(p.postings) {
		p.pages = append(p.pages, 0)
		return nil, nil
	}
	end := min(offset+limit, len(p.postings))
	p.pages = append(p.pages, end-offset)
	return p.postings[offset:end], nil
}

func testPaths(t *testing.T) Paths {
	dir := t.TempDir()
	return Paths{Index: filepath.Join(dir, "data", "vector_index.bin"), Metadata: filepath.Join(dir, "data", "documents.json")}
}

func posting(id, title, published string) model.Posting {
	return model.Posting{ID: id, Title: title, Link: "https://jobs.example/" + id, Published: published, Analyzed: true, AnalysisResult: "analysis of " + title}
}

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func openIndex(t *testing.T, paths Paths, emb *hashEmbedder, exp Expander, opts ...Option) *Index {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	ix, err := Open(context.Background(), paths, emb, exp, discardLogger(), opts...)
	require.NoError(t, err)
	return ix
}

func TestOpen_MeasuresDimension(t *testing.T) {
	emb := &hashEmbedder{dim: 32}
	ix := openIndex(t, testPaths(t), emb, nil)

	assert.Equal(t, 32, ix.Dimension())
	assert.Equal(t, 0, ix.Len())
	require.Len(t, emb.calls, 1)
	assert.Equal(t, []string{"sample text"}, emb.calls[0])
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix := openIndex(t, testPaths(t), &hashEmbedder{dim: 16}, nil)
	hits, err := ix.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAdd_KeepsAlignmentAndPersists(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	emb := &hashEmbedder{dim: 64}
	ix := openIndex(t, paths, emb, nil)

	require.NoError(t, ix.Add(ctx, []model.Posting{
		posting("a", "Assistant Professor Machine Learning", "2026-05-01"),
		posting("b", "Lecturer Medieval History", "2026-05-02"),
	}))
	require.NoError(t, ix.Add(ctx, []model.Posting{
		posting("c", "Postdoc Marine Biology", "2026-05-03"),
	}))
	assert.Equal(t, 3, ix.Len())

	// One batch call per Add after the dimension check.
	require.Len(t, emb.calls, 3)
	assert.Len(t, emb.calls[1], 2)

	for _, tc := range []struct{ query, want string }{
		{"Assistant Professor Machine Learning", "a"},
		{"Lecturer Medieval History", "b"},
		{"Postdoc Marine Biology", "c"},
	} {
		hits, err := ix.Search(ctx, tc.query, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, tc.want, hits[0].PostingID, "query %q", tc.query)
		assert.Greater(t, hits[0].Score, float32(0.5))
	}

	reopened := openIndex(t, paths, emb, nil)
	assert.Equal(t, 3, reopened.Len())
	assert.Equal(t, 64, reopened.Dimension())
	hits, err := reopened.Search(ctx, "Marine Biology", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].PostingID)
	assert.Equal(t, "analysis of Postdoc Marine Biology", hits[0].Analysis)
}

func TestSearch_ScoresAreSortedAndCapped(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, testPaths(t), &hashEmbedder{dim: 64}, nil)
	var batch []model.Posting
	for i := range 8 {
		batch = append(batch, posting(fmt.Sprint(i), fmt.Sprintf("Professor of topic%d", i), ""))
	}
	require.NoError(t, ix.Add(ctx, batch))

	hits, err := ix.Search(ctx, "professor topic3", 5)
	require.NoError(t, err)
	require.Len(t, hits, 5)
	assert.Equal(t, "3", hits[0].PostingID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestAdd_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	ix := openIndex(t, paths, &hashEmbedder{dim: 16}, nil)
	require.NoError(t, ix.Add(ctx, []model.Posting{posting("a", "Lecturer", "")}))

	bigger := &hashEmbedder{dim: 32}
	reopened := openIndex(t, paths, bigger, nil)
	err := reopened.Add(ctx, []model.Posting{posting("b", "Professor", "")})
	assert.True(t, errors.Is(err, ErrDimensionMismatch), "got %v", err)
	assert.True(t, errors.Is(reopened.CheckDimension(ctx), ErrDimensionMismatch))
	assert.Equal(t, 1, reopened.Len())
}

func TestSearch_DiscardsRowsWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	emb := &hashEmbedder{dim: 32}
	ix := openIndex(t, paths, emb, nil)
	require.NoError(t, ix.Add(ctx, []model.Posting{
		posting("a", "Lecturer History", ""),
		posting("b", "Lecturer Physics", ""),
		posting("c", "Lecturer Chemistry", ""),
	}))

	// Simulate a crash between the two renames: the metadata on disk is one
	// entry behind the index.
	ix.docs = ix.docs[:2]
	require.NoError(t, ix.persist())
	_, vectors, err := readIndex(paths.Index)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	reopened := openIndex(t, paths, emb, nil)
	hits, err := reopened.Search(ctx, "Lecturer Chemistry", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	for _, h := range hits {
		assert.NotEqual(t, "c", h.PostingID)
	}
}

func TestSemanticSearch_TimeFilterBoundaries(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, testPaths(t), &hashEmbedder{dim: 64}, stubExpander{terms: []string{"faculty"}})

	day := 24 * time.Hour
	require.NoError(t, ix.Add(ctx, []model.Posting{
		posting("recent", "Professor faculty recent", fixedNow.Add(-89*day).Format(time.RFC3339)),
		posting("old", "Professor faculty old", fixedNow.Add(-91*day).Format(time.RFC3339)),
		posting("undated", "Professor faculty undated", "sometime last spring"),
		posting("unix", "Professor faculty unix", fmt.Sprint(fixedNow.Add(-10*day).Unix())),
	}))

	hits, err := ix.SemanticSearch(ctx, "Professor", "Past 3 months")
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, h := range hits {
		ids[h.PostingID] = true
	}
	assert.True(t, ids["recent"], "89 days old is inside the window")
	assert.False(t, ids["old"], "91 days old is outside the window")
	assert.True(t, ids["undated"], "unparseable dates are kept")
	assert.True(t, ids["unix"], "unix timestamps parse")

	hits, err = ix.SemanticSearch(ctx, "Professor", "Past 6 months")
	require.NoError(t, err)
	assert.Len(t, hits, 4)

	hits, err = ix.SemanticSearch(ctx, "Professor", "")
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

func TestSemanticSearch_ExpandsQueryAndCaps(t *testing.T) {
	ctx := context.Background()
	emb := &hashEmbedder{dim: 64}
	ix := openIndex(t, testPaths(t), emb, stubExpander{terms: []string{"machine learning", "AI faculty"}})

	var batch []model.Posting
	for i := range 25 {
		batch = append(batch, posting(fmt.Sprint(i), fmt.Sprintf("AI faculty %d", i), ""))
	}
	require.NoError(t, ix.Add(ctx, batch))

	hits, err := ix.SemanticSearch(ctx, "robotics", "")
	require.NoError(t, err)
	assert.Len(t, hits, SemanticResults)

	last := emb.calls[len(emb.calls)-1]
	assert.Equal(t, []string{"robotics machine learning AI faculty"}, last)
}

func TestSemanticSearch_ExpansionFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	emb := &hashEmbedder{dim: 32}
	ix := openIndex(t, testPaths(t), emb, stubExpander{err: errors.New("llm down")})
	require.NoError(t, ix.Add(ctx, []model.Posting{posting("a", "Robotics Lecturer", "")}))

	hits, err := ix.SemanticSearch(ctx, "robotics", "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, []string{"robotics"}, emb.calls[len(emb.calls)-1])
}

func TestRebuild_InBatches(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	emb := &hashEmbedder{dim: 32}
	ix := openIndex(t, paths, emb, nil, WithRebuildBatchSize(100))
	require.NoError(t, ix.Add(ctx, []model.Posting{posting("stale", "Stale entry", "")}))

	src := &pagedSource{}
	for i := range 250 {
		src.postings = append(src.postings, posting(fmt.Sprint(i), fmt.Sprintf("Job %d", i), ""))
	}

	emb.calls = nil
	n, err := ix.Rebuild(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	assert.Equal(t, 250, ix.Len())
	assert.Equal(t, []int{100, 100, 50}, src.pages)

	// Dimension check, then one embedding call per batch.
	require.Len(t, emb.calls, 4)
	assert.Equal(t, []string{"sample text"}, emb.calls[0])
	assert.Len(t, emb.calls[1], 100)
	assert.Len(t, emb.calls[3], 50)

	reopened := openIndex(t, paths, emb, nil)
	assert.Equal(t, 250, reopened.Len())
	hits, err := reopened.Search(ctx, "Stale entry", 250)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "stale", h.PostingID)
	}
}

func TestRebuild_EmptySourceLeavesEmptyPair(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	ix := openIndex(t, paths, &hashEmbedder{dim: 8}, nil)
	require.NoError(t, ix.Add(ctx, []model.Posting{posting("a", "Lecturer", "")}))

	n, err := ix.Rebuild(ctx, &pagedSource{})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, vectors, err := readIndex(paths.Index)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	docs, err := readMetadata(paths.Metadata)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestOpen_CorruptIndexStartsEmpty(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(paths.Index), 0o755))
	require.NoError(t, os.WriteFile(paths.Index, []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(paths.Metadata, []byte("[]"), 0o644))

	ix := openIndex(t, paths, &hashEmbedder{dim: 12}, nil)
	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, 12, ix.Dimension())
}

func TestFilterDays(t *testing.T) {
	assert.Equal(t, 90, FilterDays("Past 3 months"))
	assert.Equal(t, 180, FilterDays("Past 6 months"))
	assert.Equal(t, 365, FilterDays("Past 1 year"))
	assert.Equal(t, 0, FilterDays("All time"))
	assert.Equal(t, 0, FilterDays(""))
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.Equal(t, []float32{0, 0}, normalize([]float32{0, 0}))
}
