package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amishk599/jobharvest/internal/model"
)

// Ensure MemoryStore implements model.PostingStore.
var _ model.PostingStore = (*MemoryStore)(nil)

// MemoryStore keeps postings in memory. It backs dry runs, where nothing may
// touch the database, and tests.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*model.Posting
	order []string // insertion order
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*model.Posting), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return model.Posting{}, ErrNotFound
	}
	return *p, nil
}

func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok, nil
}

func (s *MemoryStore) AddIfAbsent(_ context.Context, p model.Posting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = p.Identity()
	if _, ok := s.byID[p.ID]; ok {
		return false, nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if !p.Analyzed {
		p.AnalysisResult = ""
	}
	s.byID[p.ID] = &p
	s.order = append(s.order, p.ID)
	return true, nil
}

func (s *MemoryStore) ListUnanalyzed(_ context.Context) ([]model.Posting, error) {
	return s.collect(func(p *model.Posting) bool { return !p.Analyzed }, false, 0, 0), nil
}

func (s *MemoryStore) ListAnalyzed(_ context.Context, limit, offset int) ([]model.Posting, error) {
	return s.collect(func(p *model.Posting) bool { return p.Analyzed }, false, limit, offset), nil
}

func (s *MemoryStore) UpdateAnalysis(_ context.Context, id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.Analyzed = true
	p.AnalysisResult = result
	return nil
}

func (s *MemoryStore) UpdateRelevanceScore(_ context.Context, id string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.RelevanceScore = score
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]model.Posting, error) {
	return s.collect(func(*model.Posting) bool { return true }, true, limit, offset), nil
}

func (s *MemoryStore) Search(_ context.Context, query string, limit int) ([]model.Posting, error) {
	q := strings.ToLower(query)
	return s.collect(func(p *model.Posting) bool {
		return strings.Contains(strings.ToLower(p.Title), q) ||
			strings.Contains(strings.ToLower(p.Description), q)
	}, true, limit, 0), nil
}

func (s *MemoryStore) Stats(_ context.Context) (model.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st model.Stats
	for _, p := range s.byID {
		st.Total++
		if p.Analyzed {
			st.Analyzed++
		}
	}
	st.Pending = st.Total - st.Analyzed
	return st, nil
}

// collect filters postings in insertion order (or newest first) and pages the result.
func (s *MemoryStore) collect(keep func(*model.Posting) bool, newestFirst bool, limit, offset int) []model.Posting {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Posting
	for _, id := range s.order {
		if p := s.byID[id]; keep(p) {
			out = append(out, *p)
		}
	}
	if newestFirst {
		// Stable reverse of insertion order; ties on CreatedAt keep the later insert first.
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
