package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Posting is one job listing harvested from a feed.
type Posting struct {
	ID          string // content hash of title and link, see PostingID
	Title       string
	Link        string
	Description string
	Content     string // extracted page text, empty until fetched
	Published   string // provider-supplied, not normalised
	Source      string // feed name
	Category    string
	CreatedAt   time.Time

	Analyzed       bool
	AnalysisResult string
	RelevanceScore int // 0 means not scored yet
}

// PostingID returns the stable identity of a (title, link) pair.
// Titles are NFC-normalised so visually identical titles from different
// providers hash the same.
func PostingID(title, link string) string {
	t := norm.NFC.String(strings.TrimSpace(title))
	l := strings.TrimSpace(link)
	sum := sha256.Sum256([]byte(t + "|" + l))
	return hex.EncodeToString(sum[:])
}

// Identity returns PostingID for the posting's own title and link.
func (p Posting) Identity() string {
	return PostingID(p.Title, p.Link)
}

// IndexedDocument is the searchable projection of an analyzed posting.
// Its position in the metadata list matches its row in the vector index.
type IndexedDocument struct {
	PostingID string `json:"posting_id"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Source    string `json:"source"`
	Category  string `json:"category"`
	Published string `json:"published"`
	Text      string `json:"text"`
	Analysis  string `json:"analysis"`
}

// SearchHit is an IndexedDocument with its query-time cosine similarity.
type SearchHit struct {
	IndexedDocument
	Score float32 `json:"score"`
}

// Stats summarises the Record Store.
type Stats struct {
	Total    int `json:"total_jobs"`
	Analyzed int `json:"analyzed_jobs"`
	Pending  int `json:"pending_analysis"`
}

// FeedSource is a configured feed. The core only reads it.
type FeedSource struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

// SyncReport lists the outcome of pushing feed sources to a remote reader.
type SyncReport struct {
	Added   []string
	Existed []string
	Failed  []string
}

// FeedProvider returns raw candidate postings from one kind of feed source.
type FeedProvider interface {
	FetchCandidates(ctx context.Context) ([]Posting, error)
}

// FeedSyncer is implemented by providers backed by a remote reader that must
// be told which feeds to follow.
type FeedSyncer interface {
	SyncFeeds(ctx context.Context, feeds []FeedSource) (SyncReport, error)
}

// PostingStore is the persisted, deduplicated table of postings.
type PostingStore interface {
	Get(ctx context.Context, id string) (Posting, error)
	Exists(ctx context.Context, id string) (bool, error)
	// AddIfAbsent inserts p under its identity and reports whether a new
	// record was created.
	AddIfAbsent(ctx context.Context, p Posting) (bool, error)
	ListUnanalyzed(ctx context.Context) ([]Posting, error)
	ListAnalyzed(ctx context.Context, limit, offset int) ([]Posting, error)
	UpdateAnalysis(ctx context.Context, id, result string) error
	UpdateRelevanceScore(ctx context.Context, id string, score int) error
	List(ctx context.Context, limit, offset int) ([]Posting, error)
	Search(ctx context.Context, query string, limit int) ([]Posting, error)
	Stats(ctx context.Context) (Stats, error)
}

// Notifier sends a digest of newly analyzed postings.
type Notifier interface {
	Notify(postings []Posting) error
}
