package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/amishk599/jobharvest/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when no posting has the requested id.
var ErrNotFound = model.ErrNotFound

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02 15:04:05.000000000"

var postingColumns = []string{
	"id", "title", "link", "description", "content", "published", "source", "category",
	"created_at", "analyzed", "analysis_result", "relevance_score",
}

// Ensure SQLiteStore implements model.PostingStore.
var _ model.PostingStore = (*SQLiteStore)(nil)

// SQLiteStore is the persisted Record Store.
type SQLiteStore struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and migrates
// it to the latest schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection serialises writers, so check-and-insert on the primary
	// key cannot race.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now: time.Now,
	}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Get returns the posting with the given id or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (model.Posting, error) {
	query, args, err := s.sb.Select(postingColumns...).From("postings").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Posting{}, fmt.Errorf("build get query: %w", err)
	}
	p, err := scanPosting(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Posting{}, ErrNotFound
	}
	if err != nil {
		return model.Posting{}, fmt.Errorf("get posting %s: %w", id, err)
	}
	return p, nil
}

// Exists reports whether a posting with the given id is stored.
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM postings WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking posting %s: %w", id, err)
	}
	return true, nil
}

// AddIfAbsent inserts p keyed by its (title, link) identity. An existing
// record is left untouched and false is returned.
func (s *SQLiteStore) AddIfAbsent(ctx context.Context, p model.Posting) (bool, error) {
	p.ID = p.Identity()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}

	var result any
	if p.Analyzed {
		result = p.AnalysisResult
	}

	query, args, err := s.sb.Insert("postings").
		Columns(postingColumns...).
		Values(p.ID, p.Title, p.Link, p.Description, p.Content, p.Published, p.Source, p.Category,
			p.CreatedAt.UTC().Format(timeLayout), p.Analyzed, result, p.RelevanceScore).
		Suffix("ON CONFLICT(id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("inserting posting %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting posting %s: %w", p.ID, err)
	}
	return n == 1, nil
}

// ListUnanalyzed returns every posting still waiting for analysis, oldest first.
func (s *SQLiteStore) ListUnanalyzed(ctx context.Context) ([]model.Posting, error) {
	return s.query(ctx, s.sb.Select(postingColumns...).From("postings").
		Where(sq.Eq{"analyzed": 0}).
		OrderBy("created_at ASC", "rowid ASC"))
}

// ListAnalyzed pages through analyzed postings in a stable order.
func (s *SQLiteStore) ListAnalyzed(ctx context.Context, limit, offset int) ([]model.Posting, error) {
	return s.query(ctx, paginate(s.sb.Select(postingColumns...).From("postings").
		Where(sq.Eq{"analyzed": 1}).
		OrderBy("created_at ASC", "rowid ASC"), limit, offset))
}

// UpdateAnalysis stores result and flips analyzed in one statement.
func (s *SQLiteStore) UpdateAnalysis(ctx context.Context, id, result string) error {
	return s.update(ctx, id, s.sb.Update("postings").
		Set("analyzed", 1).
		Set("analysis_result", result).
		Where(sq.Eq{"id": id}))
}

// UpdateRelevanceScore caches a relevance score for the posting.
func (s *SQLiteStore) UpdateRelevanceScore(ctx context.Context, id string, score int) error {
	return s.update(ctx, id, s.sb.Update("postings").
		Set("relevance_score", score).
		Where(sq.Eq{"id": id}))
}

// List pages through all postings, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]model.Posting, error) {
	return s.query(ctx, paginate(s.sb.Select(postingColumns...).From("postings").
		OrderBy("created_at DESC", "rowid DESC"), limit, offset))
}

// Search does a case-insensitive substring match over title and description.
func (s *SQLiteStore) Search(ctx context.Context, q string, limit int) ([]model.Posting, error) {
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	return s.query(ctx, paginate(s.sb.Select(postingColumns...).From("postings").
		Where(sq.Or{
			sq.Expr(`LOWER(title) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`LOWER(description) LIKE ? ESCAPE '\'`, pattern),
		}).
		OrderBy("created_at DESC", "rowid DESC"), limit, 0))
}

// Stats counts total, analyzed and pending postings.
func (s *SQLiteStore) Stats(ctx context.Context) (model.Stats, error) {
	query, args, err := s.sb.Select("COUNT(*)", "COALESCE(SUM(analyzed), 0)").From("postings").ToSql()
	if err != nil {
		return model.Stats{}, fmt.Errorf("build stats query: %w", err)
	}
	var st model.Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Total, &st.Analyzed); err != nil {
		return model.Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	st.Pending = st.Total - st.Analyzed
	return st, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, b sq.SelectBuilder) ([]model.Posting, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query postings: %w", err)
	}
	defer rows.Close()

	var out []model.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postings: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) update(ctx context.Context, id string, b sq.UpdateBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating posting %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating posting %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosting(r rowScanner) (model.Posting, error) {
	var (
		p         model.Posting
		createdAt string
		analyzed  int
		result    sql.NullString
	)
	err := r.Scan(&p.ID, &p.Title, &p.Link, &p.Description, &p.Content, &p.Published, &p.Source, &p.Category,
		&createdAt, &analyzed, &result, &p.RelevanceScore)
	if err != nil {
		return model.Posting{}, err
	}
	p.CreatedAt, err = time.ParseInLocation(timeLayout, createdAt, time.UTC)
	if err != nil {
		return model.Posting{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	p.Analyzed = analyzed != 0
	p.AnalysisResult = result.String
	return p, nil
}

func paginate(b sq.SelectBuilder, limit, offset int) sq.SelectBuilder {
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		if limit <= 0 {
			// SQLite needs a LIMIT before OFFSET.
			b = b.Limit(1<<63 - 1)
		}
		b = b.Offset(uint64(offset))
	}
	return b
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
