package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/ratelimit"
)

// AnalysisErrorPrefix starts the result text stored for a posting whose
// analysis call failed. The text is kept and indexed like any other result.
const AnalysisErrorPrefix = "Error calling "

// MaxSearchTerms caps the auxiliary terms returned by ExpandQuery.
const MaxSearchTerms = 5

// ErrInvalidScore is returned when a scoring response holds no integer in 0..10.
var ErrInvalidScore = errors.New("invalid relevance score")

var firstInt = regexp.MustCompile(`-?\d+`)

// Service is the analysis service: relevance scoring, posting analysis and
// query expansion on top of one LLMProvider.
type Service struct {
	provider LLMProvider
	name     string
	logger   *slog.Logger
}

// NewService wraps provider. name labels the backend in stored errors.
func NewService(provider LLMProvider, name string, logger *slog.Logger) *Service {
	return &Service{provider: provider, name: displayName(name), logger: logger}
}

// NewServiceFromConfig builds the configured provider behind the request
// budget of cfg.RequestsPerMinute.
func NewServiceFromConfig(cfg config.LLMConfig, logger *slog.Logger) (*Service, error) {
	provider, err := NewProvider(cfg, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	limited := ratelimit.NewLimitedProvider(provider, cfg.RequestsPerMinute)
	return NewService(limited, cfg.Provider, logger.With("llm", cfg.Provider, "model", cfg.Model)), nil
}

// Score asks for a 0..10 relevance rating of a posting against the keywords
// and eligibility filters.
func (s *Service) Score(ctx context.Context, title, description string, keywords []string, filters config.RecruitmentFilters) (int, error) {
	prompt, err := render(relevanceTemplate, relevanceData{
		Degree:      filters.RequiredDegree,
		Citizenship: filters.CitizenshipRequirement,
		Keywords:    keywords,
		Title:       title,
		Description: description,
	})
	if err != nil {
		return 0, err
	}

	raw, err := s.provider.Complete(ctx, prompt)
	if err != nil {
		return 0, fmt.Errorf("llm complete: %w", err)
	}
	return ParseScore(raw)
}

// ParseScore extracts the first integer in raw and checks it is within 0..10.
func ParseScore(raw string) (int, error) {
	m := firstInt.FindString(raw)
	if m == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScore, truncate(raw, 80))
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 0 || n > 10 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScore, m)
	}
	return n, nil
}

// Analyze returns the markdown analysis of p. A provider failure does not
// return an error: the failure text becomes the result, prefixed with
// AnalysisErrorPrefix. Errors are reserved for cancellation and prompt
// rendering.
func (s *Service) Analyze(ctx context.Context, p model.Posting, keywords []string) (string, error) {
	prompt, err := render(analysisTemplate, analysisData{
		Title:       p.Title,
		Source:      p.Source,
		Published:   p.Published,
		Link:        p.Link,
		Category:    p.Category,
		Description: p.Description,
		Content:     p.Content,
		Keywords:    keywords,
	})
	if err != nil {
		return "", err
	}

	out, err := s.provider.Complete(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn("analysis call failed", "posting_id", p.ID, "title", p.Title, "error", err)
		return fmt.Sprintf("%s%s: %v", AnalysisErrorPrefix, s.name, err), nil
	}
	return out, nil
}

// IsAnalysisError reports whether result is a stored provider failure.
func IsAnalysisError(result string) bool {
	return strings.HasPrefix(result, AnalysisErrorPrefix)
}

// ExpandQuery asks for up to MaxSearchTerms short search phrases related to query.
func (s *Service) ExpandQuery(ctx context.Context, query string) ([]string, error) {
	prompt, err := render(searchTermsTemplate, searchTermsData{Query: query})
	if err != nil {
		return nil, err
	}
	raw, err := s.provider.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm complete: %w", err)
	}
	return ParseSearchTerms(raw), nil
}

var listMarker = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)

// ParseSearchTerms reads one term per line, dropping blank lines, the
// "Search Terms:" header and list markers.
func ParseSearchTerms(raw string) []string {
	var terms []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Search Terms:") {
			continue
		}
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"`)
		if line == "" {
			continue
		}
		terms = append(terms, line)
		if len(terms) == MaxSearchTerms {
			break
		}
	}
	return terms
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
