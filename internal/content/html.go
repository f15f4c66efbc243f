package content

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSelectors are tried in order for the region holding the job text.
var DefaultSelectors = []string{
	"main",
	`[role="main"]`,
	".job-description",
	".job-details",
	".position-summary",
	".content",
	"#content",
	".post-content",
	"article",
	".job-posting",
	".job-info",
}

// StructuredStrategy strips page chrome and returns the first semantic
// content region with substantial text, falling back to the whole page.
type StructuredStrategy struct {
	Selectors []string
}

func NewStructuredStrategy() *StructuredStrategy {
	return &StructuredStrategy{Selectors: DefaultSelectors}
}

func (s *StructuredStrategy) Name() string   { return "structured" }
func (s *StructuredStrategy) MinLength() int { return SubstantialLength }

func (s *StructuredStrategy) Extract(ctx context.Context, _ string, page PageLoader) (string, error) {
	doc, err := loadDocument(ctx, page)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, header, footer, aside, noscript").Remove()

	for _, sel := range s.Selectors {
		region := doc.Find(sel).First()
		if region.Length() == 0 {
			continue
		}
		if text := nodeText(region); runeLen(text) > SubstantialLength {
			return truncate(text, MaxLength), nil
		}
	}
	return truncate(nodeText(doc.Selection), MaxLength), nil
}

// BasicStrategy drops only scripts and styles and returns all page text.
type BasicStrategy struct{}

func (BasicStrategy) Name() string   { return "basic" }
func (BasicStrategy) MinLength() int { return 0 }

func (BasicStrategy) Extract(ctx context.Context, _ string, page PageLoader) (string, error) {
	doc, err := loadDocument(ctx, page)
	if err != nil {
		return "", err
	}
	doc.Find("script, style").Remove()
	return truncate(nodeText(doc.Selection), FallbackMaxLength), nil
}

// loadDocument parses a fresh DOM each call since strategies mutate it.
func loadDocument(ctx context.Context, page PageLoader) (*goquery.Document, error) {
	body, err := page(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// nodeText joins every non-blank text node under sel, one per line.
func nodeText(sel *goquery.Selection) string {
	var parts []string
	collectText(sel, &parts)
	return strings.Join(parts, "\n")
}

func collectText(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			if t := strings.TrimSpace(c.Text()); t != "" {
				*parts = append(*parts, t)
			}
		case "#comment":
		default:
			collectText(c, parts)
		}
	})
}
