package vecindex

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/amishk599/jobharvest/internal/model"
)

// KeepUnparseableDates keeps hits whose published date cannot be parsed when
// a recency filter is applied.
const KeepUnparseableDates = true

var recencyLabels = []struct {
	label string
	days  int
}{
	{"3 months", 90},
	{"6 months", 180},
	{"1 year", 365},
}

// FilterDays maps a time filter label such as "Past 3 months" to its window
// in days. Zero means no filter.
func FilterDays(label string) int {
	for _, r := range recencyLabels {
		if strings.Contains(label, r.label) {
			return r.days
		}
	}
	return 0
}

func (ix *Index) filterRecent(hits []model.SearchHit, days int) []model.SearchHit {
	cutoff := ix.now().Add(-time.Duration(days) * 24 * time.Hour)
	kept := hits[:0:0]
	for _, h := range hits {
		published, err := dateparse.ParseAny(strings.TrimSpace(h.Published))
		if err != nil {
			if ix.keepUnparseable {
				kept = append(kept, h)
			}
			continue
		}
		if !published.Before(cutoff) {
			kept = append(kept, h)
		}
	}
	return kept
}
