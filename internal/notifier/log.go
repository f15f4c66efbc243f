package notifier

import (
	"log/slog"

	"github.com/amishk599/jobharvest/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes freshly analyzed postings to the logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify never fails.
func (n *LogNotifier) Notify(postings []model.Posting) error {
	for _, p := range postings {
		args := []any{"title", p.Title, "source", p.Source, "link", p.Link}
		if p.Published != "" {
			args = append(args, "published", p.Published)
		}
		if p.RelevanceScore > 0 {
			args = append(args, "relevance", p.RelevanceScore)
		}
		n.logger.Info("new posting", args...)
	}
	return nil
}
