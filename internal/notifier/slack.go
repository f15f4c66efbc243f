package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amishk599/jobharvest/internal/model"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

// summaryLimit keeps the analysis block under Slack's 3000 character section limit.
const summaryLimit = 1200

// SlackNotifier posts each analyzed posting to an Incoming Webhook.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
	pause      time.Duration
	sleep      func(time.Duration)
}

func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
		pause:      500 * time.Millisecond,
		sleep:      time.Sleep,
	}
}

// Notify sends one Block Kit message per posting. It returns an error only
// when every message failed; single failures are logged.
func (s *SlackNotifier) Notify(postings []model.Posting) error {
	if len(postings) == 0 {
		return nil
	}

	failures := 0
	for i, p := range postings {
		if i > 0 {
			s.sleep(s.pause)
		}
		if err := s.send(p); err != nil {
			s.logger.Error("slack notification failed", "title", p.Title, "link", p.Link, "error", err)
			failures++
		}
	}

	if failures == len(postings) {
		return fmt.Errorf("all %d slack notifications failed", failures)
	}
	s.logger.Info("slack notifications complete", "sent", len(postings)-failures, "failed", failures)
	return nil
}

// send posts once and, on 429, once more after Retry-After.
func (s *SlackNotifier) send(p model.Posting) error {
	body, err := json.Marshal(buildPayload(p))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	status, retryAfter, err := s.post(body)
	if err != nil {
		return err
	}
	retried := false
	if status == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after", retryAfter)
		s.sleep(retryAfter)
		if status, _, err = s.post(body); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
		retried = true
	}
	if status != http.StatusOK {
		return fmt.Errorf("slack returned %d", status)
	}
	s.logger.Info("slack message sent", "title", p.Title, "retried", retried)
	return nil
}

func (s *SlackNotifier) post(body []byte) (int, time.Duration, error) {
	resp, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	if secs <= 0 {
		secs = 1
	}
	return resp.StatusCode, time.Duration(secs) * time.Second, nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style"`
}

// SendTestMessage sends a sample posting through n.
func SendTestMessage(n model.Notifier) error {
	sample := model.Posting{
		Title:          "Test Notification: Postdoctoral Researcher",
		Link:           "https://example.com/jobs/test",
		Description:    "Sample posting sent by jobharvest notify test.",
		Published:      time.Now().Format(time.RFC1123),
		Source:         "jobharvest",
		Category:       "test",
		Analyzed:       true,
		AnalysisResult: "Integration verified. Analyzed postings will arrive here.",
		RelevanceScore: 10,
	}
	sample.ID = sample.Identity()
	return n.Notify([]model.Posting{sample})
}

func buildPayload(p model.Posting) slackPayload {
	published := p.Published
	if published == "" {
		published = "Unknown"
	}
	source := p.Source
	if p.Category != "" {
		source += " / " + p.Category
	}

	fields := []slackText{
		{Type: "mrkdwn", Text: "*Source:*\n" + source},
		{Type: "mrkdwn", Text: "*Published:*\n" + published},
	}
	if p.RelevanceScore > 0 {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Relevance:*\n%d/10", p.RelevanceScore)})
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: p.Title},
		},
		{Type: "section", Fields: fields},
	}

	if summary := excerpt(p.AnalysisResult, summaryLimit); summary != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: summary},
		})
	}

	blocks = append(blocks,
		slackBlock{
			Type: "actions",
			Elements: []slackElement{
				{
					Type:  "button",
					Text:  slackText{Type: "plain_text", Text: "View Posting"},
					URL:   p.Link,
					Style: "primary",
				},
			},
		},
		slackBlock{Type: "divider"},
	)

	return slackPayload{Blocks: blocks}
}

// excerpt trims s to at most limit runes, cutting at a line break when one is
// close to the limit.
func excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit])
	if i := strings.LastIndex(cut, "\n"); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "\n…"
}
