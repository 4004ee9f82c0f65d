package daily

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/avidelta/nexus/internal/clients/gcal"
	"github.com/avidelta/nexus/internal/clients/github"
	"github.com/avidelta/nexus/internal/clients/notion"
	"github.com/avidelta/nexus/internal/clients/openai"
	"github.com/avidelta/nexus/internal/clients/slack"
	"github.com/avidelta/nexus/internal/notes"
)

// DemoNotes stand in for an empty notes directory in demo mode.
var DemoNotes = []string{
	"Implement automated data pull for sales pipeline",
	"Fix daily report export script failing on edge cases",
	"Draft investor-ready bulleted summary for next meeting",
}

const firstDemoIssue = 42

func demoNotes() []notes.Note {
	out := make([]notes.Note, 0, len(DemoNotes))
	for i, content := range DemoNotes {
		out = append(out, notes.Note{Name: fmt.Sprintf("demo-%d.md", i+1), Content: content})
	}
	return out
}

// DemoSummary is the canned summary used when no model is called.
func DemoSummary(noteCount int) openai.Summary {
	return openai.Summary{
		Highlights: []string{
			fmt.Sprintf("Processed %d notes from daily workflow", noteCount),
			"Identified automation opportunities in sales pipeline",
			"Found bug in report export requiring immediate fix",
		},
		ActionItems: append([]string(nil), DemoNotes...),
		Assessment:  "Key outcomes: 3 actionable items identified. Sales pipeline automation is high-priority.",
		Model:       "demo",
	}
}

// DemoIssues numbers one stub issue per action item.
func DemoIssues(actionItems []string) []github.Issue {
	out := make([]github.Issue, 0, len(actionItems))
	for i, item := range actionItems {
		number := firstDemoIssue + i
		out = append(out, github.Issue{
			Number: number,
			Title:  item,
			URL:    fmt.Sprintf("https://github.com/example/repo/issues/%d", number),
			Labels: []string{"automation", "daily-runner"},
			Demo:   true,
		})
	}
	return out
}

type demoSummarizer struct{}

func (demoSummarizer) Summarize(ctx context.Context, inputs []string) (openai.Summary, error) {
	return DemoSummary(len(inputs)), nil
}

func (demoSummarizer) Classify(ctx context.Context, items []string) ([]openai.Classification, error) {
	out := make([]openai.Classification, 0, len(items))
	for _, item := range items {
		lower := strings.ToLower(item)
		cl := openai.Classification{Item: item, Priority: "medium", Labels: []string{"automation"}}
		switch {
		case strings.Contains(lower, "fix") || strings.Contains(lower, "bug"):
			cl.Priority, cl.Labels = "high", []string{"bug"}
		case strings.Contains(lower, "draft") || strings.Contains(lower, "summary"):
			cl.Priority, cl.Labels = "low", []string{"docs"}
		}
		out = append(out, cl)
	}
	return out, nil
}

type demoNotion struct{ logger *slog.Logger }

func (d demoNotion) EditedSince(ctx context.Context, databaseID string, since time.Time, limit int) ([]notion.Page, error) {
	return []notion.Page{{ID: "demo-page", Title: "Sales pipeline tracker", LastEditedTime: since.Add(time.Hour)}}, nil
}

func (d demoNotion) AppendDigest(ctx context.Context, pageID, heading string, bullets []string) error {
	d.logger.Info("demo: would append to notion page", "heading", heading, "blocks", len(bullets))
	return nil
}

type demoSlack struct{ logger *slog.Logger }

func (d demoSlack) History(ctx context.Context, channelID string, oldest time.Time, limit int) ([]slack.Message, error) {
	return []slack.Message{{Text: "Reminder: weekly report export is due Friday", PostedAt: oldest.Add(2 * time.Hour)}}, nil
}

func (d demoSlack) Post(ctx context.Context, text string) error {
	d.logger.Info("demo: would post to slack", "chars", len(text))
	return nil
}

type demoCalendar struct{}

func (demoCalendar) Between(ctx context.Context, from, to time.Time) ([]gcal.Event, error) {
	start := from.Add(9*time.Hour + 30*time.Minute)
	return []gcal.Event{{ID: "demo-standup", Summary: "Team standup", Start: start, End: start.Add(15 * time.Minute)}}, nil
}

type demoArchive struct{ logger *slog.Logger }

func (d demoArchive) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	d.logger.Info("demo: would archive summary", "bucket", bucket, "key", key, "bytes", size)
	return nil
}
