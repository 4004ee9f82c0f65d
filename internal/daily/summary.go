package daily

import (
	"fmt"
	"strings"
	"time"

	"github.com/avidelta/nexus/internal/clients/gcal"
	"github.com/avidelta/nexus/internal/clients/github"
	"github.com/avidelta/nexus/internal/clients/notion"
	"github.com/avidelta/nexus/internal/clients/openai"
	"github.com/avidelta/nexus/internal/clients/slack"
	"github.com/avidelta/nexus/internal/notes"
)

// RunnerVersion is stamped into every summary; release builds override it.
var RunnerVersion = "2.0.0"

const dateLayout = "2006-01-02"

// Digest is the state one run accumulates as its steps execute. Each step
// reads what earlier steps stored and adds its own part.
type Digest struct {
	RunDate         time.Time
	Trigger         string
	Notes           []notes.Note
	NotionPages     []notion.Page
	SlackMessages   []slack.Message
	CalendarEvents  []gcal.Event
	Summary         openai.Summary
	Classifications []openai.Classification
	Issues          []github.Issue
	Outputs         []string
}

func (d *Digest) Date() string {
	return d.RunDate.Format(dateLayout)
}

// Inputs flattens every ingested source into numbered prompt lines.
func (d *Digest) Inputs() []string {
	inputs := make([]string, 0, len(d.Notes)+len(d.NotionPages)+len(d.SlackMessages)+len(d.CalendarEvents))
	inputs = append(inputs, notes.Contents(d.Notes)...)
	for _, page := range d.NotionPages {
		if page.Title != "" {
			inputs = append(inputs, "Notion page updated: "+page.Title)
		}
	}
	for _, msg := range d.SlackMessages {
		inputs = append(inputs, "Slack: "+msg.Text)
	}
	for _, event := range d.CalendarEvents {
		if event.AllDay {
			inputs = append(inputs, "Calendar (all day): "+event.Summary)
			continue
		}
		inputs = append(inputs, fmt.Sprintf("Calendar %s: %s", event.Start.Format("15:04"), event.Summary))
	}
	return inputs
}

type Metadata struct {
	RunnerVersion string `json:"runner_version"`
	DemoMode      bool   `json:"demo_mode"`
	NotesCount    int    `json:"notes_count"`
	RunID         string `json:"run_id,omitempty"`
}

// DailySummary is the document the dashboard renders.
type DailySummary struct {
	Date            string                  `json:"date"`
	CreatedAt       time.Time               `json:"created_at"`
	Repo            string                  `json:"repo"`
	SummaryBullets  []string                `json:"summary_bullets"`
	ActionItems     []string                `json:"action_items"`
	Assessment      string                  `json:"assessment"`
	Classifications []openai.Classification `json:"classifications"`
	IssuesCreated   int                     `json:"issues_created"`
	Issues          []github.Issue          `json:"issues"`
	CalendarEvents  []gcal.Event            `json:"calendar_events"`
	RawText         string                  `json:"raw_text"`
	Metadata        Metadata                `json:"metadata"`
}

func NewDailySummary(d *Digest, repo, runID string, demo bool, createdAt time.Time) DailySummary {
	return DailySummary{
		Date:            d.Date(),
		CreatedAt:       createdAt.UTC(),
		Repo:            repo,
		SummaryBullets:  orEmpty(d.Summary.Highlights),
		ActionItems:     orEmpty(d.Summary.ActionItems),
		Assessment:      d.Summary.Assessment,
		Classifications: orEmptyOf(d.Classifications),
		IssuesCreated:   len(d.Issues),
		Issues:          orEmptyOf(d.Issues),
		CalendarEvents:  orEmptyOf(d.CalendarEvents),
		RawText:         RawText(d.Summary),
		Metadata: Metadata{
			RunnerVersion: RunnerVersion,
			DemoMode:      demo,
			NotesCount:    len(d.Notes),
			RunID:         runID,
		},
	}
}

func RawText(s openai.Summary) string {
	var b strings.Builder
	b.WriteString("Summary:\n")
	b.WriteString(s.Assessment)
	b.WriteString("\n\nActions:\n")
	for i, item := range s.ActionItems {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + item)
	}
	return b.String()
}

// Text renders the summary as the plain text report.
func (s DailySummary) Text() string {
	priorities := make(map[string]string, len(s.Classifications))
	for _, cl := range s.Classifications {
		priorities[cl.Item] = cl.Priority
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Daily Summary – %s\n\n", s.Date)
	b.WriteString("Highlights:\n")
	for _, h := range s.SummaryBullets {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	b.WriteString("\nAction items:\n")
	for _, item := range s.ActionItems {
		if p, ok := priorities[item]; ok {
			fmt.Fprintf(&b, "- [%s] %s\n", p, item)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", item)
	}
	if len(s.CalendarEvents) > 0 {
		b.WriteString("\nCalendar:\n")
		for _, event := range s.CalendarEvents {
			when := "all day"
			if !event.AllDay {
				when = event.Start.Format("15:04")
			}
			fmt.Fprintf(&b, "- %s %s\n", when, event.Summary)
		}
	}
	fmt.Fprintf(&b, "\nAssessment:\n%s\n", s.Assessment)
	return b.String()
}

// SlackText renders the summary in Slack mrkdwn.
func (s DailySummary) SlackText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Daily Summary – %s*\n", s.Date)
	for _, h := range s.SummaryBullets {
		fmt.Fprintf(&b, "• %s\n", h)
	}
	if len(s.ActionItems) > 0 {
		b.WriteString("\n*Action items*\n")
		for _, item := range s.ActionItems {
			fmt.Fprintf(&b, "• %s\n", item)
		}
	}
	if s.Assessment != "" {
		fmt.Fprintf(&b, "\n_%s_", s.Assessment)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ActionItemIssueBody is the body of the issue opened for one action item.
func ActionItemIssueBody(item string, created time.Time) string {
	return fmt.Sprintf("Auto-generated from daily automation runner\n\n**Action Item:**\n%s\n\n---\n*Created: %s*",
		item, created.UTC().Format(time.RFC3339))
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func orEmptyOf[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
