// Package daily assembles the fixed daily automation pipeline: trigger,
// ingest, transform and output steps wired to the configured integrations.
package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/avidelta/nexus/internal/clients"
	"github.com/avidelta/nexus/internal/clients/gcal"
	"github.com/avidelta/nexus/internal/clients/github"
	"github.com/avidelta/nexus/internal/clients/notion"
	"github.com/avidelta/nexus/internal/clients/openai"
	"github.com/avidelta/nexus/internal/clients/slack"
	"github.com/avidelta/nexus/internal/config"
	"github.com/avidelta/nexus/internal/domain"
	"github.com/avidelta/nexus/internal/notes"
	"github.com/avidelta/nexus/internal/pipeline"
)

const (
	notionPageLimit   = 25
	slackMessageLimit = 200
	lookback          = 24 * time.Hour
)

var ErrMissingSecrets = errors.New("required secrets missing")

type NotesSource interface {
	Recent(ctx context.Context, limit int) ([]notes.Note, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, inputs []string) (openai.Summary, error)
	Classify(ctx context.Context, items []string) ([]openai.Classification, error)
}

type PageStore interface {
	EditedSince(ctx context.Context, databaseID string, since time.Time, limit int) ([]notion.Page, error)
	AppendDigest(ctx context.Context, pageID, heading string, bullets []string) error
}

type ChannelReader interface {
	History(ctx context.Context, channelID string, oldest time.Time, limit int) ([]slack.Message, error)
}

type Poster interface {
	Post(ctx context.Context, text string) error
}

type Calendar interface {
	Between(ctx context.Context, from, to time.Time) ([]gcal.Event, error)
}

type IssueTracker interface {
	Create(ctx context.Context, title, body string, labels []string) (github.Issue, error)
}

type Archive interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
}

// Deps are the collaborators of one run. Nil integrations are left out of
// the pipeline. Demo mode replaces every external integration with a stub;
// a configured archive is kept since the object store is our own.
type Deps struct {
	Config     config.Config
	Notes      NotesSource
	Summarizer Summarizer
	Notion     PageStore
	SlackRead  ChannelReader
	SlackPost  Poster
	Calendar   Calendar
	Issues     IssueTracker
	Archive    Archive
	Writer     *Writer
	Logger     *slog.Logger
	Now        func() time.Time
}

type runner struct {
	deps   Deps
	cfg    config.Config
	digest *Digest
	logger *slog.Logger
	now    func() time.Time
}

// Build returns the ordered steps of the daily pipeline and the digest they
// fill in. Config step overrides are applied here; whether the result is
// acceptable is for the orchestrator to decide.
func Build(deps Deps) ([]pipeline.Step, *Digest, error) {
	if deps.Notes == nil {
		return nil, nil, errors.New("notes source is required")
	}
	if deps.Writer == nil {
		return nil, nil, errors.New("output writer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg := deps.Config
	if cfg.DemoMode {
		deps.Summarizer = demoSummarizer{}
		deps.Notion = demoNotion{logger: deps.Logger}
		deps.SlackRead = demoSlack{logger: deps.Logger}
		deps.SlackPost = demoSlack{logger: deps.Logger}
		deps.Calendar = demoCalendar{}
		deps.Issues = nil
		if deps.Archive == nil {
			deps.Archive = demoArchive{logger: deps.Logger}
		}
	}
	if deps.Summarizer == nil {
		deps.Summarizer = unconfiguredSummarizer{}
	}

	runDate := cfg.RunDate
	if runDate.IsZero() {
		runDate = deps.Now()
	}
	r := &runner{
		deps:   deps,
		cfg:    cfg,
		digest: &Digest{RunDate: startOfDay(runDate), Trigger: cfg.Trigger},
		logger: deps.Logger,
		now:    deps.Now,
	}

	candidates := []struct {
		id           domain.StepID
		include      bool
		allowFailure bool
		action       pipeline.ActionFunc
	}{
		{cfg.TriggerStep(), true, false, r.preflight},
		{domain.StepIngestNotes, true, false, r.ingestNotes},
		{domain.StepIngestNotion, deps.Notion != nil && (cfg.DemoMode || cfg.Notion.DatabaseID != ""), true, r.ingestNotion},
		{domain.StepIngestSlack, deps.SlackRead != nil && (cfg.DemoMode || cfg.Slack.ChannelID != ""), true, r.ingestSlack},
		{domain.StepIngestCalendar, deps.Calendar != nil, true, r.ingestCalendar},
		{domain.StepTransformSummarize, true, false, r.summarize},
		{domain.StepTransformClassify, true, true, r.classify},
		{domain.StepOutputGitHubIssue, cfg.DemoMode || deps.Issues != nil, true, r.fileIssues},
		{domain.StepOutputJSON, true, false, r.writeJSON},
		{domain.StepOutputNotionUpdate, deps.Notion != nil && (cfg.DemoMode || cfg.Notion.DailyPageID != ""), false, r.updateNotion},
		{domain.StepOutputSlackPost, deps.SlackPost != nil, true, r.postSlack},
		{domain.StepOutputArchive, deps.Archive != nil, true, r.archive},
	}

	steps := make([]pipeline.Step, 0, len(candidates))
	for _, c := range candidates {
		if !c.include {
			r.logger.Debug("step not configured", "step", c.id.String())
			continue
		}
		allowFailure := c.allowFailure
		if override, ok := cfg.Override(c.id); ok {
			if override.Disabled {
				r.logger.Info("step disabled by config", "step", c.id.String())
				continue
			}
			if override.AllowFailure != nil {
				allowFailure = *override.AllowFailure
			}
		}
		step, err := pipeline.NewStep(c.id, c.action, allowFailure)
		if err != nil {
			return nil, nil, err
		}
		steps = append(steps, step)
	}
	return steps, r.digest, nil
}

func (r *runner) preflight(ctx context.Context) (any, error) {
	if missing := r.cfg.MissingSecrets(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s (set them or run with --demo)", ErrMissingSecrets, strings.Join(missing, ", "))
	}
	return map[string]any{
		"date":    r.digest.Date(),
		"trigger": r.cfg.Trigger,
		"demo":    r.cfg.DemoMode,
		"dry_run": r.cfg.DryRun,
	}, nil
}

func (r *runner) ingestNotes(ctx context.Context) (any, error) {
	found, err := r.deps.Notes.Recent(ctx, r.cfg.MaxNotes)
	if err != nil {
		return nil, err
	}
	if notes.IsPlaceholder(found) && r.cfg.DemoMode {
		found = demoNotes()
	}
	r.digest.Notes = found
	return len(found), nil
}

func (r *runner) ingestNotion(ctx context.Context) (any, error) {
	pages, err := r.deps.Notion.EditedSince(ctx, r.cfg.Notion.DatabaseID, r.windowStart(), notionPageLimit)
	if err != nil {
		return nil, err
	}
	r.digest.NotionPages = pages
	return len(pages), nil
}

func (r *runner) ingestSlack(ctx context.Context) (any, error) {
	messages, err := r.deps.SlackRead.History(ctx, r.cfg.Slack.ChannelID, r.windowStart(), slackMessageLimit)
	if err != nil {
		return nil, err
	}
	r.digest.SlackMessages = messages
	return len(messages), nil
}

func (r *runner) ingestCalendar(ctx context.Context) (any, error) {
	from := r.digest.RunDate
	events, err := r.deps.Calendar.Between(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	r.digest.CalendarEvents = events
	return len(events), nil
}

func (r *runner) summarize(ctx context.Context) (any, error) {
	summary, err := r.deps.Summarizer.Summarize(ctx, r.digest.Inputs())
	if err != nil {
		return nil, err
	}
	r.digest.Summary = summary
	r.logger.Info("summary generated", "model", summary.Model, "action_items", len(summary.ActionItems))
	return len(summary.ActionItems), nil
}

func (r *runner) classify(ctx context.Context) (any, error) {
	items := r.digest.Summary.ActionItems
	if len(items) == 0 {
		return 0, nil
	}
	classifications, err := r.deps.Summarizer.Classify(ctx, items)
	if err != nil {
		return nil, err
	}
	r.digest.Classifications = classifications
	return len(classifications), nil
}

// fileIssues opens one issue per action item. Issues opened before a failure
// stay on the digest.
func (r *runner) fileIssues(ctx context.Context) (any, error) {
	items := r.digest.Summary.ActionItems
	if r.cfg.DemoMode {
		r.digest.Issues = DemoIssues(items)
		return len(r.digest.Issues), nil
	}
	if r.cfg.DryRun {
		r.logger.Info("dry run: skipping github issues", "action_items", len(items))
		return 0, nil
	}
	for i, item := range items {
		issue, err := r.deps.Issues.Create(ctx, item, ActionItemIssueBody(item, r.now()), r.cfg.GitHub.Labels)
		if err != nil {
			return len(r.digest.Issues), fmt.Errorf("issue %d of %d: %w", i+1, len(items), err)
		}
		r.logger.Info("github issue created", "number", issue.Number, "url", issue.URL)
		r.digest.Issues = append(r.digest.Issues, issue)
	}
	return len(r.digest.Issues), nil
}

func (r *runner) writeJSON(ctx context.Context) (any, error) {
	summary := r.dailySummary(ctx)
	paths, err := r.deps.Writer.Write(summary, r.now())
	if err != nil {
		return nil, err
	}
	r.digest.Outputs = paths
	return paths, nil
}

func (r *runner) updateNotion(ctx context.Context) (any, error) {
	heading := "Daily Summary – " + r.digest.Date()
	bullets := append(append([]string{}, r.digest.Summary.Highlights...), r.digest.Summary.ActionItems...)
	if r.cfg.DryRun && !r.cfg.DemoMode {
		r.logger.Info("dry run: skipping notion update", "heading", heading, "blocks", len(bullets))
		return 0, nil
	}
	if err := r.deps.Notion.AppendDigest(ctx, r.cfg.Notion.DailyPageID, heading, bullets); err != nil {
		return nil, err
	}
	return len(bullets), nil
}

func (r *runner) postSlack(ctx context.Context) (any, error) {
	text := r.dailySummary(ctx).SlackText()
	if r.cfg.DryRun && !r.cfg.DemoMode {
		r.logger.Info("dry run: skipping slack post", "chars", len(text))
		return 0, nil
	}
	if err := r.deps.SlackPost.Post(ctx, text); err != nil {
		return nil, err
	}
	return len(text), nil
}

func (r *runner) archive(ctx context.Context) (any, error) {
	runID, _ := pipeline.RunIDFromContext(ctx)
	blob, err := json.Marshal(r.dailySummary(ctx))
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	key := ArchiveKey(r.digest.Date(), runID)
	if r.cfg.DryRun {
		r.logger.Info("dry run: skipping archive", "key", key)
		return key, nil
	}
	bucket := r.cfg.ObjectStore.BucketRuns
	if err := r.deps.Archive.Put(ctx, bucket, key, bytes.NewReader(blob), int64(len(blob)), "application/json"); err != nil {
		return nil, err
	}
	return key, nil
}

func (r *runner) dailySummary(ctx context.Context) DailySummary {
	runID, _ := pipeline.RunIDFromContext(ctx)
	return NewDailySummary(r.digest, r.cfg.Repo, runID, r.cfg.DemoMode, r.now())
}

func (r *runner) windowStart() time.Time {
	return r.digest.RunDate.Add(-lookback)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// unconfiguredSummarizer stands in when no model credentials exist, so the
// run still records a failed summarize step instead of refusing to start.
type unconfiguredSummarizer struct{}

func (unconfiguredSummarizer) Summarize(ctx context.Context, inputs []string) (openai.Summary, error) {
	return openai.Summary{}, fmt.Errorf("openai: %w", clients.ErrNotConfigured)
}

func (unconfiguredSummarizer) Classify(ctx context.Context, items []string) ([]openai.Classification, error) {
	return nil, fmt.Errorf("openai: %w", clients.ErrNotConfigured)
}

// ArchiveKey is the object key of a run's archived summary.
func ArchiveKey(date, runID string) string {
	if runID == "" {
		runID = "unknown"
	}
	return fmt.Sprintf("daily/%s/%s.json", date, runID)
}
