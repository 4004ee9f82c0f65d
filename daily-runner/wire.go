package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avidelta/nexus/internal/clients"
	"github.com/avidelta/nexus/internal/clients/gcal"
	"github.com/avidelta/nexus/internal/clients/github"
	"github.com/avidelta/nexus/internal/clients/notion"
	"github.com/avidelta/nexus/internal/clients/openai"
	"github.com/avidelta/nexus/internal/clients/slack"
	"github.com/avidelta/nexus/internal/config"
	"github.com/avidelta/nexus/internal/daily"
	"github.com/avidelta/nexus/internal/ledger"
	"github.com/avidelta/nexus/internal/notes"
	"github.com/avidelta/nexus/internal/platform/objectstore"
	"github.com/avidelta/nexus/internal/platform/postgres"
)

// openLedger opens the configured ledger. An unreachable database falls
// back to the file ledger so the run is still recorded somewhere.
func openLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (ledger.Ledger, func(), error) {
	if cfg.Ledger == config.LedgerPostgres {
		l, closeFn, err := openPostgresLedger(ctx)
		if err == nil {
			return l, closeFn, nil
		}
		logger.Warn("postgres ledger unavailable, falling back to file ledger", "error", err, "dir", cfg.LedgerDir)
	}
	l, err := ledger.NewFileLedger(cfg.LedgerDir)
	if err != nil {
		return nil, nil, err
	}
	return l, func() {}, nil
}

func openPostgresLedger(ctx context.Context) (ledger.Ledger, func(), error) {
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.NewPostgresLedger(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := l.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return l, func() { _ = db.Close() }, nil
}

// buildDeps constructs only the integrations whose credentials are present.
// Demo runs skip every external integration but keep the object store.
func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (daily.Deps, error) {
	store, err := notes.NewStore(cfg.NotesDir, logger)
	if err != nil {
		return daily.Deps{}, err
	}
	writer, err := daily.NewWriter(cfg.OutputDir, cfg.SiteJSONPath, cfg.DryRun, logger)
	if err != nil {
		return daily.Deps{}, err
	}
	deps := daily.Deps{
		Config: cfg,
		Notes:  store,
		Writer: writer,
		Logger: logger,
	}
	if cfg.ObjectStore.Enabled() {
		s, err := objectstore.NewMinioStore(cfg.ObjectStore)
		if err != nil {
			return daily.Deps{}, fmt.Errorf("object store: %w", err)
		}
		if err := s.EnsureBucket(ctx, cfg.ObjectStore.BucketRuns, cfg.ObjectStore.Region); err != nil {
			logger.Warn("object store bucket check failed", "bucket", cfg.ObjectStore.BucketRuns, "error", err)
		}
		deps.Archive = s
	}
	if cfg.DemoMode {
		return deps, nil
	}

	httpClient := clients.NewHTTPClient(cfg.HTTPTimeout)

	if cfg.OpenAI.Configured() {
		c, err := openai.New(openai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}, httpClient)
		if err != nil {
			return daily.Deps{}, err
		}
		deps.Summarizer = c
	}

	if cfg.GitHub.Configured() {
		c, err := github.New(github.Config{
			Token:             cfg.GitHub.Token,
			Repo:              cfg.GitHub.Repo,
			BaseURL:           cfg.GitHub.BaseURL,
			RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		}, httpClient)
		if err != nil {
			return daily.Deps{}, err
		}
		deps.Issues = c
	}

	if cfg.Slack.PostConfigured() || cfg.Slack.ReadConfigured() {
		c, err := slack.New(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			BotToken:   cfg.Slack.BotToken,
			BaseURL:    cfg.Slack.BaseURL,
		}, httpClient)
		if err != nil {
			return daily.Deps{}, err
		}
		if cfg.Slack.PostConfigured() {
			deps.SlackPost = c
		}
		if cfg.Slack.ReadConfigured() {
			deps.SlackRead = c
		}
	}

	if cfg.Notion.IngestConfigured() || cfg.Notion.UpdateConfigured() {
		c, err := notion.New(notion.Config{Token: cfg.Notion.Token, BaseURL: cfg.Notion.BaseURL}, httpClient)
		if err != nil {
			return daily.Deps{}, err
		}
		deps.Notion = c
	}

	if cfg.Calendar.Configured() {
		c, err := gcal.New(ctx, gcal.Config{
			ClientID:     cfg.Calendar.ClientID,
			ClientSecret: cfg.Calendar.ClientSecret,
			RefreshToken: cfg.Calendar.RefreshToken,
			CalendarID:   cfg.Calendar.CalendarID,
			BaseURL:      cfg.Calendar.BaseURL,
			TokenURL:     cfg.Calendar.TokenURL,
			Timeout:      cfg.HTTPTimeout,
		}, httpClient)
		if err != nil {
			return daily.Deps{}, err
		}
		deps.Calendar = c
	}

	return deps, nil
}
