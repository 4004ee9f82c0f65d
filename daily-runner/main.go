package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/avidelta/nexus/internal/config"
	"github.com/avidelta/nexus/internal/daily"
	"github.com/avidelta/nexus/internal/domain"
	"github.com/avidelta/nexus/internal/pipeline"
	"github.com/avidelta/nexus/internal/platform/env"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath string
	demo       bool
	dryRun     bool
	date       string
	trigger    string
	runID      string
	ledger     string
	verbose    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("daily-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", env.String("NEXUS_CONFIG", ""), "pipeline YAML file")
	fs.BoolVar(&opts.demo, "demo", false, "run with stub integrations and no credentials")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "log outputs instead of writing them")
	fs.StringVar(&opts.date, "date", "", "run date (YYYY-MM-DD), defaults to today")
	fs.StringVar(&opts.trigger, "trigger", "", "scheduled or manual")
	fs.StringVar(&opts.runID, "run-id", "", "use a pre-allocated run id")
	fs.StringVar(&opts.ledger, "ledger", "", "file or postgres")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// resolveConfig layers flags over the loaded config.
func resolveConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.demo {
		cfg.DemoMode = true
	}
	if opts.dryRun {
		cfg.DryRun = true
	}
	if opts.trigger != "" {
		cfg.Trigger = opts.trigger
	}
	if opts.ledger != "" {
		cfg.Ledger = opts.ledger
	}
	if opts.runID != "" {
		cfg.RunID = strings.TrimSpace(opts.runID)
	}
	if opts.date != "" {
		day, err := time.ParseInLocation("2006-01-02", opts.date, time.Local)
		if err != nil {
			return config.Config{}, fmt.Errorf("--date: %w", err)
		}
		cfg.RunDate = day
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return domain.ExitSuccess
	}
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: level}))
	if err != nil {
		logger.Error("invalid flags", "error", err)
		return domain.ExitMisconfiguration
	}

	cfg, err := resolveConfig(opts)
	if err != nil {
		logger.Error("invalid config", "error", err)
		return domain.ExitMisconfiguration
	}
	logger = logger.With("trigger", cfg.Trigger, "demo", cfg.DemoMode, "dry_run", cfg.DryRun)

	l, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		logger.Error("ledger unavailable", "error", err)
		return domain.ExitCatastrophic
	}
	defer closeLedger()

	deps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Error("invalid integration config", "error", err)
		return domain.ExitMisconfiguration
	}
	steps, _, err := daily.Build(deps)
	if err != nil {
		logger.Error("pipeline assembly failed", "error", err)
		return domain.ExitMisconfiguration
	}

	orch, err := pipeline.NewOrchestrator(l, logger)
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		return domain.ExitCatastrophic
	}
	result, err := orch.Run(ctx, steps, pipeline.Options{RunID: cfg.RunID})
	code := pipeline.ExitCode(result, err)
	if err != nil {
		logger.Error("run aborted", "run_id", result.RunID, "error", err, "exit_code", code)
		return code
	}
	logger.Info("run complete", "run_id", result.RunID, "status", string(result.Status), "exit_code", code)
	return code
}
