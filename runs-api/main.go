package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/avidelta/nexus/internal/config"
	"github.com/avidelta/nexus/internal/daily"
	"github.com/avidelta/nexus/internal/ledger"
	"github.com/avidelta/nexus/internal/platform/auth"
	"github.com/avidelta/nexus/internal/platform/env"
	"github.com/avidelta/nexus/internal/platform/httpserver"
	"github.com/avidelta/nexus/internal/platform/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("RUNS_API_HTTP_ADDR", ":8090")
	shutdownTimeout, err := env.Duration("RUNS_API_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	outputDir := env.String("OUTPUT_DIR", "data")

	var runs ledger.Reader
	switch backend := env.String("NEXUS_LEDGER", config.LedgerFile); backend {
	case config.LedgerFile:
		l, err := ledger.NewFileLedger(env.String("NEXUS_LEDGER_DIR", "data/runs"))
		if err != nil {
			logger.Error("invalid ledger config", "error", err)
			os.Exit(2)
		}
		runs = l
	case config.LedgerPostgres:
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		l, err := ledger.NewPostgresLedger(db)
		if err != nil {
			logger.Error("ledger init failed", "error", err)
			os.Exit(1)
		}
		runs = l
	default:
		logger.Error("unsupported ledger", "ledger", backend)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("runs-api"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"runs-api",
			httpserver.ReadinessCheck{
				Name: "ledger",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return runs.Ping(checkCtx)
				},
			},
		),
	)

	api := newRunsAPI(logger, runs, filepath.Join(outputDir, daily.SummaryJSONName))
	api.register(mux)

	handler := auth.Middleware{
		Logger:       logger,
		Config:       auth.ConfigFromEnv("RUNS_API_TOKEN"),
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "runs-api",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "runs-api", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
