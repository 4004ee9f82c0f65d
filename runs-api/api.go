package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/avidelta/nexus/internal/daily"
	"github.com/avidelta/nexus/internal/ledger"
	"github.com/avidelta/nexus/internal/platform/httpserver"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

type runsAPI struct {
	logger      *slog.Logger
	runs        ledger.Reader
	summaryPath string
}

func newRunsAPI(logger *slog.Logger, runs ledger.Reader, summaryPath string) *runsAPI {
	return &runsAPI{
		logger:      logger,
		runs:        runs,
		summaryPath: summaryPath,
	}
}

func (api *runsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs", api.handleListRuns)
	mux.HandleFunc("GET /api/runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /api/runs/{run_id}/events", api.handleListEvents)
	mux.HandleFunc("GET /api/daily-summary", api.handleDailySummary)
}

func (api *runsAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_limit")
		return
	}
	records, err := api.runs.ListRuns(r.Context(), limit)
	if err != nil {
		api.logger.Error("list runs failed", "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"runs":  records,
		"limit": limit,
	})
}

func (api *runsAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	record, err := api.runs.GetRun(r.Context(), runID)
	if err != nil {
		api.writeLedgerError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, record)
}

func (api *runsAPI) handleListEvents(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	events, err := api.runs.ListEvents(r.Context(), runID)
	if err != nil {
		api.writeLedgerError(w, r, err)
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"events": events,
	})
}

func (api *runsAPI) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := daily.ReadSummary(api.summaryPath)
	if errors.Is(err, fs.ErrNotExist) {
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		api.logger.Error("read daily summary failed", "path", api.summaryPath, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, summary)
}

func (api *runsAPI) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.logger.Error("ledger read failed", "error", err)
	httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
}

func parseLimit(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultRunsLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	if n > maxRunsLimit {
		n = maxRunsLimit
	}
	return n, true
}
