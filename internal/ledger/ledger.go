// Package ledger persists the lifecycle of daily runs.
//
// A run is allocated an id, accumulates events (started, success, partial,
// failed) while its steps execute, and is finalized exactly once with a
// Record that carries the terminal status, the ordered step outcomes and an
// integrity hash. Two backends exist: a directory of JSON/NDJSON files and
// a Postgres schema (the hosted Supabase database in production).
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avidelta/nexus/internal/domain"
)

var (
	ErrNotFound         = errors.New("ledger: run not found")
	ErrAlreadyFinalized = errors.New("ledger: run already finalized")
	ErrNotSealed        = errors.New("ledger: run must be sealed before finalize")
)

// Ledger is the write side used by the orchestrator.
type Ledger interface {
	AllocateRunID(ctx context.Context) (string, error)
	RecordEvent(ctx context.Context, runID string, kind domain.EventKind, message string, detail map[string]any) error
	Finalize(ctx context.Context, run *domain.Run) (Record, error)
}

// Reader is the read side served to the dashboard.
type Reader interface {
	ListRuns(ctx context.Context, limit int) ([]Record, error)
	GetRun(ctx context.Context, runID string) (Record, error)
	ListEvents(ctx context.Context, runID string) ([]Event, error)
	Ping(ctx context.Context) error
}

type Counts struct {
	Success        int `json:"success"`
	AllowedFailure int `json:"allowed_failure"`
	Failed         int `json:"failed"`
}

// Record is the persisted summary of a run.
type Record struct {
	RunID           string               `json:"run_id"`
	Status          domain.RunStatus     `json:"status"`
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
	DurationMs      int64                `json:"duration_ms"`
	Steps           []domain.StepOutcome `json:"steps"`
	Counts          Counts               `json:"counts"`
	IntegritySHA256 string               `json:"integrity_sha256,omitempty"`
}

type Event struct {
	RunID      string           `json:"run_id"`
	Seq        int64            `json:"seq"`
	OccurredAt time.Time        `json:"occurred_at"`
	Kind       domain.EventKind `json:"kind"`
	Message    string           `json:"message"`
	Detail     map[string]any   `json:"detail,omitempty"`
}

// NewRecord builds the finalized record of a sealed run.
func NewRecord(run *domain.Run) (Record, error) {
	if run == nil {
		return Record{}, errors.New("run is required")
	}
	if !run.Sealed() {
		return Record{}, ErrNotSealed
	}
	steps := run.Outcomes()
	finishedAt := run.FinishedAt()
	record := Record{
		RunID:      run.ID,
		Status:     run.Status(),
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: &finishedAt,
		DurationMs: finishedAt.Sub(run.StartedAt).Milliseconds(),
		Steps:      steps,
		Counts:     countOutcomes(steps),
	}
	integrity, err := ComputeIntegritySHA256(record)
	if err != nil {
		return Record{}, err
	}
	record.IntegritySHA256 = integrity
	return record, nil
}

// ComputeIntegritySHA256 hashes the canonical JSON form of the record,
// excluding the integrity field itself.
func ComputeIntegritySHA256(record Record) (string, error) {
	record.IntegritySHA256 = ""
	if record.FinishedAt != nil {
		t := record.FinishedAt.UTC()
		record.FinishedAt = &t
	}
	record.StartedAt = record.StartedAt.UTC()
	blob, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func countOutcomes(steps []domain.StepOutcome) Counts {
	var c Counts
	for _, step := range steps {
		switch step.Status {
		case domain.StepStatusSuccess:
			c.Success++
		case domain.StepStatusAllowedFailure:
			c.AllowedFailure++
		default:
			c.Failed++
		}
	}
	return c
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 200 {
		return 200
	}
	return limit
}
