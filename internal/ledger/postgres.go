package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avidelta/nexus/internal/domain"
	"github.com/avidelta/nexus/internal/platform/postgres"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PingContext(ctx context.Context) error
}

const (
	schemaQuery = `CREATE TABLE IF NOT EXISTS automation_runs (
		run_id           TEXT PRIMARY KEY,
		status           TEXT NOT NULL,
		started_at       TIMESTAMPTZ NOT NULL,
		finished_at      TIMESTAMPTZ,
		duration_ms      BIGINT NOT NULL DEFAULT 0,
		steps            JSONB NOT NULL DEFAULT '[]'::jsonb,
		counts           JSONB NOT NULL DEFAULT '{}'::jsonb,
		integrity_sha256 TEXT
	);
	CREATE TABLE IF NOT EXISTS automation_run_events (
		event_id    BIGSERIAL PRIMARY KEY,
		run_id      TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		kind        TEXT NOT NULL,
		message     TEXT NOT NULL,
		detail      JSONB NOT NULL DEFAULT '{}'::jsonb
	);
	CREATE INDEX IF NOT EXISTS automation_run_events_run_idx ON automation_run_events (run_id, event_id);
	CREATE INDEX IF NOT EXISTS automation_runs_started_idx ON automation_runs (started_at DESC);`

	insertRunQuery = `INSERT INTO automation_runs (run_id, status, started_at) VALUES ($1, $2, $3)`

	insertEventQuery = `INSERT INTO automation_run_events (run_id, occurred_at, kind, message, detail)
	 VALUES ($1, $2, $3, $4, $5)`

	finalizeRunQuery = `INSERT INTO automation_runs (run_id, status, started_at, finished_at, duration_ms, steps, counts, integrity_sha256)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	 ON CONFLICT (run_id) DO UPDATE SET
		status = EXCLUDED.status,
		started_at = EXCLUDED.started_at,
		finished_at = EXCLUDED.finished_at,
		duration_ms = EXCLUDED.duration_ms,
		steps = EXCLUDED.steps,
		counts = EXCLUDED.counts,
		integrity_sha256 = EXCLUDED.integrity_sha256
	 WHERE automation_runs.status = 'running'
	 RETURNING run_id`

	selectRunColumns = `run_id, status, started_at, finished_at, duration_ms, steps, counts, integrity_sha256`

	selectRunQuery = `SELECT ` + selectRunColumns + ` FROM automation_runs WHERE run_id = $1`

	listRunsQuery = `SELECT ` + selectRunColumns + ` FROM automation_runs ORDER BY started_at DESC, run_id ASC LIMIT $1`

	listEventsQuery = `SELECT row_number() OVER (PARTITION BY run_id ORDER BY event_id) AS seq,
	 run_id, occurred_at, kind, message, detail
	 FROM automation_run_events
	 WHERE run_id = $1
	 ORDER BY event_id ASC`
)

// PostgresLedger stores runs in the automation_runs/automation_run_events tables.
type PostgresLedger struct {
	db  DB
	now func() time.Time
}

func NewPostgresLedger(db DB) (*PostgresLedger, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &PostgresLedger{db: db, now: time.Now}, nil
}

// EnsureSchema creates the ledger tables if they are missing.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schemaQuery); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

func (l *PostgresLedger) AllocateRunID(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		runID := uuid.NewString()
		_, err := l.db.ExecContext(ctx, insertRunQuery, runID, string(domain.RunStatusRunning), l.now().UTC())
		if err == nil {
			return runID, nil
		}
		if !postgres.IsUniqueViolation(err) {
			return "", fmt.Errorf("insert run: %w", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("insert run: %w", lastErr)
}

func (l *PostgresLedger) RecordEvent(ctx context.Context, runID string, kind domain.EventKind, message string, detail map[string]any) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.ErrRunIDRequired
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, insertEventQuery, runID, l.now().UTC(), string(kind), message, detailJSON); err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Finalize(ctx context.Context, run *domain.Run) (Record, error) {
	record, err := NewRecord(run)
	if err != nil {
		return Record{}, err
	}
	stepsJSON, err := json.Marshal(record.Steps)
	if err != nil {
		return Record{}, fmt.Errorf("marshal steps: %w", err)
	}
	countsJSON, err := json.Marshal(record.Counts)
	if err != nil {
		return Record{}, fmt.Errorf("marshal counts: %w", err)
	}

	var returned string
	err = l.db.QueryRowContext(
		ctx,
		finalizeRunQuery,
		record.RunID,
		string(record.Status),
		record.StartedAt,
		record.FinishedAt.UTC(),
		record.DurationMs,
		stepsJSON,
		countsJSON,
		record.IntegritySHA256,
	).Scan(&returned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("finalize %s: %w", record.RunID, ErrAlreadyFinalized)
		}
		return Record{}, fmt.Errorf("finalize run: %w", err)
	}
	return record, nil
}

func (l *PostgresLedger) ListRuns(ctx context.Context, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, listRunsQuery, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

func (l *PostgresLedger) GetRun(ctx context.Context, runID string) (Record, error) {
	return scanRecord(l.db.QueryRowContext(ctx, selectRunQuery, strings.TrimSpace(runID)))
}

func (l *PostgresLedger) ListEvents(ctx context.Context, runID string) ([]Event, error) {
	runID = strings.TrimSpace(runID)
	if _, err := l.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, listEventsQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var event Event
		var kind string
		var detail []byte
		if err := rows.Scan(&event.Seq, &event.RunID, &event.OccurredAt, &kind, &event.Message, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		event.Kind = domain.EventKind(kind)
		event.OccurredAt = event.OccurredAt.UTC()
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &event.Detail); err != nil {
				return nil, fmt.Errorf("decode event detail: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	return events, nil
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

type recordScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner recordScanner) (Record, error) {
	var record Record
	var status string
	var finishedAt sql.NullTime
	var steps, counts []byte
	var integrity sql.NullString
	if err := scanner.Scan(
		&record.RunID,
		&status,
		&record.StartedAt,
		&finishedAt,
		&record.DurationMs,
		&steps,
		&counts,
		&integrity,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("scan run: %w", err)
	}
	record.Status = domain.NormalizeRunStatus(status)
	record.StartedAt = record.StartedAt.UTC()
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		record.FinishedAt = &t
	}
	record.IntegritySHA256 = strings.TrimSpace(integrity.String)
	record.Steps = []domain.StepOutcome{}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &record.Steps); err != nil {
			return Record{}, fmt.Errorf("decode steps: %w", err)
		}
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &record.Counts); err != nil {
			return Record{}, fmt.Errorf("decode counts: %w", err)
		}
	}
	return record, nil
}
