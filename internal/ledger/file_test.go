package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avidelta/nexus/internal/domain"
)

func TestFileLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	l, err := NewFileLedger(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLedger() err=%v", err)
	}
	base := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	runID, err := l.AllocateRunID(ctx)
	if err != nil {
		t.Fatalf("AllocateRunID() err=%v", err)
	}
	pending, err := l.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if pending.Status != domain.RunStatusRunning {
		t.Fatalf("Status=%q, want running", pending.Status)
	}

	if err := l.RecordEvent(ctx, runID, domain.EventStarted, "run started", nil); err != nil {
		t.Fatalf("RecordEvent() err=%v", err)
	}
	if err := l.RecordEvent(ctx, runID, domain.EventFailed, "step failed", map[string]any{"step": "ingest:slack"}); err != nil {
		t.Fatalf("RecordEvent() err=%v", err)
	}

	run := sealedRun(t, runID, base, domain.RunStatusPartial,
		domain.StepOutcome{Step: domain.StepIngestNotes, Status: domain.StepStatusSuccess},
		domain.StepOutcome{Step: domain.StepIngestSlack, AllowFailure: true, Status: domain.StepStatusAllowedFailure, Error: "slack: 500"},
	)
	record, err := l.Finalize(ctx, run)
	if err != nil {
		t.Fatalf("Finalize() err=%v", err)
	}
	if record.Status != domain.RunStatusPartial {
		t.Fatalf("record.Status=%q, want partial", record.Status)
	}
	if record.Counts != (Counts{Success: 1, AllowedFailure: 1}) {
		t.Fatalf("record.Counts=%+v", record.Counts)
	}
	if record.IntegritySHA256 == "" {
		t.Fatalf("expected integrity hash")
	}

	if _, err := l.Finalize(ctx, run); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("second Finalize() err=%v, want ErrAlreadyFinalized", err)
	}

	stored, err := l.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if stored.IntegritySHA256 != record.IntegritySHA256 || len(stored.Steps) != 2 {
		t.Fatalf("stored record mismatch: %+v", stored)
	}
	if _, err := os.Stat(filepath.Join(l.dir, "latest.json")); err != nil {
		t.Fatalf("expected latest.json: %v", err)
	}

	events, err := l.ListEvents(ctx, runID)
	if err != nil {
		t.Fatalf("ListEvents() err=%v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events)=%d, want 2", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Fatalf("unexpected seqs: %d, %d", events[0].Seq, events[1].Seq)
	}
	if events[1].Detail["step"] != "ingest:slack" {
		t.Fatalf("event detail=%v", events[1].Detail)
	}
}

func TestFileLedgerFinalizePreallocatedRun(t *testing.T) {
	ctx := context.Background()
	l, err := NewFileLedger(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLedger() err=%v", err)
	}
	run := sealedRun(t, "manual-2026-01-31", time.Now(), domain.RunStatusSuccess)
	if _, err := l.Finalize(ctx, run); err != nil {
		t.Fatalf("Finalize() err=%v", err)
	}
	if _, err := l.GetRun(ctx, "manual-2026-01-31"); err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
}

func TestFileLedgerListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l, err := NewFileLedger(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLedger() err=%v", err)
	}
	base := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		l.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		id, err := l.AllocateRunID(ctx)
		if err != nil {
			t.Fatalf("AllocateRunID() err=%v", err)
		}
		ids = append(ids, id)
	}

	records, err := l.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() err=%v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records)=%d, want 2", len(records))
	}
	if records[0].RunID != ids[2] || records[1].RunID != ids[1] {
		t.Fatalf("unexpected order: %s, %s", records[0].RunID, records[1].RunID)
	}
}

func TestFileLedgerNotFound(t *testing.T) {
	ctx := context.Background()
	l, err := NewFileLedger(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLedger() err=%v", err)
	}
	if _, err := l.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun() err=%v, want ErrNotFound", err)
	}
	if _, err := l.GetRun(ctx, "../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun() err=%v, want ErrNotFound", err)
	}
	if _, err := l.ListEvents(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ListEvents() err=%v, want ErrNotFound", err)
	}
}

func TestNewRecord_RequiresSealedRun(t *testing.T) {
	run, err := domain.NewRun("run-1", time.Now())
	if err != nil {
		t.Fatalf("NewRun() err=%v", err)
	}
	if _, err := NewRecord(run); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("NewRecord() err=%v, want ErrNotSealed", err)
	}
}

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	a, err := NewRecord(sealedRun(t, "run-1", base, domain.RunStatusSuccess,
		domain.StepOutcome{Step: domain.StepOutputJSON, Status: domain.StepStatusSuccess, StartedAt: base, FinishedAt: base}))
	if err != nil {
		t.Fatalf("NewRecord() err=%v", err)
	}
	again, err := ComputeIntegritySHA256(a)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if again != a.IntegritySHA256 {
		t.Fatalf("integrity mismatch: %q vs %q", again, a.IntegritySHA256)
	}

	changed := a
	changed.Status = domain.RunStatusFailed
	other, err := ComputeIntegritySHA256(changed)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if other == a.IntegritySHA256 {
		t.Fatalf("expected integrity to differ")
	}
}

func sealedRun(t *testing.T, id string, startedAt time.Time, status domain.RunStatus, outcomes ...domain.StepOutcome) *domain.Run {
	t.Helper()
	run, err := domain.NewRun(id, startedAt)
	if err != nil {
		t.Fatalf("NewRun() err=%v", err)
	}
	for _, outcome := range outcomes {
		if err := run.Append(outcome); err != nil {
			t.Fatalf("Append() err=%v", err)
		}
	}
	if err := run.Seal(status, startedAt.Add(2*time.Second)); err != nil {
		t.Fatalf("Seal() err=%v", err)
	}
	return run
}
