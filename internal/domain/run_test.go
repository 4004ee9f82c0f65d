package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDeriveRunStatus(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []StepOutcome
		want     RunStatus
	}{
		{name: "empty", want: RunStatusSuccess},
		{
			name: "all succeeded",
			outcomes: []StepOutcome{
				outcome(StepTriggerScheduled, StepStatusSuccess),
				outcome(StepIngestNotes, StepStatusSuccess),
			},
			want: RunStatusSuccess,
		},
		{
			name: "allowed failure",
			outcomes: []StepOutcome{
				outcome(StepTriggerScheduled, StepStatusSuccess),
				outcome(StepIngestSlack, StepStatusAllowedFailure),
			},
			want: RunStatusPartial,
		},
		{
			name: "disallowed failure wins over allowed failure",
			outcomes: []StepOutcome{
				outcome(StepIngestSlack, StepStatusAllowedFailure),
				outcome(StepOutputNotionUpdate, StepStatusFailed),
				outcome(StepOutputSlackPost, StepStatusSuccess),
			},
			want: RunStatusFailed,
		},
		{
			name:     "unknown status treated as failed",
			outcomes: []StepOutcome{outcome(StepOutputJSON, "")},
			want:     RunStatusFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveRunStatus(tc.outcomes); got != tc.want {
				t.Fatalf("DeriveRunStatus()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestRunSealIsFinal(t *testing.T) {
	run, err := NewRun("run-1", time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewRun() err=%v", err)
	}
	if err := run.Append(outcome(StepIngestNotes, StepStatusSuccess)); err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	if err := run.Seal(RunStatusRunning, time.Time{}); !errors.Is(err, ErrNonTerminal) {
		t.Fatalf("Seal(running) err=%v, want ErrNonTerminal", err)
	}
	if err := run.Seal(RunStatusSuccess, time.Time{}); err != nil {
		t.Fatalf("Seal() err=%v", err)
	}
	if err := run.Seal(RunStatusFailed, time.Time{}); !errors.Is(err, ErrRunSealed) {
		t.Fatalf("second Seal() err=%v, want ErrRunSealed", err)
	}
	if err := run.Append(outcome(StepOutputJSON, StepStatusSuccess)); !errors.Is(err, ErrRunSealed) {
		t.Fatalf("Append() after seal err=%v, want ErrRunSealed", err)
	}
	if run.Status() != RunStatusSuccess {
		t.Fatalf("Status()=%q, want success", run.Status())
	}
	if got := len(run.Outcomes()); got != 1 {
		t.Fatalf("len(Outcomes())=%d, want 1", got)
	}
}

func TestNewRun_RequiresID(t *testing.T) {
	if _, err := NewRun("  ", time.Time{}); !errors.Is(err, ErrRunIDRequired) {
		t.Fatalf("NewRun() err=%v, want ErrRunIDRequired", err)
	}
}

func TestValidateRunID(t *testing.T) {
	tests := []struct {
		id   string
		want error
	}{
		{"20260314T060000Z-3f2a", nil},
		{"nightly-2026-03-14", nil},
		{" ", ErrRunIDRequired},
		{"nightly/2026-03-14", ErrInvalidRunID},
		{`nightly\2026`, ErrInvalidRunID},
		{"..", ErrInvalidRunID},
		{"a..b", ErrInvalidRunID},
	}
	for _, tt := range tests {
		if err := ValidateRunID(tt.id); !errors.Is(err, tt.want) {
			t.Errorf("ValidateRunID(%q)=%v, want %v", tt.id, err, tt.want)
		}
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := map[RunStatus]int{
		RunStatusSuccess: ExitSuccess,
		RunStatusPartial: ExitPartial,
		RunStatusFailed:  ExitFailed,
	}
	for status, want := range tests {
		if got := ExitCodeFor(status); got != want {
			t.Fatalf("ExitCodeFor(%q)=%d, want %d", status, got, want)
		}
	}
}

func TestNormalizeRunStatus(t *testing.T) {
	if got := NormalizeRunStatus(" Partial "); got != RunStatusPartial {
		t.Fatalf("NormalizeRunStatus()=%q, want partial", got)
	}
	if got := NormalizeRunStatus("bogus"); got != "" {
		t.Fatalf("NormalizeRunStatus()=%q, want empty", got)
	}
}

func outcome(step StepID, status StepStatus) StepOutcome {
	return StepOutcome{Step: step, Status: status}
}
