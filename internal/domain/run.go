package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StepStatus is the classified result of a single step.
type StepStatus string

const (
	StepStatusSuccess        StepStatus = "success"
	StepStatusAllowedFailure StepStatus = "allowed-failure"
	StepStatusFailed         StepStatus = "failed"
)

// RunStatus is the run state; only success, partial and failed are terminal.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusPartial, RunStatusFailed:
		return true
	default:
		return false
	}
}

// NormalizeRunStatus maps stored status values to canonical run statuses.
func NormalizeRunStatus(value string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunStatusRunning), "started":
		return RunStatusRunning
	case string(RunStatusSuccess), "succeeded":
		return RunStatusSuccess
	case string(RunStatusPartial):
		return RunStatusPartial
	case string(RunStatusFailed):
		return RunStatusFailed
	default:
		return ""
	}
}

// EventKind tags ledger events.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventSuccess EventKind = "success"
	EventPartial EventKind = "partial"
	EventFailed  EventKind = "failed"
)

// EventKindFor returns the ledger event kind announcing a terminal status.
func EventKindFor(status RunStatus) EventKind {
	switch status {
	case RunStatusSuccess:
		return EventSuccess
	case RunStatusPartial:
		return EventPartial
	default:
		return EventFailed
	}
}

// StepOutcome is the normalized result of executing one step.
type StepOutcome struct {
	Step         StepID     `json:"step"`
	AllowFailure bool       `json:"allow_failure"`
	Status       StepStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	Output       any        `json:"-"`
}

func (o StepOutcome) Duration() time.Duration {
	if o.FinishedAt.Before(o.StartedAt) {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

var (
	ErrRunSealed     = errors.New("run is sealed")
	ErrNonTerminal   = errors.New("terminal status required")
	ErrRunIDRequired = errors.New("run id is required")
	ErrInvalidRunID  = errors.New("invalid run id")
)

// ValidateRunID rejects ids that cannot name a ledger file: empty ids, path
// separators and parent references.
func ValidateRunID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrRunIDRequired
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w %q", ErrInvalidRunID, id)
	}
	return nil
}

// Run accumulates step outcomes for a single orchestration. Outcomes are
// append-only and the run is sealed exactly once with its terminal status.
// A Run is owned by one orchestrator invocation and is not safe for
// concurrent use.
type Run struct {
	ID        string
	StartedAt time.Time

	outcomes   []StepOutcome
	status     RunStatus
	finishedAt time.Time
	sealed     bool
}

func NewRun(id string, startedAt time.Time) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrRunIDRequired
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &Run{ID: id, StartedAt: startedAt.UTC(), status: RunStatusRunning}, nil
}

func (r *Run) Append(outcome StepOutcome) error {
	if r.sealed {
		return fmt.Errorf("append %s: %w", outcome.Step, ErrRunSealed)
	}
	r.outcomes = append(r.outcomes, outcome)
	return nil
}

// Outcomes returns a copy of the recorded outcomes in execution order.
func (r *Run) Outcomes() []StepOutcome {
	out := make([]StepOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

func (r *Run) Seal(status RunStatus, finishedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("seal with %q: %w", status, ErrNonTerminal)
	}
	if r.sealed {
		return ErrRunSealed
	}
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}
	r.status = status
	r.finishedAt = finishedAt.UTC()
	r.sealed = true
	return nil
}

func (r *Run) Status() RunStatus {
	return r.status
}

func (r *Run) FinishedAt() time.Time {
	return r.finishedAt
}

func (r *Run) Sealed() bool {
	return r.sealed
}

// DeriveRunStatus classifies a run: any disallowed failure makes it failed,
// otherwise any allowed failure makes it partial, otherwise success.
func DeriveRunStatus(outcomes []StepOutcome) RunStatus {
	partial := false
	for _, outcome := range outcomes {
		switch outcome.Status {
		case StepStatusSuccess:
		case StepStatusAllowedFailure:
			partial = true
		default:
			return RunStatusFailed
		}
	}
	if partial {
		return RunStatusPartial
	}
	return RunStatusSuccess
}
