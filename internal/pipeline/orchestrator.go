package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avidelta/nexus/internal/domain"
	"github.com/avidelta/nexus/internal/ledger"
)

type Options struct {
	// RunID is used instead of allocating one from the ledger when set.
	RunID string
	// CriticalSteps overrides the default critical patterns when non-nil.
	CriticalSteps []string
}

type Result struct {
	RunID    string
	Status   domain.RunStatus
	Outcomes []domain.StepOutcome
	Record   ledger.Record
	ExitCode int
}

type Orchestrator struct {
	ledger ledger.Ledger
	runner StepRunner
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

func NewOrchestrator(l ledger.Ledger, logger *slog.Logger) (*Orchestrator, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger: l,
		runner: NewExecutor(l, logger),
		tracer: otel.Tracer(tracerName),
		logger: logger,
		now:    time.Now,
	}, nil
}

// execution is the state owned by one Run call.
type execution struct {
	run       *domain.Run
	finalized bool
	result    Result
}

// Run executes steps in order and finalizes the run exactly once. Ordinary
// step failures are reported through Result.Status. The error is non-nil only
// for misconfiguration (matching ErrMisconfigured, nothing executed) and for
// catastrophic failures of the loop itself (*CatastrophicError); in both
// cases the run has been finalized as failed.
func (o *Orchestrator) Run(ctx context.Context, steps []Step, opts Options) (result Result, err error) {
	runID := o.resolveRunID(ctx, opts.RunID)
	logger := o.logger.With("run_id", runID)

	ctx, span := o.tracer.Start(ctx, "nexus.run",
		trace.WithAttributes(
			attribute.String("nexus.run.id", runID),
			attribute.Int("nexus.run.steps", len(steps)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	run, err := domain.NewRun(runID, o.now())
	if err != nil {
		return Result{RunID: runID, Status: domain.RunStatusFailed, ExitCode: domain.ExitCatastrophic}, err
	}
	ex := &execution{run: run}

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		cause := &CatastrophicError{RunID: runID, Cause: rec, Stack: debug.Stack()}
		logger.Error("run aborted", "error", cause.Error())
		result = o.finish(ctx, logger, ex, cause)
		result.ExitCode = domain.ExitCatastrophic
		err = cause
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())
	}()

	recordEvent(ctx, o.ledger, logger, runID, domain.EventStarted, "run started", map[string]any{
		"steps": stepNames(steps),
	})

	patterns := opts.CriticalSteps
	if patterns == nil {
		patterns = CriticalSteps
	}
	if verr := Validate(steps, patterns); verr != nil {
		logger.Error("run misconfigured", "error", verr)
		result = o.finish(ctx, logger, ex, verr)
		result.ExitCode = domain.ExitMisconfiguration
		span.RecordError(verr)
		span.SetStatus(codes.Error, verr.Error())
		return result, verr
	}

	for _, step := range steps {
		outcome := o.runner.Execute(ctx, runID, step)
		if err := ex.run.Append(outcome); err != nil {
			panic(err)
		}
	}

	result = o.finish(ctx, logger, ex, nil)
	span.SetAttributes(attribute.String("nexus.run.status", string(result.Status)))
	if result.Status == domain.RunStatusFailed {
		span.SetStatus(codes.Error, "run failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result, nil
}

// finish seals the run, records the terminal event and finalizes the ledger.
// A cause forces the failed status. Repeated calls return the first result.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, ex *execution, cause error) Result {
	if ex.finalized {
		return ex.result
	}
	ex.finalized = true
	run := ex.run
	// A panic escaping below re-enters finish through Run's recover and
	// gets this result back.
	ex.result = Result{RunID: run.ID, Status: domain.RunStatusFailed, Outcomes: run.Outcomes(), ExitCode: domain.ExitFailed}
	// The terminal record is written even when the caller has been cancelled.
	ctx = context.WithoutCancel(ctx)

	status := domain.RunStatusFailed
	if cause == nil {
		status = domain.DeriveRunStatus(run.Outcomes())
	}
	if !run.Sealed() {
		if err := run.Seal(status, o.now()); err != nil {
			logger.Error("seal run", "error", err)
		}
	}
	status = run.Status()
	outcomes := run.Outcomes()

	detail := map[string]any{
		"status":      string(status),
		"steps":       len(outcomes),
		"duration_ms": run.FinishedAt().Sub(run.StartedAt).Milliseconds(),
	}
	if cause != nil {
		detail["error"] = cause.Error()
	}
	recordEvent(ctx, o.ledger, logger, run.ID, domain.EventKindFor(status), "run "+string(status), detail)

	record, err := o.finalize(ctx, run)
	if err != nil {
		logger.Error("finalize failed", "status", status, "error", err)
		recordEvent(ctx, o.ledger, logger, run.ID, domain.EventFailed, "finalize failed", map[string]any{
			"secondary": true,
			"status":    string(status),
			"error":     err.Error(),
		})
		if local, lerr := ledger.NewRecord(run); lerr == nil {
			record = local
		}
	}

	ex.result = Result{
		RunID:    run.ID,
		Status:   status,
		Outcomes: outcomes,
		Record:   record,
		ExitCode: domain.ExitCodeFor(status),
	}
	logger.Info("run finished", "status", status, "steps", len(outcomes), "duration_ms", detail["duration_ms"])
	return ex.result
}

func (o *Orchestrator) finalize(ctx context.Context, run *domain.Run) (record ledger.Record, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ledger finalize panicked: %v", rec)
		}
	}()
	return o.ledger.Finalize(ctx, run)
}

func (o *Orchestrator) resolveRunID(ctx context.Context, preallocated string) (runID string) {
	if id := strings.TrimSpace(preallocated); id != "" {
		return id
	}
	defer func() {
		if rec := recover(); rec != nil {
			runID = uuid.NewString()
			o.logger.Error("run id allocation panicked, using local id", "run_id", runID, "error", fmt.Sprint(rec))
		}
	}()
	id, err := o.ledger.AllocateRunID(ctx)
	if err != nil || strings.TrimSpace(id) == "" {
		runID = uuid.NewString()
		o.logger.Error("run id allocation failed, using local id", "run_id", runID, "error", err)
		return runID
	}
	return id
}

func stepNames(steps []Step) []string {
	names := make([]string, 0, len(steps))
	for _, step := range steps {
		names = append(names, step.id.String())
	}
	return names
}
