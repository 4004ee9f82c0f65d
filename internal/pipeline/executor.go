package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avidelta/nexus/internal/domain"
)

const tracerName = "github.com/avidelta/nexus/internal/pipeline"

// EventRecorder is the slice of the ledger the executor writes to.
type EventRecorder interface {
	RecordEvent(ctx context.Context, runID string, kind domain.EventKind, message string, detail map[string]any) error
}

type runIDKey struct{}

// WithRunID returns a context carrying the id of the run being executed.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id set by the executor for step actions.
func RunIDFromContext(ctx context.Context) (string, bool) {
	runID, ok := ctx.Value(runIDKey{}).(string)
	return runID, ok && runID != ""
}

// StepRunner executes one step of a run.
type StepRunner interface {
	Execute(ctx context.Context, runID string, step Step) domain.StepOutcome
}

type Executor struct {
	events EventRecorder
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

func NewExecutor(events EventRecorder, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		events: events,
		tracer: otel.Tracer(tracerName),
		logger: logger,
		now:    time.Now,
	}
}

// Execute runs the step's action exactly once. Errors and panics become a
// failed or allowed-failure outcome; nothing escapes to the caller.
func (e *Executor) Execute(ctx context.Context, runID string, step Step) domain.StepOutcome {
	name := step.id.String()
	logger := e.logger.With("run_id", runID, "step", name)

	outcome := domain.StepOutcome{
		Step:         step.id,
		AllowFailure: step.allowFailure,
		StartedAt:    e.now().UTC(),
	}
	recordEvent(ctx, e.events, logger, runID, domain.EventStarted, "step "+name+" started", map[string]any{
		"step":          name,
		"allow_failure": step.allowFailure,
	})

	ctx, span := e.tracer.Start(ctx, "nexus.step.execute",
		trace.WithAttributes(
			attribute.String("nexus.run.id", runID),
			attribute.String("nexus.step", name),
			attribute.Bool("nexus.step.allow_failure", step.allowFailure),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	output, err := invoke(WithRunID(ctx, runID), step)
	outcome.FinishedAt = e.now().UTC()
	outcome.Output = output

	kind := domain.EventSuccess
	switch {
	case err == nil:
		outcome.Status = domain.StepStatusSuccess
		span.SetStatus(codes.Ok, "")
	case step.allowFailure:
		outcome.Status = domain.StepStatusAllowedFailure
		outcome.Error = err.Error()
		kind = domain.EventFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		outcome.Status = domain.StepStatusFailed
		outcome.Error = err.Error()
		kind = domain.EventFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("nexus.step.status", string(outcome.Status)))
	span.End()

	detail := map[string]any{
		"step":          name,
		"allow_failure": step.allowFailure,
		"status":        string(outcome.Status),
		"duration_ms":   outcome.Duration().Milliseconds(),
	}
	if outcome.Error != "" {
		detail["error"] = outcome.Error
	}
	recordEvent(ctx, e.events, logger, runID, kind, fmt.Sprintf("step %s %s", name, outcome.Status), detail)

	if err != nil {
		logger.Warn("step failed", "status", outcome.Status, "error", outcome.Error, "duration_ms", outcome.Duration().Milliseconds())
	} else {
		logger.Info("step finished", "status", outcome.Status, "duration_ms", outcome.Duration().Milliseconds())
	}
	return outcome
}

func invoke(ctx context.Context, step Step) (output any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			output = nil
			err = &PanicError{Step: step.id, Value: rec}
		}
	}()
	if step.action == nil {
		return nil, fmt.Errorf("step %s has no action", step.id)
	}
	return step.action.Run(ctx)
}

// recordEvent writes a ledger event and only logs when the ledger fails,
// including when it panics.
func recordEvent(ctx context.Context, events EventRecorder, logger *slog.Logger, runID string, kind domain.EventKind, message string, detail map[string]any) {
	if events == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("ledger event panicked", "kind", kind, "error", fmt.Sprint(rec))
		}
	}()
	if err := events.RecordEvent(ctx, runID, kind, message, detail); err != nil {
		logger.Error("ledger event failed", "kind", kind, "error", err)
	}
}
