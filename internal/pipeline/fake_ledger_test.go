package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/avidelta/nexus/internal/domain"
	"github.com/avidelta/nexus/internal/ledger"
)

type recordedEvent struct {
	RunID   string
	Kind    domain.EventKind
	Message string
	Detail  map[string]any
}

type fakeLedger struct {
	mu          sync.Mutex
	nextID      int
	allocateErr error
	eventErr    error
	finalizeErr error
	events      []recordedEvent
	finalized   []*domain.Run
	allocations int
	finalizeCtx error
}

func (f *fakeLedger) AllocateRunID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocations++
	if f.allocateErr != nil {
		return "", f.allocateErr
	}
	f.nextID++
	return fmt.Sprintf("run-%d", f.nextID), nil
}

func (f *fakeLedger) RecordEvent(ctx context.Context, runID string, kind domain.EventKind, message string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{RunID: runID, Kind: kind, Message: message, Detail: detail})
	return f.eventErr
}

func (f *fakeLedger) Finalize(ctx context.Context, run *domain.Run) (ledger.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, run)
	f.finalizeCtx = ctx.Err()
	if f.finalizeErr != nil {
		return ledger.Record{}, f.finalizeErr
	}
	if len(f.finalized) > 1 {
		return ledger.Record{}, ledger.ErrAlreadyFinalized
	}
	return ledger.NewRecord(run)
}

func (f *fakeLedger) eventsWithMessage(message string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedEvent, 0)
	for _, event := range f.events {
		if event.Message == message {
			out = append(out, event)
		}
	}
	return out
}

// callLog records the order in which step actions run.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) step(id domain.StepID, allowFailure bool, err error) Step {
	return MustStep(id, ActionFunc(func(ctx context.Context) (any, error) {
		c.mu.Lock()
		c.calls = append(c.calls, id.String())
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return id.String() + " done", nil
	}), allowFailure)
}

var errBoom = errors.New("boom")
