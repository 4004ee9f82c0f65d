// Package pipeline executes an ordered list of steps as one ledgered run.
//
// The Executor turns a single step into a StepOutcome and never lets the
// step's failure escape. The Orchestrator validates the step list, runs every
// step strictly in order, classifies the run and finalizes it in the ledger
// exactly once, whatever the exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/avidelta/nexus/internal/domain"
)

// Action is the unit of work a step performs. The returned value is kept on
// the outcome for in-process consumers and is never persisted.
type Action interface {
	Run(ctx context.Context) (any, error)
}

type ActionFunc func(ctx context.Context) (any, error)

func (f ActionFunc) Run(ctx context.Context) (any, error) {
	return f(ctx)
}

// Step is an immutable named action with its failure policy.
type Step struct {
	id           domain.StepID
	action       Action
	allowFailure bool
}

func NewStep(id domain.StepID, action Action, allowFailure bool) (Step, error) {
	if err := id.Validate(); err != nil {
		return Step{}, fmt.Errorf("step id: %w", err)
	}
	if action == nil {
		return Step{}, errors.New("step action is required")
	}
	return Step{id: id, action: action, allowFailure: allowFailure}, nil
}

// MustStep is NewStep for statically known steps.
func MustStep(id domain.StepID, action Action, allowFailure bool) Step {
	step, err := NewStep(id, action, allowFailure)
	if err != nil {
		panic(err)
	}
	return step
}

func (s Step) ID() domain.StepID {
	return s.id
}

func (s Step) AllowFailure() bool {
	return s.allowFailure
}

// WithAllowFailure returns a copy of the step with a different failure policy.
func (s Step) WithAllowFailure(allow bool) Step {
	s.allowFailure = allow
	return s
}
