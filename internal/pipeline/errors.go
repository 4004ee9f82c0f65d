package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/avidelta/nexus/internal/domain"
)

// ErrMisconfigured matches every *MisconfigurationError.
var ErrMisconfigured = errors.New("pipeline misconfigured")

// MisconfigurationError aggregates step list problems found before any
// action runs.
type MisconfigurationError struct {
	Issues []string
}

func (e *MisconfigurationError) Error() string {
	if len(e.Issues) == 0 {
		return ErrMisconfigured.Error()
	}
	return ErrMisconfigured.Error() + ": " + strings.Join(e.Issues, "; ")
}

func (e *MisconfigurationError) Is(target error) bool {
	return target == ErrMisconfigured
}

func (e *MisconfigurationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *MisconfigurationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// CatastrophicError reports a failure of the orchestration loop itself. The
// run has already been finalized as failed when it is returned.
type CatastrophicError struct {
	RunID string
	Cause any
	Stack []byte
}

func (e *CatastrophicError) Error() string {
	return fmt.Sprintf("run %s: catastrophic failure: %v", e.RunID, e.Cause)
}

func (e *CatastrophicError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

// PanicError is the failure recorded for a step whose action panicked.
type PanicError struct {
	Step  domain.StepID
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step %s panicked: %v", e.Step, e.Value)
}

// ExitCode maps an orchestration result to the process exit code.
func ExitCode(result Result, err error) int {
	var catastrophic *CatastrophicError
	switch {
	case errors.As(err, &catastrophic):
		return domain.ExitCatastrophic
	case errors.Is(err, ErrMisconfigured):
		return domain.ExitMisconfiguration
	case err != nil:
		return domain.ExitCatastrophic
	}
	return domain.ExitCodeFor(result.Status)
}
