package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Stage groups steps of the daily pipeline.
type Stage string

const (
	StageTrigger   Stage = "trigger"
	StageIngest    Stage = "ingest"
	StageTransform Stage = "transform"
	StageOutput    Stage = "output"
)

func (s Stage) Valid() bool {
	switch s {
	case StageTrigger, StageIngest, StageTransform, StageOutput:
		return true
	default:
		return false
	}
}

// StepID identifies a step as stage:substep.
type StepID struct {
	Stage   Stage
	Substep string
}

var (
	StepTriggerScheduled   = StepID{StageTrigger, "scheduled"}
	StepTriggerManual      = StepID{StageTrigger, "manual"}
	StepIngestNotes        = StepID{StageIngest, "notes"}
	StepIngestNotion       = StepID{StageIngest, "notion"}
	StepIngestSlack        = StepID{StageIngest, "slack"}
	StepIngestCalendar     = StepID{StageIngest, "calendar"}
	StepTransformSummarize = StepID{StageTransform, "summarize"}
	StepTransformClassify  = StepID{StageTransform, "classify"}
	StepOutputJSON         = StepID{StageOutput, "json"}
	StepOutputNotionUpdate = StepID{StageOutput, "notion-update"}
	StepOutputGitHubIssue  = StepID{StageOutput, "github-issue"}
	StepOutputSlackPost    = StepID{StageOutput, "slack-post"}
	StepOutputArchive      = StepID{StageOutput, "archive"}
)

func (id StepID) String() string {
	return string(id.Stage) + ":" + id.Substep
}

func (id StepID) IsZero() bool {
	return id.Stage == "" && id.Substep == ""
}

func (id StepID) Validate() error {
	if !id.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", id.Stage)
	}
	if id.Substep == "" {
		return errors.New("substep is required")
	}
	if strings.ContainsAny(id.Substep, ": \t\n") {
		return fmt.Errorf("substep %q must not contain ':' or whitespace", id.Substep)
	}
	return nil
}

// ParseStepID parses "stage:substep".
func ParseStepID(value string) (StepID, error) {
	stage, substep, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return StepID{}, fmt.Errorf("step id %q must be stage:substep", value)
	}
	id := StepID{Stage: Stage(stage), Substep: substep}
	if err := id.Validate(); err != nil {
		return StepID{}, fmt.Errorf("step id %q: %w", value, err)
	}
	return id, nil
}

func (id StepID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *StepID) UnmarshalText(text []byte) error {
	parsed, err := ParseStepID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
