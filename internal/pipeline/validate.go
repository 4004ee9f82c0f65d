package pipeline

import (
	"fmt"
	"path"
)

// CriticalSteps lists the step patterns that must never allow failure.
var CriticalSteps = []string{
	"trigger:*",
	"transform:summarize",
	"output:json",
	"output:notion-update",
}

// Validate checks the step list against the critical patterns. Every problem
// is reported in a single *MisconfigurationError.
func Validate(steps []Step, patterns []string) error {
	verr := &MisconfigurationError{}
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			verr.Add(fmt.Sprintf("critical pattern %q: %v", pattern, err))
		}
	}

	seen := make(map[string]int, len(steps))
	for i, step := range steps {
		if step.action == nil || step.id.IsZero() {
			verr.Add(fmt.Sprintf("step %d is not initialized", i))
			continue
		}
		name := step.id.String()
		if prev, ok := seen[name]; ok {
			verr.Add(fmt.Sprintf("step %s is duplicated at positions %d and %d", name, prev, i))
		} else {
			seen[name] = i
		}
		if step.allowFailure && IsCritical(name, patterns) {
			verr.Add(fmt.Sprintf("critical step %s must not allow failure", name))
		}
	}
	return verr.OrNil()
}

func IsCritical(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
