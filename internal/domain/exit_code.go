package domain

// Process exit codes for the daily runner.
const (
	ExitSuccess          = 0
	ExitPartial          = 2
	ExitFailed           = 3
	ExitCatastrophic     = 4
	ExitMisconfiguration = 5
)

// ExitCodeFor maps a terminal run status to its exit code.
func ExitCodeFor(status RunStatus) int {
	switch status {
	case RunStatusSuccess:
		return ExitSuccess
	case RunStatusPartial:
		return ExitPartial
	default:
		return ExitFailed
	}
}
