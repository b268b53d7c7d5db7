package orchestrator

import "errors"

var (
	// ErrNotResumable reports a resume attempt on a run whose status is
	// terminal or never suspended.
	ErrNotResumable = errors.New("run is not resumable")

	// ErrResumePointInvalid reports that the persisted resume position no
	// longer exists in the freshly resolved workflow.
	ErrResumePointInvalid = errors.New("resume point no longer exists in workflow")

	// ErrKillSwitch reports a run aborted by the kill switch file.
	ErrKillSwitch = errors.New("kill switch engaged")
)
