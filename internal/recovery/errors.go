package recovery

import "errors"

var (
	// ErrInvalidPlan reports a recovery plan that fails validation before
	// any state is touched.
	ErrInvalidPlan = errors.New("invalid recovery plan")

	// ErrAttemptLimitExceeded reports that the run-wide recovery cap or a
	// per-step retry cap has been reached.
	ErrAttemptLimitExceeded = errors.New("recovery attempt limit exceeded")

	// ErrUnknownStep reports a goto_step target that does not exist in the
	// resolved workflow.
	ErrUnknownStep = errors.New("unknown recovery target step")
)
