package workflow

import "errors"

// Sentinel errors for the workflow package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrWorkflowNotFound is returned when no definition exists for an id.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrCircularInheritance is returned when an extends chain revisits a
	// definition. The wrapping error carries the full cycle path.
	ErrCircularInheritance = errors.New("circular workflow inheritance")

	// ErrDuplicateStepID is returned when a resolved phase contains the same
	// step id twice, which would make execution order ambiguous.
	ErrDuplicateStepID = errors.New("duplicate step id in resolved phase")

	// ErrEmptyResolution is returned when a non-trivial inheritance chain
	// resolves to zero steps, which indicates a silent merge failure.
	ErrEmptyResolution = errors.New("inheritance chain resolved to no steps")

	// ErrWorkflowIDRequired is returned when a definition has no id.
	ErrWorkflowIDRequired = errors.New("workflow id is required")

	// ErrStepIDRequired is returned when a step has no id.
	ErrStepIDRequired = errors.New("step id is required")

	// ErrMissingDirective is returned when a step carries none of
	// command, skill, or prompt.
	ErrMissingDirective = errors.New("step has no execution directive")

	// ErrAmbiguousDirective is returned when a step carries more than one
	// execution directive.
	ErrAmbiguousDirective = errors.New("step has multiple execution directives")

	// ErrUnknownPhase is returned when a definition names a phase outside the
	// fixed five.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrPendingInputImmutable is returned when a policy tries to override
	// the pending_input action away from wait.
	ErrPendingInputImmutable = errors.New("pending_input handling cannot be overridden")
)
