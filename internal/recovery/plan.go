package recovery

import (
	"fmt"
	"strings"

	"github.com/boshu2/orc/internal/workflow"
)

// Plan actions. A handler may only redirect execution through one of these;
// anything else is rejected before state is touched.
const (
	ActionRetry    = "retry"
	ActionGotoStep = "goto_step"
	ActionStop     = "stop"
)

// Plan is a recovery handler's verdict on a failed or degraded step. Plans
// are validated against the resolved workflow before they are applied, so a
// handler can never redirect a run to a step that does not exist.
type Plan struct {
	Action           string `json:"action" yaml:"action"`
	TargetPhase      string `json:"target_phase,omitempty" yaml:"target_phase,omitempty"`
	TargetStep       string `json:"target_step,omitempty" yaml:"target_step,omitempty"`
	Rationale        string `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
}

// StopPlan builds the fallback plan used when a handler fails, times out,
// or returns garbage.
func StopPlan(rationale string) Plan {
	return Plan{Action: ActionStop, Rationale: rationale}
}

// Validate checks a plan against the resolved workflow. goto_step targets
// are looked up in the same merged step list the orchestrator executes, so
// validation and execution cannot disagree about what exists.
func (p Plan) Validate(resolved *workflow.Resolved) error {
	switch p.Action {
	case ActionRetry, ActionStop:
		return nil
	case ActionGotoStep:
	case "":
		return fmt.Errorf("%w: action is required", ErrInvalidPlan)
	default:
		return fmt.Errorf("%w: unknown action %q (want retry, goto_step, or stop)", ErrInvalidPlan, p.Action)
	}

	if p.TargetPhase == "" || p.TargetStep == "" {
		return fmt.Errorf("%w: goto_step requires target_phase and target_step", ErrInvalidPlan)
	}
	phase := workflow.Phase(p.TargetPhase)
	if !phase.Valid() {
		return fmt.Errorf("%w: target_phase %q is not a known phase", ErrInvalidPlan, p.TargetPhase)
	}
	if resolved == nil || resolved.FindStep(phase, p.TargetStep) < 0 {
		available := []string{}
		if resolved != nil {
			available = resolved.StepIDs(phase)
		}
		return fmt.Errorf("%w: %q not in phase %s (available: %s)",
			ErrUnknownStep, p.TargetStep, phase, strings.Join(available, ", "))
	}
	return nil
}
