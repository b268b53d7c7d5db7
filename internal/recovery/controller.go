// Package recovery validates and applies recovery plans returned by
// configured recovery handlers. The controller is the only code allowed to
// rewind a run: step statuses never change except through an applied,
// validated plan, and every application is appended to the run's recovery
// history.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/boshu2/orc/internal/runstate"
	"github.com/boshu2/orc/internal/workflow"
)

// Limits and timeouts. The run-wide cap stops redirect loops where a
// handler keeps bouncing a run between steps.
const (
	DefaultMaxAttempts    = 10
	DefaultMaxStepRetries = 3
	DefaultHandlerTimeout = 5 * time.Minute
)

// Request carries the failure context handed to a recovery handler.
type Request struct {
	WorkID      string `json:"work_id,omitempty"`
	RunID       string `json:"run_id"`
	Phase       string `json:"phase"`
	Step        string `json:"step"`
	HandlerRef  string `json:"handler_ref"`
	Error       string `json:"error,omitempty"`
	Category    string `json:"category,omitempty"`
	RetryCount  int    `json:"retry_count,omitempty"`
	ContextPath string `json:"context_path,omitempty"`
}

// Invoker runs a recovery handler and returns its plan. Implementations
// must honor ctx cancellation.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Plan, error)
}

// Outcome describes where execution resumes after a plan is applied.
type Outcome struct {
	Action          string
	ResumePhase     workflow.Phase
	ResumeStepIndex int
	Attempt         int
}

// Controller applies recovery plans to run state. Zero-value limits fall
// back to the package defaults.
type Controller struct {
	MaxAttempts    int
	MaxStepRetries int
	HandlerTimeout time.Duration
	Invoker        Invoker
}

// Option configures a Controller.
type Option func(*Controller)

// WithLimits overrides the run-wide and per-step caps.
func WithLimits(maxAttempts, maxStepRetries int) Option {
	return func(c *Controller) {
		c.MaxAttempts = maxAttempts
		c.MaxStepRetries = maxStepRetries
	}
}

// WithHandlerTimeout overrides the handler invocation deadline.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Controller) { c.HandlerTimeout = d }
}

// NewController builds a controller around an invoker. A nil invoker is
// allowed; RequestPlan then always falls back to stop.
func NewController(invoker Invoker, opts ...Option) *Controller {
	c := &Controller{
		MaxAttempts:    DefaultMaxAttempts,
		MaxStepRetries: DefaultMaxStepRetries,
		HandlerTimeout: DefaultHandlerTimeout,
		Invoker:        invoker,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestPlan invokes the recovery handler under the configured timeout.
// A handler that errors, times out, or cannot be invoked is treated as
// failed and the safe stop plan is returned in its place.
func (c *Controller) RequestPlan(ctx context.Context, req Request) Plan {
	if c.Invoker == nil {
		return StopPlan("no recovery handler invoker configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.HandlerTimeout)
	defer cancel()

	plan, err := c.Invoker.Invoke(ctx, req)
	if err != nil {
		return StopPlan(fmt.Sprintf("recovery handler %s failed: %v", req.HandlerRef, err))
	}
	return plan
}

// Apply validates a plan and executes it against the run state. The caller
// persists the mutated state afterwards; Apply itself never touches disk.
// Every successful application, including stop, appends exactly one entry
// to recovery_history.
func (c *Controller) Apply(plan Plan, state *runstate.RunState, resolved *workflow.Resolved, phase workflow.Phase, stepID string) (Outcome, error) {
	if err := plan.Validate(resolved); err != nil {
		return Outcome{}, err
	}
	if state.RecoveryAttempts >= c.MaxAttempts {
		return Outcome{}, fmt.Errorf("%w: %d recovery attempts used (max %d)",
			ErrAttemptLimitExceeded, state.RecoveryAttempts, c.MaxAttempts)
	}

	switch plan.Action {
	case ActionRetry:
		key := runstate.RetryKey(string(phase), stepID)
		if state.StepRetries == nil {
			state.StepRetries = make(map[string]int)
		}
		if state.StepRetries[key] >= c.MaxStepRetries {
			return Outcome{}, fmt.Errorf("%w: step %s retried %d times (max %d)",
				ErrAttemptLimitExceeded, key, state.StepRetries[key], c.MaxStepRetries)
		}
		state.StepRetries[key]++
	case ActionGotoStep:
		c.applyGoto(plan, state, resolved)
	case ActionStop:
		// No state rewind; the orchestrator records the failure point.
	}

	state.RecoveryAttempts++
	record := runstate.RecoveryRecord{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Phase:       string(phase),
		Step:        stepID,
		Action:      plan.Action,
		TargetPhase: plan.TargetPhase,
		TargetStep:  plan.TargetStep,
		Rationale:   plan.Rationale,
		Attempt:     state.RecoveryAttempts,
	}
	state.RecoveryHistory = append(state.RecoveryHistory, record)

	outcome := Outcome{Action: plan.Action, Attempt: state.RecoveryAttempts}
	switch plan.Action {
	case ActionRetry:
		outcome.ResumePhase = phase
		outcome.ResumeStepIndex = state.Phase(string(phase)).CurrentStepIndex
	case ActionGotoStep:
		target := workflow.Phase(plan.TargetPhase)
		outcome.ResumePhase = target
		outcome.ResumeStepIndex = resolved.FindStep(target, plan.TargetStep)
	}
	return outcome, nil
}

// applyGoto rewinds the target phase to the target step and resets every
// later phase to pending. Earlier phases keep their completed state.
func (c *Controller) applyGoto(plan Plan, state *runstate.RunState, resolved *workflow.Resolved) {
	target := workflow.Phase(plan.TargetPhase)
	idx := resolved.FindStep(target, plan.TargetStep)

	ps := state.Phase(plan.TargetPhase)
	ps.Status = runstate.PhaseInProgress
	ps.CurrentStepIndex = idx
	if len(ps.StepsCompleted) > idx {
		ps.StepsCompleted = ps.StepsCompleted[:idx]
	}

	targetPos := workflow.PhaseIndex(target)
	for _, phase := range workflow.Phases {
		if workflow.PhaseIndex(phase) <= targetPos {
			continue
		}
		later := state.Phase(string(phase))
		later.Status = runstate.PhasePending
		later.CurrentStepIndex = 0
		later.StepsCompleted = nil
	}
	state.CurrentPhase = plan.TargetPhase
}
