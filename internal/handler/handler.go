// Package handler turns a step's result envelope into an orchestration
// decision by resolving the result-handling policy cascade and applying the
// dispatch rules. There is no code path here that converts a failure into a
// silent success: a failed step either goes through a recovery handler or an
// explicit, recorded operator choice.
package handler

import (
	"fmt"

	"github.com/boshu2/orc/internal/executor"
	"github.com/boshu2/orc/internal/workflow"
)

// Action is what the orchestrator should do next with a step.
type Action string

// Decision actions.
const (
	// ActionAdvance moves on to the next step.
	ActionAdvance Action = "advance"

	// ActionPause suspends the run for operator confirmation.
	ActionPause Action = "pause"

	// ActionStop halts the run at this step as failed.
	ActionStop Action = "stop"

	// ActionWaitInput suspends the run as pending_input. Not overridable.
	ActionWaitInput Action = "wait_input"

	// ActionRecover invokes the referenced recovery handler.
	ActionRecover Action = "recover"
)

// Decision is the outcome of handling one envelope.
type Decision struct {
	Action Action

	// HandlerRef names the recovery handler when Action is ActionRecover.
	HandlerRef string

	// Informational marks a success-path handler invocation: the handler
	// runs but the step advances regardless of its plan.
	Informational bool

	// Overridden records that an operator explicitly chose to continue past
	// a warning or failure. The orchestrator logs it as a user_override
	// event.
	Overridden bool

	// Reason is a human-readable explanation for the decision.
	Reason string
}

// Choice is one option of an interactive decision.
type Choice struct {
	ID          string
	Label       string
	Discouraged bool
}

// Prompter asks the operator to pick one of the offered choices. The
// default choice id is returned when the operator just confirms.
type Prompter interface {
	Choose(question string, choices []Choice, defaultID string) (string, error)
}

// AutoPrompter answers every question with the safe default without
// blocking. Used in autonomous mode.
type AutoPrompter struct{}

// Choose implements Prompter.
func (AutoPrompter) Choose(_ string, _ []Choice, defaultID string) (string, error) {
	return defaultID, nil
}

// Handler evaluates result envelopes against resolved policies.
type Handler struct {
	Prompter Prompter
	Rules    *RuleTable
}

// New creates a Handler. A nil prompter behaves autonomously; a nil rule
// table uses the built-in categories.
func New(prompter Prompter, rules *RuleTable) *Handler {
	if prompter == nil {
		prompter = AutoPrompter{}
	}
	if rules == nil {
		rules = DefaultRules()
	}
	return &Handler{Prompter: prompter, Rules: rules}
}

// ResolvePolicy collapses the cascade for one step: step-level fields win,
// then phase-level, then workflow-level, then the hardcoded defaults.
func ResolvePolicy(step workflow.Step, resolved *workflow.Resolved, phase workflow.Phase) workflow.Policy {
	policy := step.ResultHandling
	if resolved != nil {
		policy = policy.Merge(resolved.PhasePolicies[phase]).Merge(resolved.Policy)
	}
	return policy.Merge(workflow.DefaultPolicy())
}

// Handle maps an envelope to a decision per the dispatch table. policy must
// already be fully resolved (see ResolvePolicy).
func (h *Handler) Handle(step workflow.Step, env executor.Envelope, policy workflow.Policy) (Decision, error) {
	switch env.Status {
	case executor.StatusSuccess:
		return h.handleSuccess(policy)
	case executor.StatusWarning:
		return h.handleWarning(step, env, policy)
	case executor.StatusFailure:
		return h.handleFailure(step, env, policy)
	case executor.StatusPendingInput:
		// Unconditional: configuration cannot override a pending_input halt.
		return Decision{Action: ActionWaitInput, Reason: "step reported pending_input"}, nil
	default:
		return Decision{}, fmt.Errorf("envelope status %q is not handleable", env.Status)
	}
}

func (h *Handler) handleSuccess(policy workflow.Policy) (Decision, error) {
	switch {
	case policy.OnSuccess == workflow.ActionContinue:
		return Decision{Action: ActionAdvance}, nil
	case policy.OnSuccess == workflow.ActionPrompt:
		return Decision{Action: ActionPause, Reason: "on_success is prompt: awaiting confirmation"}, nil
	case workflow.IsHandlerRef(policy.OnSuccess):
		return Decision{Action: ActionRecover, HandlerRef: policy.OnSuccess, Informational: true}, nil
	default:
		return Decision{Action: ActionAdvance}, nil
	}
}

func (h *Handler) handleWarning(step workflow.Step, env executor.Envelope, policy workflow.Policy) (Decision, error) {
	switch {
	case policy.OnWarning == workflow.ActionContinue:
		return Decision{Action: ActionAdvance, Reason: "warning logged, policy is continue"}, nil
	case workflow.IsHandlerRef(policy.OnWarning):
		return Decision{Action: ActionRecover, HandlerRef: policy.OnWarning}, nil
	default:
		question := fmt.Sprintf("Step %s finished with a warning: %s", step.ID, env.Message)
		choices := []Choice{
			{ID: "ignore", Label: "Ignore the warning and continue"},
			{ID: "fix", Label: "Pause the run here to fix it, then resume"},
			{ID: "stop", Label: "Stop the run here"},
		}
		answer, err := h.Prompter.Choose(question, choices, "stop")
		if err != nil {
			return Decision{}, fmt.Errorf("warning prompt: %w", err)
		}
		switch answer {
		case "ignore":
			return Decision{Action: ActionAdvance, Overridden: true, Reason: "operator ignored warning"}, nil
		case "fix":
			// The orchestrator pauses a degraded step in place, so it
			// re-runs after the operator's fix.
			return Decision{Action: ActionPause, Reason: "operator paused to fix warning"}, nil
		default:
			return Decision{Action: ActionStop, Reason: "operator stopped on warning"}, nil
		}
	}
}

func (h *Handler) handleFailure(step workflow.Step, env executor.Envelope, policy workflow.Policy) (Decision, error) {
	if workflow.IsHandlerRef(policy.OnFailure) {
		return Decision{Action: ActionRecover, HandlerRef: policy.OnFailure}, nil
	}

	// Every non-handler policy lands on the interactive stop choice. The
	// continue option exists but is discouraged and is always recorded as an
	// explicit override.
	category := h.Rules.Categorize(failureText(env))
	question := fmt.Sprintf("Step %s failed (%s): %s", step.ID, category, env.Message)
	choices := []Choice{
		{ID: "stop", Label: "Stop the run (safe default)"},
		{ID: "continue", Label: "Continue anyway", Discouraged: true},
	}
	answer, err := h.Prompter.Choose(question, choices, "stop")
	if err != nil {
		return Decision{}, fmt.Errorf("failure prompt: %w", err)
	}
	if answer == "continue" {
		return Decision{
			Action:     ActionAdvance,
			Overridden: true,
			Reason:     fmt.Sprintf("operator continued past failure (%s)", category),
		}, nil
	}
	return Decision{Action: ActionStop, Reason: fmt.Sprintf("failure (%s), stopped", category)}, nil
}

func failureText(env executor.Envelope) string {
	text := env.Message
	for _, e := range env.Errors {
		text += "\n" + e
	}
	if env.ErrorAnalysis != "" {
		text += "\n" + env.ErrorAnalysis
	}
	return text
}
