// Package workflow defines workflow definitions, their inheritance-resolved
// form, and the result-handling policy model. Resolution is pure: the same
// definitions always produce the same resolved step lists, so callers may
// resolve once and reuse the output for both validation and execution.
package workflow

import (
	"fmt"
	"strings"
)

// Phase is one of the five fixed orchestration stages.
type Phase string

// The fixed phase progression. Runs always advance in this order.
const (
	PhaseFrame     Phase = "frame"
	PhaseArchitect Phase = "architect"
	PhaseBuild     Phase = "build"
	PhaseEvaluate  Phase = "evaluate"
	PhaseRelease   Phase = "release"
)

// Phases lists all phases in execution order.
var Phases = []Phase{PhaseFrame, PhaseArchitect, PhaseBuild, PhaseEvaluate, PhaseRelease}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// PhaseIndex returns the position of p in the fixed progression, or -1.
func PhaseIndex(p Phase) int {
	for i, known := range Phases {
		if p == known {
			return i
		}
	}
	return -1
}

// Fixed result-handling actions. Any other non-empty policy value is a
// recovery-handler reference.
const (
	ActionContinue = "continue"
	ActionPrompt   = "prompt"
	ActionStop     = "stop"
	ActionWait     = "wait"
)

// IsFixedAction reports whether v is one of the four fixed actions.
func IsFixedAction(v string) bool {
	switch v {
	case ActionContinue, ActionPrompt, ActionStop, ActionWait:
		return true
	}
	return false
}

// IsHandlerRef reports whether v names a recovery handler rather than a
// fixed action.
func IsHandlerRef(v string) bool {
	return v != "" && !IsFixedAction(v)
}

// Policy is a partial result-handling policy. Empty fields fall through to
// the next level of the cascade (step -> phase -> workflow -> defaults).
type Policy struct {
	OnSuccess      string `yaml:"on_success,omitempty" json:"on_success,omitempty"`
	OnWarning      string `yaml:"on_warning,omitempty" json:"on_warning,omitempty"`
	OnFailure      string `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
	OnPendingInput string `yaml:"on_pending_input,omitempty" json:"on_pending_input,omitempty"`
}

// DefaultPolicy is the hardcoded bottom of the cascade. The pending_input
// action is immutable: a run that reports pending_input always waits.
func DefaultPolicy() Policy {
	return Policy{
		OnSuccess:      ActionContinue,
		OnWarning:      ActionContinue,
		OnFailure:      ActionStop,
		OnPendingInput: ActionWait,
	}
}

// Merge returns p with empty fields filled from fallback.
func (p Policy) Merge(fallback Policy) Policy {
	if p.OnSuccess == "" {
		p.OnSuccess = fallback.OnSuccess
	}
	if p.OnWarning == "" {
		p.OnWarning = fallback.OnWarning
	}
	if p.OnFailure == "" {
		p.OnFailure = fallback.OnFailure
	}
	if p.OnPendingInput == "" {
		p.OnPendingInput = fallback.OnPendingInput
	}
	return p
}

// IsZero reports whether no field of the policy is set.
func (p Policy) IsZero() bool {
	return p == Policy{}
}

// Validate checks every set field is a fixed action or handler reference and
// that on_pending_input is not overridden away from wait.
func (p Policy) Validate() error {
	for _, field := range []struct{ name, value string }{
		{"on_success", p.OnSuccess},
		{"on_warning", p.OnWarning},
		{"on_failure", p.OnFailure},
	} {
		if field.value == "" {
			continue
		}
		if !IsFixedAction(field.value) && !IsHandlerRef(field.value) {
			return fmt.Errorf("%s: invalid action %q", field.name, field.value)
		}
	}
	if p.OnPendingInput != "" && p.OnPendingInput != ActionWait {
		return fmt.Errorf("%w: on_pending_input is %q", ErrPendingInputImmutable, p.OnPendingInput)
	}
	return nil
}

// Step is the smallest unit of dispatch within a phase. Steps are value
// objects and are never mutated after resolution.
type Step struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Exactly one of the three execution directives must be set.
	Command string `yaml:"command,omitempty" json:"command,omitempty"`
	Skill   string `yaml:"skill,omitempty" json:"skill,omitempty"`
	Prompt  string `yaml:"prompt,omitempty" json:"prompt,omitempty"`

	Arguments      map[string]string `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	ResultHandling Policy            `yaml:"result_handling,omitempty" json:"result_handling,omitempty"`

	// Source is the id of the definition that contributed this step.
	// Populated during resolution, never read from files.
	Source string `yaml:"-" json:"source,omitempty"`
}

// Directive kinds returned by Step.Directive.
const (
	DirectiveCommand = "command"
	DirectiveSkill   = "skill"
	DirectivePrompt  = "prompt"
)

// Directive returns the step's execution directive kind and value. It is an
// error for a step to carry zero or multiple directives.
func (s Step) Directive() (kind, value string, err error) {
	var kinds []string
	if s.Command != "" {
		kinds, kind, value = append(kinds, DirectiveCommand), DirectiveCommand, s.Command
	}
	if s.Skill != "" {
		kinds, kind, value = append(kinds, DirectiveSkill), DirectiveSkill, s.Skill
	}
	if s.Prompt != "" {
		kinds, kind, value = append(kinds, DirectivePrompt), DirectivePrompt, s.Prompt
	}
	if len(kinds) == 0 {
		return "", "", fmt.Errorf("step %s: %w", s.ID, ErrMissingDirective)
	}
	if len(kinds) > 1 {
		return "", "", fmt.Errorf("step %s: %w: %s", s.ID, ErrAmbiguousDirective, strings.Join(kinds, ", "))
	}
	return kind, value, nil
}

// Validate checks structural invariants of a single step as loaded.
func (s Step) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrStepIDRequired
	}
	if _, _, err := s.Directive(); err != nil {
		return err
	}
	if err := s.ResultHandling.Validate(); err != nil {
		return fmt.Errorf("step %s: %w", s.ID, err)
	}
	return nil
}

// PhaseDef holds the step lists one definition contributes to a phase.
// When a definition is inherited, its pre_steps and post_steps wrap the
// descendant's body; its steps form the body only for the most-derived
// definition that declares any.
type PhaseDef struct {
	PreSteps       []Step `yaml:"pre_steps,omitempty" json:"pre_steps,omitempty"`
	Steps          []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
	PostSteps      []Step `yaml:"post_steps,omitempty" json:"post_steps,omitempty"`
	ResultHandling Policy `yaml:"result_handling,omitempty" json:"result_handling,omitempty"`

	// RequiresApproval gates phase entry behind a recorded approval event.
	RequiresApproval bool `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`
}

// Definition is one workflow definition as loaded from disk. Immutable once
// loaded.
type Definition struct {
	ID             string             `yaml:"id" json:"id"`
	Extends        string             `yaml:"extends,omitempty" json:"extends,omitempty"`
	Phases         map[Phase]PhaseDef `yaml:"phases,omitempty" json:"phases,omitempty"`
	SkipSteps      []string           `yaml:"skip_steps,omitempty" json:"skip_steps,omitempty"`
	ResultHandling Policy             `yaml:"result_handling,omitempty" json:"result_handling,omitempty"`
}

// Validate checks structural invariants of a definition as loaded.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrWorkflowIDRequired
	}
	if err := d.ResultHandling.Validate(); err != nil {
		return fmt.Errorf("workflow %s: %w", d.ID, err)
	}
	for name, phase := range d.Phases {
		if !name.Valid() {
			return fmt.Errorf("workflow %s: %w: %q", d.ID, ErrUnknownPhase, name)
		}
		if err := phase.ResultHandling.Validate(); err != nil {
			return fmt.Errorf("workflow %s phase %s: %w", d.ID, name, err)
		}
		for _, list := range [][]Step{phase.PreSteps, phase.Steps, phase.PostSteps} {
			for _, step := range list {
				if err := step.Validate(); err != nil {
					return fmt.Errorf("workflow %s phase %s: %w", d.ID, name, err)
				}
			}
		}
	}
	return nil
}

// Resolved is a workflow definition after inheritance merging: a flat,
// ordered step list per phase plus the merged policy levels.
type Resolved struct {
	ID string `json:"id"`

	// Chain is the inheritance chain root-first, ending with ID.
	Chain []string `json:"chain"`

	Steps map[Phase][]Step `json:"steps"`

	// Policy is the workflow-level policy after overlaying the chain.
	Policy Policy `json:"policy"`

	// PhasePolicies holds per-phase policies after overlaying the chain.
	PhasePolicies map[Phase]Policy `json:"phase_policies,omitempty"`

	// ApprovalPhases marks phases gated behind an approval event.
	ApprovalPhases map[Phase]bool `json:"approval_phases,omitempty"`
}

// FindStep returns the index of a step id within a resolved phase, or -1.
// The same lookup serves both recovery-plan validation and execution so the
// two can never drift.
func (r *Resolved) FindStep(phase Phase, stepID string) int {
	for i, step := range r.Steps[phase] {
		if step.ID == stepID {
			return i
		}
	}
	return -1
}

// StepIDs returns the step ids of a resolved phase in execution order.
func (r *Resolved) StepIDs(phase Phase) []string {
	steps := r.Steps[phase]
	ids := make([]string, 0, len(steps))
	for _, step := range steps {
		ids = append(ids, step.ID)
	}
	return ids
}

// TotalSteps returns the number of steps across all phases.
func (r *Resolved) TotalSteps() int {
	total := 0
	for _, steps := range r.Steps {
		total += len(steps)
	}
	return total
}
