package workflow

import (
	"fmt"
	"strings"
)

// Source provides workflow definitions by id.
type Source interface {
	Definition(id string) (*Definition, error)
}

// Resolver merges a definition with its ancestor chain into flat, ordered
// step lists per phase.
type Resolver struct {
	src Source
}

// NewResolver creates a Resolver reading definitions from src.
func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Resolve walks the extends chain root-first and merges each phase:
// ancestor pre_steps wrap the descendant body (outermost ancestor first),
// the body is the steps of the most-derived definition that declares any,
// and ancestor post_steps close in reverse order. skip_steps from the whole
// chain are removed last, after which each surviving step carries the id of
// the definition that contributed it.
func (r *Resolver) Resolve(id string) (*Resolved, error) {
	chain, err := r.walkChain(id)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{
		ID:             id,
		Steps:          make(map[Phase][]Step),
		PhasePolicies:  make(map[Phase]Policy),
		ApprovalPhases: make(map[Phase]bool),
	}
	for _, def := range chain {
		resolved.Chain = append(resolved.Chain, def.ID)
		resolved.Policy = def.ResultHandling.Merge(resolved.Policy)
	}

	skip := collectSkips(chain)
	for _, phase := range Phases {
		steps := mergePhase(chain, phase, skip)
		if len(steps) > 0 {
			resolved.Steps[phase] = steps
		}
		if policy := mergePhasePolicy(chain, phase); !policy.IsZero() {
			resolved.PhasePolicies[phase] = policy
		}
		for _, def := range chain {
			if pd, ok := def.Phases[phase]; ok && pd.RequiresApproval {
				resolved.ApprovalPhases[phase] = true
			}
		}
		if err := checkDuplicates(id, phase, steps); err != nil {
			return nil, err
		}
	}

	if err := validateResolution(resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

// walkChain loads the definition chain root-first, detecting cycles and
// reporting the full cycle path.
func (r *Resolver) walkChain(id string) ([]*Definition, error) {
	var chain []*Definition
	seen := make(map[string]bool)
	var path []string

	current := id
	for current != "" {
		path = append(path, current)
		if seen[current] {
			return nil, fmt.Errorf("%w: %s", ErrCircularInheritance, strings.Join(path, " -> "))
		}
		seen[current] = true

		def, err := r.src.Definition(current)
		if err != nil {
			return nil, fmt.Errorf("load workflow %s: %w", current, err)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		// Prepend so the root ends up first.
		chain = append([]*Definition{def}, chain...)
		current = def.Extends
	}
	return chain, nil
}

// mergePhase flattens one phase across the chain. chain is root-first.
func mergePhase(chain []*Definition, phase Phase, skip map[string]bool) []Step {
	var pres, body, posts []Step

	for _, def := range chain {
		pd, ok := def.Phases[phase]
		if !ok {
			continue
		}
		pres = append(pres, tagSteps(pd.PreSteps, def.ID)...)
		if len(pd.Steps) > 0 {
			// Most-derived body wins; descendants override ancestors.
			body = tagSteps(pd.Steps, def.ID)
		}
		// Posts close innermost-first, so ancestors are appended after.
		posts = append(tagSteps(pd.PostSteps, def.ID), posts...)
	}

	merged := make([]Step, 0, len(pres)+len(body)+len(posts))
	merged = append(merged, pres...)
	merged = append(merged, body...)
	merged = append(merged, posts...)

	if len(skip) == 0 {
		return merged
	}
	kept := merged[:0]
	for _, step := range merged {
		if !skip[step.ID] {
			kept = append(kept, step)
		}
	}
	return kept
}

// mergePhasePolicy overlays phase-level policies root-first so descendants
// override ancestors.
func mergePhasePolicy(chain []*Definition, phase Phase) Policy {
	var policy Policy
	for _, def := range chain {
		if pd, ok := def.Phases[phase]; ok {
			policy = pd.ResultHandling.Merge(policy)
		}
	}
	return policy
}

// collectSkips unions skip_steps across the chain. A descendant may skip
// steps contributed by any ancestor.
func collectSkips(chain []*Definition) map[string]bool {
	skip := make(map[string]bool)
	for _, def := range chain {
		for _, id := range def.SkipSteps {
			skip[id] = true
		}
	}
	return skip
}

func tagSteps(steps []Step, source string) []Step {
	tagged := make([]Step, len(steps))
	for i, step := range steps {
		step.Source = source
		tagged[i] = step
	}
	return tagged
}

func checkDuplicates(workflowID string, phase Phase, steps []Step) error {
	seen := make(map[string]string, len(steps))
	for _, step := range steps {
		if prev, dup := seen[step.ID]; dup {
			return fmt.Errorf("%w: workflow %s phase %s step %q (from %s and %s)",
				ErrDuplicateStepID, workflowID, phase, step.ID, prev, step.Source)
		}
		seen[step.ID] = step.Source
	}
	return nil
}

// validateResolution catches silent merge failures: a definition that
// extends another must end up with at least one step somewhere.
func validateResolution(resolved *Resolved) error {
	if len(resolved.Chain) <= 1 {
		return nil
	}
	if resolved.TotalSteps() == 0 {
		return fmt.Errorf("%w: workflow %s (chain %s)",
			ErrEmptyResolution, resolved.ID, strings.Join(resolved.Chain, " -> "))
	}
	return nil
}
