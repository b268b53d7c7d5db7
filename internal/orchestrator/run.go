package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boshu2/orc/internal/approval"
	"github.com/boshu2/orc/internal/eventlog"
	"github.com/boshu2/orc/internal/executor"
	"github.com/boshu2/orc/internal/handler"
	"github.com/boshu2/orc/internal/recovery"
	"github.com/boshu2/orc/internal/runstate"
	"github.com/boshu2/orc/internal/workflow"
)

// Start resolves the workflow, creates the run, and drives it until it
// completes, fails, or suspends. Configuration errors surface before any
// state exists on disk.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (Result, error) {
	resolved, err := o.resolver.Resolve(opts.WorkflowID)
	if err != nil {
		return Result{}, err
	}

	runID := newRunID()
	phases := make([]string, 0, len(workflow.Phases))
	for _, p := range workflow.Phases {
		phases = append(phases, string(p))
	}
	state := runstate.New(runID, opts.WorkflowID, phases)
	state.WorkID = opts.WorkID
	state.Target = opts.Target
	sessionID := newSessionID()
	state.Sessions.CurrentSessionID = sessionID
	state.Sessions.SessionHistory = []runstate.Session{{SessionID: sessionID, StartedAt: nowRFC3339()}}

	if err := o.store.Create(state); err != nil {
		return Result{}, err
	}
	if err := o.registry.Put(runstate.RegistryEntry{
		RunID:      runID,
		WorkflowID: opts.WorkflowID,
		Status:     runstate.StatusPending,
		UpdatedAt:  nowRFC3339(),
	}); err != nil {
		return Result{}, fmt.Errorf("register run: %w", err)
	}

	detach := o.attachRunLogger(o.store.RunDir(runID))
	defer detach()

	log := eventlog.Open(o.store.RunDir(runID))
	if _, err := log.AppendTyped(eventlog.TypeRunCreated, "", "", "", fmt.Sprintf("run created for workflow %s", opts.WorkflowID), map[string]string{
		"workflow_id": opts.WorkflowID,
		"work_id":     opts.WorkID,
		"target":      opts.Target,
		"session_id":  sessionID,
	}); err != nil {
		return Result{}, err
	}
	state, err = o.setStatus(runID, runstate.StatusInProgress)
	if err != nil {
		return Result{}, err
	}

	o.log.Info("run started", "run_id", runID, "workflow_id", opts.WorkflowID, "session_id", sessionID)
	return o.loop(ctx, state, resolved, log, o.baseContext(state, opts.Args))
}

// Resume re-enters a suspended run. The workflow is resolved fresh and the
// persisted resume position re-validated against it, since definitions may
// have changed between pause and resume.
func (o *Orchestrator) Resume(ctx context.Context, runID string, args map[string]string) (Result, error) {
	state, err := o.store.Read(runID)
	if err != nil {
		return Result{}, err
	}
	if state.Status.Terminal() {
		return Result{}, fmt.Errorf("%w: run %s is %s", ErrNotResumable, runID, state.Status)
	}
	if !state.Status.Suspended() && state.Status != runstate.StatusInProgress {
		return Result{}, fmt.Errorf("%w: run %s is %s", ErrNotResumable, runID, state.Status)
	}

	resolved, err := o.resolver.Resolve(state.WorkflowID)
	if err != nil {
		return Result{}, err
	}
	if err := validateResumePoint(state, resolved); err != nil {
		return Result{}, err
	}

	detach := o.attachRunLogger(o.store.RunDir(runID))
	defer detach()

	log := eventlog.Open(o.store.RunDir(runID))
	sessionID := newSessionID()
	if _, err := log.AppendTyped(eventlog.TypeRunResumed, state.CurrentPhase, "", "", fmt.Sprintf("run resumed from %s", state.Status), map[string]string{
		"session_id": sessionID,
	}); err != nil {
		return Result{}, err
	}
	state, err = o.update(runID, func(s *runstate.RunState) error {
		s.Status = runstate.StatusInProgress
		s.Sessions.CurrentSessionID = sessionID
		s.Sessions.SessionHistory = append(s.Sessions.SessionHistory, runstate.Session{SessionID: sessionID, StartedAt: nowRFC3339()})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if err := o.registry.SetStatus(runID, runstate.StatusInProgress); err != nil {
		return Result{}, fmt.Errorf("register run: %w", err)
	}

	o.log.Info("run resumed", "run_id", runID, "phase", state.CurrentPhase, "session_id", sessionID)
	return o.loop(ctx, state, resolved, log, o.baseContext(state, args))
}

// Pause suspends an in-progress run from outside the loop.
func (o *Orchestrator) Pause(runID, reason string) (Result, error) {
	state, err := o.store.Read(runID)
	if err != nil {
		return Result{}, err
	}
	if state.Status.Terminal() || state.Status.Suspended() {
		return Result{}, fmt.Errorf("run %s is %s and cannot be paused", runID, state.Status)
	}
	log := eventlog.Open(o.store.RunDir(runID))
	return o.suspend(log, state, runstate.StatusPaused, reason)
}

// Abort terminates a run. Aborted runs are never resumable.
func (o *Orchestrator) Abort(runID, reason string) (Result, error) {
	state, err := o.store.Read(runID)
	if err != nil {
		return Result{}, err
	}
	if state.Status.Terminal() {
		return Result{}, fmt.Errorf("run %s is already %s", runID, state.Status)
	}
	log := eventlog.Open(o.store.RunDir(runID))
	if reason == "" {
		reason = "aborted by operator"
	}
	if _, err := log.AppendTyped(eventlog.TypeRunAborted, state.CurrentPhase, "", "", reason, nil); err != nil {
		return Result{}, err
	}
	state, err = o.update(runID, func(s *runstate.RunState) error {
		s.Status = runstate.StatusAborted
		endSession(s, string(runstate.StatusAborted))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if err := o.registry.SetStatus(runID, runstate.StatusAborted); err != nil {
		return Result{}, fmt.Errorf("register run: %w", err)
	}
	return Result{RunID: runID, Status: runstate.StatusAborted, Message: reason}, nil
}

// loop advances phases and steps until the run reaches a terminal status
// or a suspension point. Each transition appends its event before the
// state write that records it.
func (o *Orchestrator) loop(ctx context.Context, state *runstate.RunState, resolved *workflow.Resolved, log *eventlog.Log, ec executor.Context) (Result, error) {
	runID := state.RunID
	gate := o.gate(log)

	phaseIdx := 0
	if state.CurrentPhase != "" {
		if i := workflow.PhaseIndex(workflow.Phase(state.CurrentPhase)); i >= 0 {
			phaseIdx = i
		}
	}

	for phaseIdx < len(workflow.Phases) {
		phase := workflow.Phases[phaseIdx]
		steps := resolved.Steps[phase]
		ps := state.Phase(string(phase))

		if ps.Status == runstate.PhaseCompleted {
			phaseIdx++
			continue
		}

		if len(steps) == 0 {
			if _, err := log.AppendTyped(eventlog.TypePhaseCompleted, string(phase), "", "", fmt.Sprintf("phase %s has no steps", phase), nil); err != nil {
				return Result{}, err
			}
			var err error
			state, err = o.update(runID, func(s *runstate.RunState) error {
				s.Phase(string(phase)).Status = runstate.PhaseCompleted
				return nil
			})
			if err != nil {
				return Result{}, err
			}
			phaseIdx++
			continue
		}

		if ps.Status == runstate.PhasePending {
			if resolved.ApprovalPhases[phase] {
				if _, err := gate.RecordDecisionPoint(phase, ""); err != nil {
					return Result{}, err
				}
			}
			if _, err := log.AppendTyped(eventlog.TypePhaseStarted, string(phase), "", "", fmt.Sprintf("phase %s started", phase), nil); err != nil {
				return Result{}, err
			}
			var err error
			state, err = o.update(runID, func(s *runstate.RunState) error {
				s.CurrentPhase = string(phase)
				s.Phase(string(phase)).Status = runstate.PhaseInProgress
				return nil
			})
			if err != nil {
				return Result{}, err
			}
			ps = state.Phase(string(phase))
		}

		if resolved.ApprovalPhases[phase] && len(ps.StepsCompleted) == 0 {
			if err := gate.Require(phase); err != nil {
				if errors.Is(err, approval.ErrApprovalRequired) || errors.Is(err, approval.ErrStaleApproval) {
					return o.suspend(log, state, runstate.StatusPaused, err.Error())
				}
				return Result{}, err
			}
		}

	stepLoop:
		for ps.CurrentStepIndex < len(steps) {
			if ctx.Err() != nil {
				return o.suspend(log, state, runstate.StatusPaused, "execution context canceled")
			}
			if o.killSwitchEngaged() {
				return o.abortForKillSwitch(log, state)
			}

			step := steps[ps.CurrentStepIndex]
			if _, err := log.AppendTyped(eventlog.TypeStepStarted, string(phase), step.ID, "", fmt.Sprintf("step %s started", step.ID), nil); err != nil {
				return Result{}, err
			}
			o.log.Info("step started", "run_id", runID, "phase", phase, "step", step.ID)

			env, err := o.runner.Execute(ctx, step, ec)
			if err != nil {
				// Pre-run validation failure: the step never ran and no
				// policy can route it. Fatal for the run.
				return o.failRun(log, state, phase, step.ID, err.Error(), err)
			}

			policy := handler.ResolvePolicy(step, resolved, phase)
			decision, err := o.handler.Handle(step, env, policy)
			if err != nil {
				return Result{}, fmt.Errorf("handle step %s result: %w", step.ID, err)
			}

			switch decision.Action {
			case handler.ActionAdvance:
				state, err = o.advanceStep(log, state, phase, step, env, decision)
				if err != nil {
					return Result{}, err
				}
				ps = state.Phase(string(phase))

			case handler.ActionPause:
				// A successful step pauses after its completion is
				// recorded; a degraded one pauses in place so the
				// operator can fix and re-run it.
				if env.Status == executor.StatusSuccess {
					state, err = o.advanceStep(log, state, phase, step, env, decision)
					if err != nil {
						return Result{}, err
					}
				}
				return o.suspend(log, state, runstate.StatusPaused, decision.Reason)

			case handler.ActionWaitInput:
				return o.suspend(log, state, runstate.StatusPendingInput, decision.Reason)

			case handler.ActionStop:
				return o.failRun(log, state, phase, step.ID, envSummary(env), nil)

			case handler.ActionRecover:
				outcome, newState, result, done, err := o.runRecovery(ctx, log, state, resolved, phase, step, env, decision)
				if err != nil || done {
					return result, err
				}
				state = newState
				ps = state.Phase(string(phase))
				if outcome.Action == recovery.ActionGotoStep && workflow.PhaseIndex(outcome.ResumePhase) != phaseIdx {
					// Redirected to another phase; the outer loop picks
					// the cursor back up from CurrentPhase.
					break stepLoop
				}
				continue stepLoop

			default:
				return Result{}, fmt.Errorf("unknown decision action %q for step %s", decision.Action, step.ID)
			}
		}

		if workflow.PhaseIndex(workflow.Phase(state.CurrentPhase)) != phaseIdx {
			phaseIdx = workflow.PhaseIndex(workflow.Phase(state.CurrentPhase))
			continue
		}

		if _, err := log.AppendTyped(eventlog.TypePhaseCompleted, string(phase), "", "", fmt.Sprintf("phase %s completed", phase), nil); err != nil {
			return Result{}, err
		}
		var err error
		state, err = o.update(runID, func(s *runstate.RunState) error {
			s.Phase(string(phase)).Status = runstate.PhaseCompleted
			return nil
		})
		if err != nil {
			return Result{}, err
		}
		o.log.Info("phase completed", "run_id", runID, "phase", phase)
		phaseIdx++
	}

	if _, err := log.AppendTyped(eventlog.TypeRunCompleted, "", "", "", "all phases completed", nil); err != nil {
		return Result{}, err
	}
	state, err := o.update(runID, func(s *runstate.RunState) error {
		s.Status = runstate.StatusCompleted
		endSession(s, string(runstate.StatusCompleted))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if err := o.registry.SetStatus(runID, runstate.StatusCompleted); err != nil {
		return Result{}, fmt.Errorf("register run: %w", err)
	}
	o.log.Info("run completed", "run_id", runID)
	return Result{RunID: runID, Status: runstate.StatusCompleted, Message: "all phases completed"}, nil
}

// advanceStep records a step's terminal outcome and moves the cursor. An
// overridden failure advances only after the override itself is logged.
func (o *Orchestrator) advanceStep(log *eventlog.Log, state *runstate.RunState, phase workflow.Phase, step workflow.Step, env executor.Envelope, decision handler.Decision) (*runstate.RunState, error) {
	if decision.Overridden {
		if _, err := log.AppendTyped(eventlog.TypeUserOverride, string(phase), step.ID, env.Status, decision.Reason, nil); err != nil {
			return nil, err
		}
		o.log.Warn("user override", "run_id", state.RunID, "phase", phase, "step", step.ID, "reason", decision.Reason)
	}

	eventType := eventlog.TypeStepCompleted
	switch env.Status {
	case executor.StatusWarning:
		eventType = eventlog.TypeStepWarning
	case executor.StatusFailure:
		eventType = eventlog.TypeStepFailed
	}
	if _, err := log.AppendTyped(eventType, string(phase), step.ID, env.Status, env.Message, map[string]any{
		"warnings": env.Warnings,
		"errors":   env.Errors,
	}); err != nil {
		return nil, err
	}

	return o.update(state.RunID, func(s *runstate.RunState) error {
		ps := s.Phase(string(phase))
		ps.StepsCompleted = append(ps.StepsCompleted, step.ID)
		ps.CurrentStepIndex++
		if len(env.Details) > 0 {
			if s.Artifacts == nil {
				s.Artifacts = make(map[string]any)
			}
			s.Artifacts[string(phase)+"/"+step.ID] = env.Details
		}
		return nil
	})
}

// runRecovery drives one handler invocation and plan application. done
// reports that the run reached a terminal or suspended result.
func (o *Orchestrator) runRecovery(ctx context.Context, log *eventlog.Log, state *runstate.RunState, resolved *workflow.Resolved, phase workflow.Phase, step workflow.Step, env executor.Envelope, decision handler.Decision) (recovery.Outcome, *runstate.RunState, Result, bool, error) {
	runID := state.RunID
	category := o.handler.Rules.Categorize(envSummary(env))

	if _, err := log.AppendTyped(eventlog.TypeRecoveryInvoked, string(phase), step.ID, env.Status, fmt.Sprintf("invoking recovery handler %s", decision.HandlerRef), map[string]string{
		"handler":  decision.HandlerRef,
		"category": category,
	}); err != nil {
		return recovery.Outcome{}, nil, Result{}, false, err
	}

	req := recovery.Request{
		WorkID:     state.WorkID,
		RunID:      runID,
		Phase:      string(phase),
		Step:       step.ID,
		HandlerRef: decision.HandlerRef,
		Error:      envSummary(env),
		Category:   category,
		RetryCount: state.StepRetries[runstate.RetryKey(string(phase), step.ID)],
	}
	cf, err := recovery.WriteContext(o.store.RunDir(runID), req)
	if err == nil {
		req.ContextPath = cf.Path
		defer cf.CleanupAfter(recovery.ContextFileDelay)
	}

	plan := o.recovery.RequestPlan(ctx, req)

	if decision.Informational {
		// Success-path handlers advise; the step advances regardless.
		if _, err := log.AppendTyped(eventlog.TypeRecoveryApplied, string(phase), step.ID, "", "informational handler consulted", map[string]string{"handler": decision.HandlerRef, "action": plan.Action}); err != nil {
			return recovery.Outcome{}, nil, Result{}, false, err
		}
		newState, err := o.advanceStep(log, state, phase, step, env, handler.Decision{Action: handler.ActionAdvance})
		if err != nil {
			return recovery.Outcome{}, nil, Result{}, false, err
		}
		// The cursor already advanced; retry here just re-enters the loop.
		return recovery.Outcome{Action: recovery.ActionRetry}, newState, Result{}, false, nil
	}

	if err := plan.Validate(resolved); err != nil {
		result, ferr := o.failRun(log, state, phase, step.ID, fmt.Sprintf("recovery plan rejected: %v", err), nil)
		return recovery.Outcome{}, nil, result, true, ferr
	}

	if plan.RequiresApproval {
		// The plan is applied only on the strength of an approval newer
		// than the last decision point. In auto mode the gate grants and
		// records it; otherwise the run parks until an operator does.
		gate := o.gate(log)
		if err := gate.Require(phase); err != nil {
			if !errors.Is(err, approval.ErrApprovalRequired) && !errors.Is(err, approval.ErrStaleApproval) {
				return recovery.Outcome{}, nil, Result{}, false, err
			}
			if _, derr := gate.RecordDecisionPoint(phase, fmt.Sprintf("recovery plan %s for step %s requires approval", plan.Action, step.ID)); derr != nil {
				return recovery.Outcome{}, nil, Result{}, false, derr
			}
			result, serr := o.suspend(log, state, runstate.StatusPaused,
				fmt.Sprintf("recovery plan (%s) for step %s requires approval", plan.Action, step.ID))
			return recovery.Outcome{}, nil, result, true, serr
		}
	}

	if _, err := log.AppendTyped(eventlog.TypeRecoveryApplied, string(phase), step.ID, "", fmt.Sprintf("applying recovery plan: %s", plan.Action), map[string]string{
		"handler":      decision.HandlerRef,
		"action":       plan.Action,
		"target_phase": plan.TargetPhase,
		"target_step":  plan.TargetStep,
		"rationale":    plan.Rationale,
	}); err != nil {
		return recovery.Outcome{}, nil, Result{}, false, err
	}

	var outcome recovery.Outcome
	newState, err := o.update(runID, func(s *runstate.RunState) error {
		out, applyErr := o.recovery.Apply(plan, s, resolved, phase, step.ID)
		outcome = out
		return applyErr
	})
	if err != nil {
		if errors.Is(err, recovery.ErrAttemptLimitExceeded) || errors.Is(err, recovery.ErrInvalidPlan) || errors.Is(err, recovery.ErrUnknownStep) {
			result, ferr := o.failRun(log, state, phase, step.ID, err.Error(), nil)
			return recovery.Outcome{}, nil, result, true, ferr
		}
		return recovery.Outcome{}, nil, Result{}, false, err
	}

	if outcome.Action == recovery.ActionGotoStep {
		if _, err := log.AppendTyped(eventlog.TypePhaseReset, plan.TargetPhase, plan.TargetStep, "", fmt.Sprintf("recovery redirected run to %s/%s", plan.TargetPhase, plan.TargetStep), nil); err != nil {
			return recovery.Outcome{}, nil, Result{}, false, err
		}
	}

	if outcome.Action == recovery.ActionStop {
		result, ferr := o.failRun(log, newState, phase, step.ID, envSummary(env), nil)
		return outcome, newState, result, true, ferr
	}

	o.log.Info("recovery applied", "run_id", runID, "action", outcome.Action, "attempt", outcome.Attempt)
	return outcome, newState, Result{}, false, nil
}

// suspend records a suspension event and parks the run in a resumable
// status.
func (o *Orchestrator) suspend(log *eventlog.Log, state *runstate.RunState, status runstate.Status, reason string) (Result, error) {
	eventType := eventlog.TypeRunPaused
	if status == runstate.StatusPendingInput {
		eventType = eventlog.TypeRunPendingInput
	}
	if reason == "" {
		reason = "run suspended"
	}
	if _, err := log.AppendTyped(eventType, state.CurrentPhase, "", "", reason, nil); err != nil {
		return Result{}, err
	}
	newState, err := o.update(state.RunID, func(s *runstate.RunState) error {
		s.Status = status
		endSession(s, string(status))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if err := o.registry.SetStatus(state.RunID, status); err != nil {
		return Result{}, fmt.Errorf("register run: %w", err)
	}
	o.log.Info("run suspended", "run_id", state.RunID, "status", status, "reason", reason)
	return Result{RunID: state.RunID, Status: status, Phase: workflow.Phase(newState.CurrentPhase), Message: reason}, nil
}

// failRun records the failure point and parks the run as failed. execErr,
// when non-nil, is returned to the caller after state is persisted.
func (o *Orchestrator) failRun(log *eventlog.Log, state *runstate.RunState, phase workflow.Phase, stepID, message string, execErr error) (Result, error) {
	if _, err := log.AppendTyped(eventlog.TypeStepFailed, string(phase), stepID, executor.StatusFailure, message, nil); err != nil {
		return Result{}, err
	}
	if _, err := log.AppendTyped(eventlog.TypeRunFailed, string(phase), stepID, "", fmt.Sprintf("run failed at %s/%s: %s", phase, stepID, message), nil); err != nil {
		return Result{}, err
	}
	_, err := o.update(state.RunID, func(s *runstate.RunState) error {
		s.Status = runstate.StatusFailed
		s.Phase(string(phase)).Status = runstate.PhaseFailed
		s.FailedAt = &runstate.FailurePoint{Phase: string(phase), Step: stepID, Error: message}
		endSession(s, string(runstate.StatusFailed))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if err := o.registry.SetStatus(state.RunID, runstate.StatusFailed); err != nil {
		return Result{}, fmt.Errorf("register run: %w", err)
	}
	o.log.Error("run failed", "run_id", state.RunID, "phase", phase, "step", stepID, "error", message)
	return Result{RunID: state.RunID, Status: runstate.StatusFailed, Phase: phase, Step: stepID, Message: message}, execErr
}

func (o *Orchestrator) abortForKillSwitch(log *eventlog.Log, state *runstate.RunState) (Result, error) {
	reason := fmt.Sprintf("kill switch file %s present", o.killFile)
	if _, err := log.AppendTyped(eventlog.TypeRunAborted, state.CurrentPhase, "", "", reason, nil); err != nil {
		return Result{}, err
	}
	_, err := o.update(state.RunID, func(s *runstate.RunState) error {
		s.Status = runstate.StatusAborted
		endSession(s, string(runstate.StatusAborted))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if err := o.registry.SetStatus(state.RunID, runstate.StatusAborted); err != nil {
		return Result{}, fmt.Errorf("register run: %w", err)
	}
	o.log.Warn("run aborted by kill switch", "run_id", state.RunID)
	return Result{RunID: state.RunID, Status: runstate.StatusAborted, Message: reason}, ErrKillSwitch
}

// setStatus transitions the run status, keeping the registry in step.
func (o *Orchestrator) setStatus(runID string, status runstate.Status) (*runstate.RunState, error) {
	state, err := o.update(runID, func(s *runstate.RunState) error {
		s.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := o.registry.SetStatus(runID, status); err != nil {
		return nil, fmt.Errorf("register run: %w", err)
	}
	return state, nil
}

func (o *Orchestrator) update(runID string, mutate func(*runstate.RunState) error) (*runstate.RunState, error) {
	return o.store.Update(runID, mutate)
}

// baseContext builds the placeholder resolution context for a run.
func (o *Orchestrator) baseContext(state *runstate.RunState, args map[string]string) executor.Context {
	values := map[string]string{
		"run_id": state.RunID,
	}
	if state.WorkID != "" {
		values["work_id"] = state.WorkID
	}
	if state.Target != "" {
		values["target"] = state.Target
	}
	for k, v := range args {
		values[k] = v
	}
	return executor.NewContext(values)
}

// validateResumePoint checks the persisted cursor against the freshly
// resolved workflow.
func validateResumePoint(state *runstate.RunState, resolved *workflow.Resolved) error {
	if state.CurrentPhase == "" {
		return nil
	}
	phase := workflow.Phase(state.CurrentPhase)
	if !phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrResumePointInvalid, state.CurrentPhase)
	}
	steps := resolved.Steps[phase]
	ps := state.Phase(state.CurrentPhase)
	if ps.CurrentStepIndex > len(steps) {
		return fmt.Errorf("%w: phase %s has %d steps but run is at index %d (workflow changed?); steps: %s",
			ErrResumePointInvalid, phase, len(steps), ps.CurrentStepIndex, strings.Join(resolved.StepIDs(phase), ", "))
	}
	return nil
}

// envSummary condenses an envelope into the error text shown to operators
// and fed to rule categorization.
func envSummary(env executor.Envelope) string {
	parts := make([]string, 0, 1+len(env.Errors))
	if env.Message != "" {
		parts = append(parts, env.Message)
	}
	parts = append(parts, env.Errors...)
	if len(parts) == 0 {
		return "step reported " + env.Status
	}
	return strings.Join(parts, "; ")
}

// endSession closes the current session entry with an outcome.
func endSession(s *runstate.RunState, outcome string) {
	now := nowRFC3339()
	for i := range s.Sessions.SessionHistory {
		if s.Sessions.SessionHistory[i].SessionID == s.Sessions.CurrentSessionID {
			s.Sessions.SessionHistory[i].EndedAt = now
			s.Sessions.SessionHistory[i].Outcome = outcome
		}
	}
	s.Sessions.CurrentSessionID = ""
}
