package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/boshu2/orc/internal/approval"
	"github.com/boshu2/orc/internal/eventlog"
	"github.com/boshu2/orc/internal/executor"
	"github.com/boshu2/orc/internal/handler"
	"github.com/boshu2/orc/internal/recovery"
	"github.com/boshu2/orc/internal/runstate"
	"github.com/boshu2/orc/internal/workflow"
)

// scriptRunner serves scripted envelopes per step id and defaults to
// success, recording the execution order.
type scriptRunner struct {
	mu       sync.Mutex
	outcomes map[string][]executor.Envelope
	calls    []string
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{outcomes: make(map[string][]executor.Envelope)}
}

func (r *scriptRunner) script(stepID string, envs ...executor.Envelope) {
	r.outcomes[stepID] = append(r.outcomes[stepID], envs...)
}

func (r *scriptRunner) Execute(_ context.Context, step workflow.Step, _ executor.Context) (executor.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, step.ID)
	queue := r.outcomes[step.ID]
	if len(queue) == 0 {
		return executor.Envelope{Status: executor.StatusSuccess, Message: step.ID + " ok"}, nil
	}
	env := queue[0]
	r.outcomes[step.ID] = queue[1:]
	return env, nil
}

// choosingPrompter answers every question with a fixed choice id.
type choosingPrompter struct{ answer string }

func (p choosingPrompter) Choose(_ string, _ []handler.Choice, _ string) (string, error) {
	return p.answer, nil
}

type fixture struct {
	base     string
	store    *runstate.Store
	registry *runstate.Registry
	source   workflow.MapSource
	runner   *scriptRunner
}

func newFixture(t *testing.T, def *workflow.Definition) *fixture {
	t.Helper()
	base := t.TempDir()
	return &fixture{
		base:     base,
		store:    runstate.NewStore(base),
		registry: runstate.NewRegistry(base),
		source:   workflow.MapSource{def.ID: def},
		runner:   newScriptRunner(),
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	return New(f.store, f.registry, workflow.NewResolver(f.source), f.runner, handler.New(nil, nil), opts...)
}

func basicDefinition() *workflow.Definition {
	return &workflow.Definition{
		ID: "default",
		Phases: map[workflow.Phase]workflow.PhaseDef{
			workflow.PhaseFrame: {Steps: []workflow.Step{
				{ID: "frame-work", Prompt: "frame the work"},
			}},
			workflow.PhaseBuild: {Steps: []workflow.Step{
				{ID: "plan", Prompt: "plan the change"},
				{ID: "implement", Prompt: "implement the plan"},
			}},
			workflow.PhaseEvaluate: {Steps: []workflow.Step{
				{ID: "run-tests", Command: "make test"},
			}},
		},
	}
}

func TestRunCompletesAllPhases(t *testing.T) {
	f := newFixture(t, basicDefinition())
	f.runner.script("run-tests", executor.Envelope{
		Status:  executor.StatusSuccess,
		Message: "all tests pass",
		Details: map[string]any{"tests_run": float64(12)},
	})
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default", WorkID: "issue-42"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusCompleted {
		t.Fatalf("result status = %s, want completed", result.Status)
	}

	state, err := f.store.Read(result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != runstate.StatusCompleted {
		t.Fatalf("persisted status = %s, want completed", state.Status)
	}
	for _, phase := range workflow.Phases {
		if got := state.Phase(string(phase)).Status; got != runstate.PhaseCompleted {
			t.Errorf("phase %s status = %s, want completed", phase, got)
		}
	}
	if got := state.Phase("build").StepsCompleted; len(got) != 2 || got[0] != "plan" || got[1] != "implement" {
		t.Fatalf("build steps completed = %v", got)
	}
	artifact, ok := state.Artifacts["evaluate/run-tests"].(map[string]any)
	if !ok || artifact["tests_run"] != float64(12) {
		t.Fatalf("artifacts = %v, want evaluate/run-tests details recorded", state.Artifacts)
	}

	events, err := eventlog.Open(f.store.RunDir(result.RunID)).Events()
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Type != eventlog.TypeRunCreated {
		t.Fatalf("first event = %s, want run_created", events[0].Type)
	}
	if events[len(events)-1].Type != eventlog.TypeRunCompleted {
		t.Fatalf("last event = %s, want run_completed", events[len(events)-1].Type)
	}

	entry, err := f.registry.Get(result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != runstate.StatusCompleted {
		t.Fatalf("registry status = %s, want completed", entry.Status)
	}
}

func TestFailureStopsRunWithFailurePoint(t *testing.T) {
	f := newFixture(t, basicDefinition())
	f.runner.script("implement", executor.Envelope{Status: executor.StatusFailure, Message: "compile error"})
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusFailed {
		t.Fatalf("result status = %s, want failed", result.Status)
	}

	state, err := f.store.Read(result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if state.FailedAt == nil || state.FailedAt.Phase != "build" || state.FailedAt.Step != "implement" {
		t.Fatalf("failed_at = %+v", state.FailedAt)
	}
	if state.Phase("evaluate").Status != runstate.PhasePending {
		t.Fatal("later phase should never have started")
	}

	log := eventlog.Open(f.store.RunDir(result.RunID))
	if _, found, _ := log.LastOfType(eventlog.TypeRunFailed, ""); !found {
		t.Fatal("run_failed event missing")
	}
	if _, found, _ := log.LastOfType(eventlog.TypeStepFailed, "build"); !found {
		t.Fatal("step_failed event missing")
	}
}

func TestFailureOverrideContinues(t *testing.T) {
	f := newFixture(t, basicDefinition())
	f.runner.script("plan", executor.Envelope{Status: executor.StatusFailure, Message: "flaky"})
	o := New(f.store, f.registry, workflow.NewResolver(f.source), f.runner,
		handler.New(choosingPrompter{answer: "continue"}, nil))

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusCompleted {
		t.Fatalf("result status = %s, want completed after override", result.Status)
	}

	log := eventlog.Open(f.store.RunDir(result.RunID))
	if _, found, _ := log.LastOfType(eventlog.TypeUserOverride, "build"); !found {
		t.Fatal("user_override event missing: failures continue only with an audited override")
	}
}

func TestRecoveryRetry(t *testing.T) {
	def := basicDefinition()
	def.ResultHandling = workflow.Policy{OnFailure: "fix-tests"}
	f := newFixture(t, def)
	f.runner.script("run-tests",
		executor.Envelope{Status: executor.StatusFailure, Message: "2 tests failed"})

	ctrl := recovery.NewController(&stubInvoker{plan: recovery.Plan{Action: recovery.ActionRetry, Rationale: "flaky suite"}})
	o := f.orchestrator(WithRecovery(ctrl))

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusCompleted {
		t.Fatalf("result status = %s, want completed after retry", result.Status)
	}

	state, _ := f.store.Read(result.RunID)
	if got := state.StepRetries[runstate.RetryKey("evaluate", "run-tests")]; got != 1 {
		t.Fatalf("retry counter = %d, want 1", got)
	}
	if len(state.RecoveryHistory) != 1 || state.RecoveryHistory[0].Action != recovery.ActionRetry {
		t.Fatalf("recovery history = %+v", state.RecoveryHistory)
	}

	executions := 0
	for _, call := range f.runner.calls {
		if call == "run-tests" {
			executions++
		}
	}
	if executions != 2 {
		t.Fatalf("run-tests executed %d times, want 2", executions)
	}
}

func TestRecoveryGotoStepRewindsRun(t *testing.T) {
	def := basicDefinition()
	def.ResultHandling = workflow.Policy{OnFailure: "fix-build"}
	f := newFixture(t, def)
	f.runner.script("run-tests",
		executor.Envelope{Status: executor.StatusFailure, Message: "tests exposed a design gap"})

	ctrl := recovery.NewController(&stubInvoker{plan: recovery.Plan{
		Action:      recovery.ActionGotoStep,
		TargetPhase: "build",
		TargetStep:  "implement",
		Rationale:   "rework the implementation",
	}})
	o := f.orchestrator(WithRecovery(ctrl))

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusCompleted {
		t.Fatalf("result status = %s, want completed", result.Status)
	}

	state, _ := f.store.Read(result.RunID)
	if len(state.RecoveryHistory) != 1 {
		t.Fatalf("recovery history length = %d, want 1", len(state.RecoveryHistory))
	}
	rec := state.RecoveryHistory[0]
	if rec.Action != recovery.ActionGotoStep || rec.TargetStep != "implement" {
		t.Fatalf("recovery record = %+v", rec)
	}

	implementRuns, testRuns := 0, 0
	for _, call := range f.runner.calls {
		switch call {
		case "implement":
			implementRuns++
		case "run-tests":
			testRuns++
		}
	}
	if implementRuns != 2 || testRuns != 2 {
		t.Fatalf("implement ran %d times and run-tests %d times, want 2 and 2", implementRuns, testRuns)
	}

	log := eventlog.Open(f.store.RunDir(result.RunID))
	if _, found, _ := log.LastOfType(eventlog.TypePhaseReset, "build"); !found {
		t.Fatal("phase_reset event missing")
	}
}

func TestWarningFixPausesStepInPlace(t *testing.T) {
	def := basicDefinition()
	phases := def.Phases
	evalDef := phases[workflow.PhaseEvaluate]
	evalDef.Steps[0].ResultHandling = workflow.Policy{OnWarning: workflow.ActionStop}
	phases[workflow.PhaseEvaluate] = evalDef
	f := newFixture(t, def)
	f.runner.script("run-tests", executor.Envelope{Status: executor.StatusWarning, Message: "coverage dropped"})
	o := New(f.store, f.registry, workflow.NewResolver(f.source), f.runner,
		handler.New(choosingPrompter{answer: "fix"}, nil))

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusPaused {
		t.Fatalf("result status = %s, want paused", result.Status)
	}

	state, _ := f.store.Read(result.RunID)
	ps := state.Phase("evaluate")
	if ps.CurrentStepIndex != 0 || len(ps.StepsCompleted) != 0 {
		t.Fatalf("fix must pause before the step completes: index=%d completed=%v", ps.CurrentStepIndex, ps.StepsCompleted)
	}

	// The fixed step runs again on resume, this time cleanly.
	resumed, err := o.Resume(context.Background(), result.RunID, nil)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != runstate.StatusCompleted {
		t.Fatalf("resumed status = %s, want completed", resumed.Status)
	}
	testRuns := 0
	for _, call := range f.runner.calls {
		if call == "run-tests" {
			testRuns++
		}
	}
	if testRuns != 2 {
		t.Fatalf("run-tests executed %d times, want 2 (warning run plus fixed run)", testRuns)
	}
}

func TestRecoveryPlanRequiringApprovalParksRun(t *testing.T) {
	def := basicDefinition()
	def.ResultHandling = workflow.Policy{OnFailure: "fix-tests"}
	f := newFixture(t, def)
	f.runner.script("run-tests",
		executor.Envelope{Status: executor.StatusFailure, Message: "2 tests failed"})

	ctrl := recovery.NewController(&stubInvoker{plan: recovery.Plan{
		Action:           recovery.ActionRetry,
		Rationale:        "flaky suite",
		RequiresApproval: true,
	}})
	o := f.orchestrator(WithRecovery(ctrl))

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusPaused {
		t.Fatalf("result status = %s, want paused awaiting approval", result.Status)
	}

	state, _ := f.store.Read(result.RunID)
	if len(state.RecoveryHistory) != 0 {
		t.Fatalf("plan applied before approval: %+v", state.RecoveryHistory)
	}
	log := eventlog.Open(f.store.RunDir(result.RunID))
	if _, found, _ := log.LastOfType(eventlog.TypeDecisionPoint, "evaluate"); !found {
		t.Fatal("decision_point event missing for the gated recovery")
	}

	// Approve, resume; the step fails again and the now-approved plan
	// retries it, succeeding on the third execution.
	gate := approval.NewGate(log)
	if _, err := gate.Grant(workflow.PhaseEvaluate, "reviewer", "retry approved"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	f.runner.script("run-tests",
		executor.Envelope{Status: executor.StatusFailure, Message: "2 tests failed"})

	resumed, err := o.Resume(context.Background(), result.RunID, nil)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != runstate.StatusCompleted {
		t.Fatalf("resumed status = %s, want completed", resumed.Status)
	}

	final, _ := f.store.Read(result.RunID)
	if len(final.RecoveryHistory) != 1 || final.RecoveryHistory[0].Action != recovery.ActionRetry {
		t.Fatalf("recovery history = %+v", final.RecoveryHistory)
	}
	executions := 0
	for _, call := range f.runner.calls {
		if call == "run-tests" {
			executions++
		}
	}
	if executions != 3 {
		t.Fatalf("run-tests executed %d times, want 3", executions)
	}
}

func TestRecoveryPlanApprovalAutoModeProceeds(t *testing.T) {
	def := basicDefinition()
	def.ResultHandling = workflow.Policy{OnFailure: "fix-tests"}
	f := newFixture(t, def)
	f.runner.script("run-tests",
		executor.Envelope{Status: executor.StatusFailure, Message: "2 tests failed"})

	ctrl := recovery.NewController(&stubInvoker{plan: recovery.Plan{
		Action:           recovery.ActionRetry,
		RequiresApproval: true,
	}})
	o := f.orchestrator(WithRecovery(ctrl), WithDestructiveAuto(true))

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusCompleted {
		t.Fatalf("result status = %s, want completed", result.Status)
	}

	state, _ := f.store.Read(result.RunID)
	if len(state.RecoveryHistory) != 1 {
		t.Fatalf("recovery history = %+v, want the approved retry", state.RecoveryHistory)
	}
	log := eventlog.Open(f.store.RunDir(result.RunID))
	if _, found, _ := log.LastOfType(eventlog.TypeApprovalGranted, "evaluate"); !found {
		t.Fatal("auto-approved recovery must still record approval_granted")
	}
}

func TestPauseOnPromptAndIdempotentResume(t *testing.T) {
	def := basicDefinition()
	phases := def.Phases
	buildDef := phases[workflow.PhaseBuild]
	buildDef.Steps[0].ResultHandling = workflow.Policy{OnSuccess: workflow.ActionPrompt}
	phases[workflow.PhaseBuild] = buildDef
	f := newFixture(t, def)
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusPaused {
		t.Fatalf("result status = %s, want paused", result.Status)
	}

	state, _ := f.store.Read(result.RunID)
	if got := state.Phase("build").CurrentStepIndex; got != 1 {
		t.Fatalf("build index = %d, want 1 (prompt pauses after the step completed)", got)
	}

	resumed, err := o.Resume(context.Background(), result.RunID, nil)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != runstate.StatusCompleted {
		t.Fatalf("resumed status = %s, want completed", resumed.Status)
	}

	final, _ := f.store.Read(result.RunID)
	if got := final.Phase("build").StepsCompleted; len(got) != 2 || got[0] != "plan" || got[1] != "implement" {
		t.Fatalf("steps completed = %v, want each step exactly once", got)
	}
	planRuns := 0
	for _, call := range f.runner.calls {
		if call == "plan" {
			planRuns++
		}
	}
	if planRuns != 1 {
		t.Fatalf("plan executed %d times across pause/resume, want 1", planRuns)
	}

	log := eventlog.Open(f.store.RunDir(result.RunID))
	if _, found, _ := log.LastOfType(eventlog.TypeRunResumed, ""); !found {
		t.Fatal("run_resumed event missing")
	}
	if len(final.Sessions.SessionHistory) != 2 {
		t.Fatalf("session history length = %d, want 2", len(final.Sessions.SessionHistory))
	}
}

func TestPendingInputSuspendsRun(t *testing.T) {
	f := newFixture(t, basicDefinition())
	f.runner.script("frame-work", executor.Envelope{Status: executor.StatusPendingInput, Message: "need the issue link"})
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusPendingInput {
		t.Fatalf("result status = %s, want pending_input", result.Status)
	}

	state, _ := f.store.Read(result.RunID)
	if got := state.Phase("frame").CurrentStepIndex; got != 0 {
		t.Fatalf("frame index = %d, want 0 (step re-runs after input arrives)", got)
	}

	// The same step runs again on resume, this time to completion.
	resumed, err := o.Resume(context.Background(), result.RunID, map[string]string{"issue": "https://example.test/42"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != runstate.StatusCompleted {
		t.Fatalf("resumed status = %s, want completed", resumed.Status)
	}
}

func TestApprovalGateBlocksAndResumes(t *testing.T) {
	def := basicDefinition()
	def.Phases[workflow.PhaseRelease] = workflow.PhaseDef{
		RequiresApproval: true,
		Steps:            []workflow.Step{{ID: "ship", Skill: "release"}},
	}
	f := newFixture(t, def)
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusPaused {
		t.Fatalf("result status = %s, want paused at the release gate", result.Status)
	}
	for _, call := range f.runner.calls {
		if call == "ship" {
			t.Fatal("gated step ran without approval")
		}
	}

	log := eventlog.Open(f.store.RunDir(result.RunID))
	gate := approval.NewGate(log)
	if _, err := gate.Grant(workflow.PhaseRelease, "reviewer", "release reviewed"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	resumed, err := o.Resume(context.Background(), result.RunID, nil)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != runstate.StatusCompleted {
		t.Fatalf("resumed status = %s, want completed", resumed.Status)
	}
}

func TestApprovalAutoModeRunsStraightThrough(t *testing.T) {
	def := basicDefinition()
	def.Phases[workflow.PhaseRelease] = workflow.PhaseDef{
		RequiresApproval: true,
		Steps:            []workflow.Step{{ID: "ship", Skill: "release"}},
	}
	f := newFixture(t, def)
	o := f.orchestrator(WithDestructiveAuto(true))

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusCompleted {
		t.Fatalf("result status = %s, want completed", result.Status)
	}

	log := eventlog.Open(f.store.RunDir(result.RunID))
	if _, found, _ := log.LastOfType(eventlog.TypeApprovalGranted, "release"); !found {
		t.Fatal("auto-approval must still appear on the event trail")
	}
}

func TestKillSwitchAbortsBetweenSteps(t *testing.T) {
	f := newFixture(t, basicDefinition())
	killFile := filepath.Join(f.base, "KILL")
	if err := os.WriteFile(killFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	o := f.orchestrator(WithKillFile(killFile))

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if !errors.Is(err, ErrKillSwitch) {
		t.Fatalf("Start = %v, want ErrKillSwitch", err)
	}
	if result.Status != runstate.StatusAborted {
		t.Fatalf("result status = %s, want aborted", result.Status)
	}
	if len(f.runner.calls) != 0 {
		t.Fatalf("steps ran despite kill switch: %v", f.runner.calls)
	}
}

func TestResumeRejectsTerminalRun(t *testing.T) {
	f := newFixture(t, basicDefinition())
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = o.Resume(context.Background(), result.RunID, nil)
	if !errors.Is(err, ErrNotResumable) {
		t.Fatalf("Resume of completed run = %v, want ErrNotResumable", err)
	}
}

func TestResumeRevalidatesAgainstChangedWorkflow(t *testing.T) {
	def := basicDefinition()
	phases := def.Phases
	buildDef := phases[workflow.PhaseBuild]
	buildDef.Steps = []workflow.Step{
		{ID: "plan", Prompt: "plan"},
		{ID: "implement", Prompt: "implement", ResultHandling: workflow.Policy{OnSuccess: workflow.ActionPrompt}},
		{ID: "self-review", Prompt: "review"},
	}
	phases[workflow.PhaseBuild] = buildDef
	f := newFixture(t, def)
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusPaused {
		t.Fatalf("result status = %s, want paused", result.Status)
	}

	// The definition shrinks while the run is paused at index 2.
	f.source["default"] = &workflow.Definition{
		ID: "default",
		Phases: map[workflow.Phase]workflow.PhaseDef{
			workflow.PhaseBuild: {Steps: []workflow.Step{{ID: "plan", Prompt: "plan"}}},
		},
	}
	_, err = o.Resume(context.Background(), result.RunID, nil)
	if !errors.Is(err, ErrResumePointInvalid) {
		t.Fatalf("Resume = %v, want ErrResumePointInvalid", err)
	}
}

func TestAbortIsTerminal(t *testing.T) {
	def := basicDefinition()
	phases := def.Phases
	frameDef := phases[workflow.PhaseFrame]
	frameDef.Steps[0].ResultHandling = workflow.Policy{OnSuccess: workflow.ActionPrompt}
	phases[workflow.PhaseFrame] = frameDef
	f := newFixture(t, def)
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Status != runstate.StatusPaused {
		t.Fatalf("result status = %s, want paused", result.Status)
	}

	aborted, err := o.Abort(result.RunID, "work item cancelled")
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if aborted.Status != runstate.StatusAborted {
		t.Fatalf("status = %s, want aborted", aborted.Status)
	}
	if _, err := o.Resume(context.Background(), result.RunID, nil); !errors.Is(err, ErrNotResumable) {
		t.Fatalf("Resume after abort = %v, want ErrNotResumable", err)
	}
	if _, err := o.Abort(result.RunID, ""); err == nil {
		t.Fatal("second Abort should fail")
	}
}

func TestEveryStateTransitionHasAPrecedingEvent(t *testing.T) {
	f := newFixture(t, basicDefinition())
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	state, err := f.store.Read(result.RunID)
	if err != nil {
		t.Fatal(err)
	}
	events, err := eventlog.Open(f.store.RunDir(result.RunID)).Events()
	if err != nil {
		t.Fatal(err)
	}

	seqOf := func(eventType, phase, step string) int {
		for _, ev := range events {
			if ev.Type == eventType && ev.Phase == phase && ev.Step == step {
				return ev.Seq
			}
		}
		return -1
	}

	// Every transition the state file records must have its event on the
	// log, and the events must hold the order the transitions happened
	// in: step started before completed, all steps before their phase's
	// completion.
	for _, phase := range workflow.Phases {
		ps := state.Phase(string(phase))
		if ps.Status != runstate.PhaseCompleted {
			t.Fatalf("phase %s status = %s, want completed", phase, ps.Status)
		}
		phaseDone := seqOf(eventlog.TypePhaseCompleted, string(phase), "")
		if phaseDone < 0 {
			t.Fatalf("phase %s completed in state without a phase_completed event", phase)
		}
		if len(ps.StepsCompleted) > 0 {
			phaseStarted := seqOf(eventlog.TypePhaseStarted, string(phase), "")
			if phaseStarted < 0 || phaseStarted >= phaseDone {
				t.Fatalf("phase %s started at seq %d, completed at seq %d", phase, phaseStarted, phaseDone)
			}
		}
		for _, stepID := range ps.StepsCompleted {
			stepDone := seqOf(eventlog.TypeStepCompleted, string(phase), stepID)
			if stepDone < 0 {
				t.Fatalf("step %s/%s completed in state without a step_completed event", phase, stepID)
			}
			if stepDone >= phaseDone {
				t.Fatalf("step %s/%s completed at seq %d, after its phase at seq %d", phase, stepID, stepDone, phaseDone)
			}
			stepStarted := seqOf(eventlog.TypeStepStarted, string(phase), stepID)
			if stepStarted < 0 || stepStarted >= stepDone {
				t.Fatalf("step %s/%s started at seq %d, completed at seq %d", phase, stepID, stepStarted, stepDone)
			}
		}
	}

	last := events[len(events)-1]
	if state.Status == runstate.StatusCompleted && last.Type != eventlog.TypeRunCompleted {
		t.Fatalf("run completed in state but last event is %s", last.Type)
	}
}

func TestEventChainVerifiesAfterRun(t *testing.T) {
	f := newFixture(t, basicDefinition())
	o := f.orchestrator()

	result, err := o.Start(context.Background(), StartOptions{WorkflowID: "default"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	verify, err := eventlog.Open(f.store.RunDir(result.RunID)).Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !verify.Pass {
		t.Fatalf("event chain broken after a normal run: %+v", verify)
	}
}

// stubInvoker returns a fixed plan for every recovery request.
type stubInvoker struct {
	plan recovery.Plan
}

func (s *stubInvoker) Invoke(_ context.Context, _ recovery.Request) (recovery.Plan, error) {
	return s.plan, nil
}
