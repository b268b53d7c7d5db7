// Package runstate persists per-run orchestration state with atomic,
// versioned, lock-guarded writes. The store is the only path by which a
// RunState may change; no component mutates state files in place.
package runstate

import "time"

// Status is the lifecycle status of a run.
type Status string

// Run statuses. Paused and pending_input are suspend states; completed,
// failed, and aborted are terminal.
const (
	StatusPending      Status = "pending"
	StatusInProgress   Status = "in_progress"
	StatusPaused       Status = "paused"
	StatusPendingInput Status = "pending_input"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusAborted      Status = "aborted"
)

// Terminal reports whether the run can never advance again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// Suspended reports whether the run is halted but resumable.
func (s Status) Suspended() bool {
	return s == StatusPaused || s == StatusPendingInput
}

// Valid reports whether s is a known run status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPaused, StatusPendingInput,
		StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// PhaseStatus is the lifecycle status of one phase within a run.
type PhaseStatus string

// Phase statuses.
const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// PhaseState tracks per-phase progress. CurrentStepIndex is the next step to
// execute; on resume the orchestrator continues from exactly this index.
type PhaseState struct {
	Status           PhaseStatus `json:"status"`
	CurrentStepIndex int         `json:"current_step_index"`
	StepsCompleted   []string    `json:"steps_completed,omitempty"`
	RetryCount       int         `json:"retry_count,omitempty"`
}

// RecoveryRecord is one entry of the append-only recovery history. Entries
// are never overwritten so the audit trail survives repeated recoveries.
type RecoveryRecord struct {
	Timestamp   string `json:"timestamp"`
	Phase       string `json:"phase"`
	Step        string `json:"step"`
	Action      string `json:"action"`
	TargetPhase string `json:"target_phase,omitempty"`
	TargetStep  string `json:"target_step,omitempty"`
	Rationale   string `json:"rationale,omitempty"`
	Attempt     int    `json:"attempt"`
}

// Session records one process invocation that advanced the run.
type Session struct {
	SessionID string `json:"session_id"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// Sessions tracks the current session and the history of prior ones.
type Sessions struct {
	CurrentSessionID string    `json:"current_session_id,omitempty"`
	SessionHistory   []Session `json:"session_history,omitempty"`
}

// FailurePoint identifies where a run failed.
type FailurePoint struct {
	Phase string `json:"phase"`
	Step  string `json:"step,omitempty"`
	Error string `json:"error,omitempty"`
}

// RunState is the full persisted state of one run. Version is the
// optimistic-concurrency token: every successful update increments it, and
// an update whose base version no longer matches the file is rejected.
type RunState struct {
	RunID      string `json:"run_id"`
	WorkID     string `json:"work_id,omitempty"`
	WorkflowID string `json:"workflow_id"`
	Target     string `json:"target,omitempty"`

	Status       Status                 `json:"status"`
	CurrentPhase string                 `json:"current_phase,omitempty"`
	Phases       map[string]*PhaseState `json:"phases"`
	Artifacts    map[string]any         `json:"artifacts,omitempty"`

	RecoveryHistory  []RecoveryRecord `json:"recovery_history,omitempty"`
	RecoveryAttempts int              `json:"recovery_attempts,omitempty"`
	StepRetries      map[string]int   `json:"step_retries,omitempty"`

	Sessions Sessions      `json:"sessions"`
	FailedAt *FailurePoint `json:"failed_at,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Version   int    `json:"version"`
}

// New creates the initial state for a fresh run, all phases pending.
func New(runID, workflowID string, phases []string) *RunState {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	state := &RunState{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     StatusPending,
		Phases:     make(map[string]*PhaseState, len(phases)),
		Artifacts:  make(map[string]any),
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	for _, phase := range phases {
		state.Phases[phase] = &PhaseState{Status: PhasePending}
	}
	return state
}

// Phase returns the state for a phase, creating a pending record when the
// phase is not yet tracked.
func (s *RunState) Phase(name string) *PhaseState {
	if s.Phases == nil {
		s.Phases = make(map[string]*PhaseState)
	}
	ps, ok := s.Phases[name]
	if !ok {
		ps = &PhaseState{Status: PhasePending}
		s.Phases[name] = ps
	}
	return ps
}

// RetryKey builds the per-step retry counter key.
func RetryKey(phase, step string) string {
	return phase + "/" + step
}
