package eventlog

// Summary is a run summary rebuilt purely from the event trail. It is the
// materialized-cache view of a run: if state.json is lost or suspect, the
// log alone reproduces where the run stands.
type Summary struct {
	RunID          string              `json:"run_id,omitempty"`
	WorkflowID     string              `json:"workflow_id,omitempty"`
	Status         string              `json:"status"`
	CurrentPhase   string              `json:"current_phase,omitempty"`
	PhaseStatus    map[string]string   `json:"phase_status,omitempty"`
	StepsCompleted map[string][]string `json:"steps_completed,omitempty"`
	Recoveries     int                 `json:"recoveries,omitempty"`
	EventCount     int                 `json:"event_count"`
	LastEvent      string              `json:"last_event,omitempty"`
	LastMessage    string              `json:"last_message,omitempty"`
}

// Summarize folds an ordered event list into a Summary. Events the fold
// does not recognize only advance the counters, so newer event types never
// break an older reader.
func Summarize(events []Event) Summary {
	s := Summary{
		Status:         "pending",
		PhaseStatus:    make(map[string]string),
		StepsCompleted: make(map[string][]string),
	}

	for _, ev := range events {
		s.EventCount++
		s.LastEvent = ev.Type
		s.LastMessage = ev.Message

		switch ev.Type {
		case TypeRunCreated:
			s.Status = "pending"
		case TypeRunResumed:
			s.Status = "in_progress"
		case TypeRunPaused:
			s.Status = "paused"
		case TypeRunPendingInput:
			s.Status = "pending_input"
		case TypeRunCompleted:
			s.Status = "completed"
		case TypeRunFailed:
			s.Status = "failed"
		case TypeRunAborted:
			s.Status = "aborted"

		case TypePhaseStarted:
			s.Status = "in_progress"
			s.CurrentPhase = ev.Phase
			s.PhaseStatus[ev.Phase] = "in_progress"
		case TypePhaseCompleted:
			s.PhaseStatus[ev.Phase] = "completed"
		case TypePhaseFailed:
			s.PhaseStatus[ev.Phase] = "failed"
		case TypePhaseReset:
			s.CurrentPhase = ev.Phase
			s.PhaseStatus[ev.Phase] = "in_progress"
			s.StepsCompleted[ev.Phase] = nil

		case TypeStepCompleted, TypeStepWarning:
			s.StepsCompleted[ev.Phase] = append(s.StepsCompleted[ev.Phase], ev.Step)

		case TypeRecoveryInvoked:
			s.Recoveries++
		}
	}
	return s
}
