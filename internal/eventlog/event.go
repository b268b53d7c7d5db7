// Package eventlog implements the append-only, strictly ordered event log
// that forms the audit trail of a run. Events are written before the state
// transitions they describe; run state is a derived cache of what the log
// says actually happened.
package eventlog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion identifies the on-disk event record layout.
const SchemaVersion = 1

// Event types appended by the orchestration core.
const (
	TypeRunCreated      = "run_created"
	TypeRunResumed      = "run_resumed"
	TypeRunPaused       = "run_paused"
	TypeRunCompleted    = "run_completed"
	TypeRunFailed       = "run_failed"
	TypeRunAborted      = "run_aborted"
	TypeRunPendingInput = "run_pending_input"

	TypePhaseStarted   = "phase_started"
	TypePhaseCompleted = "phase_completed"
	TypePhaseFailed    = "phase_failed"
	TypePhaseReset     = "phase_reset"

	TypeStepStarted   = "step_started"
	TypeStepCompleted = "step_completed"
	TypeStepFailed    = "step_failed"
	TypeStepWarning   = "step_warning"
	TypeStepSkipped   = "step_skipped"

	TypeDecisionPoint   = "decision_point"
	TypeApprovalGranted = "approval_granted"

	TypeRecoveryInvoked = "recovery_invoked"
	TypeRecoveryApplied = "recovery_applied"
	TypeUserOverride    = "user_override"
)

// Event is one immutable, strictly monotonically numbered record of an
// orchestration action. PrevHash/PayloadHash/Hash chain consecutive events
// so tampering or loss is detectable after the fact.
type Event struct {
	SchemaVersion int             `json:"schema_version"`
	Seq           int             `json:"seq"`
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	Phase         string          `json:"phase,omitempty"`
	Step          string          `json:"step,omitempty"`
	Status        string          `json:"status,omitempty"`
	Message       string          `json:"message"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     string          `json:"timestamp"`
	PrevHash      string          `json:"prev_hash"`
	PayloadHash   string          `json:"payload_hash"`
	Hash          string          `json:"hash"`
}

// eventPayload is the hashed portion of an event: everything except the two
// derived hash fields.
type eventPayload struct {
	SchemaVersion int             `json:"schema_version"`
	Seq           int             `json:"seq"`
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	Phase         string          `json:"phase,omitempty"`
	Step          string          `json:"step,omitempty"`
	Status        string          `json:"status,omitempty"`
	Message       string          `json:"message"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     string          `json:"timestamp"`
	PrevHash      string          `json:"prev_hash"`
}

// Validate checks the structural invariants of an on-disk event record.
func (e Event) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version mismatch: got %d want %d", e.SchemaVersion, SchemaVersion)
	}
	if e.Seq < 1 {
		return fmt.Errorf("seq must be >= 1, got %d", e.Seq)
	}
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("event_id is required")
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("type is required")
	}
	if strings.TrimSpace(e.Timestamp) == "" {
		return fmt.Errorf("timestamp is required")
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if strings.TrimSpace(e.PayloadHash) == "" || strings.TrimSpace(e.Hash) == "" {
		return fmt.Errorf("hash fields are required")
	}
	return nil
}

// Time returns the parsed event timestamp. Validate first; a malformed
// timestamp yields the zero time.
func (e Event) Time() time.Time {
	t, _ := time.Parse(time.RFC3339Nano, e.Timestamp)
	return t
}

func computeHashes(e Event) (payloadHash, hash string, err error) {
	payload := eventPayload{
		SchemaVersion: e.SchemaVersion,
		Seq:           e.Seq,
		EventID:       e.EventID,
		Type:          e.Type,
		Phase:         e.Phase,
		Step:          e.Step,
		Status:        e.Status,
		Message:       e.Message,
		Data:          e.Data,
		Timestamp:     e.Timestamp,
		PrevHash:      e.PrevHash,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal event payload: %w", err)
	}
	payloadHash = hashHex(data)
	hash = hashHex([]byte(payloadHash + "\n" + e.PrevHash))
	return payloadHash, hash, nil
}

// normalizeData renders arbitrary data into canonical JSON so hashing is
// stable across re-encodes.
func normalizeData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		data = []byte(raw)
	}
	if b, ok := data.([]byte); ok {
		if len(bytes.TrimSpace(b)) == 0 {
			return nil, nil
		}
		var parsed any
		if err := json.Unmarshal(b, &parsed); err != nil {
			return nil, fmt.Errorf("event data must be valid JSON: %w", err)
		}
		data = parsed
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return json.RawMessage(encoded), nil
}

func newEventID() string {
	return "evt-" + uuid.NewString()
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
