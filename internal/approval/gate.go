// Package approval gates destructive phases behind a verifiably recent
// approval event. The gate never consults mutable state: it reads the
// append-only event log, so an approval cannot be forged by editing a
// state file, and phase re-entry invalidates approvals automatically.
package approval

import (
	"fmt"

	"github.com/boshu2/orc/internal/eventlog"
	"github.com/boshu2/orc/internal/workflow"
)

// Gate decides whether a gated phase may proceed. Validity is the
// most-recent-pair rule: the latest approval_granted event for the phase
// must be strictly newer than the latest decision_point for that phase.
// "Any approval ever" would let a stale approval carry across an
// evaluate -> build -> evaluate loop back into release.
type Gate struct {
	log *eventlog.Log

	// allowDestructiveAuto synthesizes the approval instead of halting.
	// The synthesized event is still appended, so the audit trail shows
	// exactly which approvals were automatic.
	allowDestructiveAuto bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithDestructiveAuto lets the gate grant approvals without a human,
// recording each one as an auto-approved event.
func WithDestructiveAuto(enabled bool) GateOption {
	return func(g *Gate) { g.allowDestructiveAuto = enabled }
}

// NewGate builds a gate over a run's event log.
func NewGate(log *eventlog.Log, opts ...GateOption) *Gate {
	g := &Gate{log: log}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Require blocks a gated phase until a valid approval exists. When the
// gate is in auto mode it grants and records the approval itself. The
// returned error is ErrApprovalRequired when no approval exists and
// ErrStaleApproval when the newest one predates the newest decision point.
func (g *Gate) Require(phase workflow.Phase) error {
	decision, hasDecision, err := g.log.LastOfType(eventlog.TypeDecisionPoint, string(phase))
	if err != nil {
		return fmt.Errorf("read decision points: %w", err)
	}
	granted, hasGrant, err := g.log.LastOfType(eventlog.TypeApprovalGranted, string(phase))
	if err != nil {
		return fmt.Errorf("read approvals: %w", err)
	}

	// Seq order is the event order; timestamps may collide.
	if hasGrant && (!hasDecision || granted.Seq > decision.Seq) {
		return nil
	}

	if g.allowDestructiveAuto {
		_, err := g.Grant(phase, "auto", "destructive auto-approval enabled")
		if err != nil {
			return fmt.Errorf("record auto-approval: %w", err)
		}
		return nil
	}

	if hasGrant {
		return fmt.Errorf("%w: phase %s approved at seq %d but re-entered at seq %d",
			ErrStaleApproval, phase, granted.Seq, decision.Seq)
	}
	return fmt.Errorf("%w: phase %s", ErrApprovalRequired, phase)
}

// Grant appends an approval_granted event for the phase. grantedBy names
// the approver ("auto" for synthesized approvals).
func (g *Gate) Grant(phase workflow.Phase, grantedBy, note string) (eventlog.Event, error) {
	data := map[string]string{"granted_by": grantedBy}
	message := fmt.Sprintf("approval granted for phase %s by %s", phase, grantedBy)
	if note != "" {
		data["note"] = note
	}
	return g.log.AppendTyped(eventlog.TypeApprovalGranted, string(phase), "", "", message, data)
}

// RecordDecisionPoint appends the decision_point event that opens a gated
// phase. Every subsequent Require compares approvals against this event.
func (g *Gate) RecordDecisionPoint(phase workflow.Phase, message string) (eventlog.Event, error) {
	if message == "" {
		message = fmt.Sprintf("phase %s requires approval before it can run", phase)
	}
	return g.log.AppendTyped(eventlog.TypeDecisionPoint, string(phase), "", "", message, nil)
}
