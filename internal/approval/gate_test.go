package approval

import (
	"errors"
	"strings"
	"testing"

	"github.com/boshu2/orc/internal/eventlog"
	"github.com/boshu2/orc/internal/workflow"
)

func newGateLog(t *testing.T) *eventlog.Log {
	t.Helper()
	return eventlog.Open(t.TempDir())
}

func TestRequireWithoutApproval(t *testing.T) {
	log := newGateLog(t)
	gate := NewGate(log)

	if _, err := gate.RecordDecisionPoint(workflow.PhaseRelease, ""); err != nil {
		t.Fatalf("RecordDecisionPoint: %v", err)
	}
	err := gate.Require(workflow.PhaseRelease)
	if !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("Require = %v, want ErrApprovalRequired", err)
	}
}

func TestRequireAfterGrant(t *testing.T) {
	log := newGateLog(t)
	gate := NewGate(log)

	if _, err := gate.RecordDecisionPoint(workflow.PhaseRelease, ""); err != nil {
		t.Fatalf("RecordDecisionPoint: %v", err)
	}
	if _, err := gate.Grant(workflow.PhaseRelease, "reviewer", "looks good"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := gate.Require(workflow.PhaseRelease); err != nil {
		t.Fatalf("Require after grant = %v, want nil", err)
	}
}

func TestRequireRejectsStaleApprovalOnReentry(t *testing.T) {
	log := newGateLog(t)
	gate := NewGate(log)

	// First pass through release: decision, approval, gate opens.
	if _, err := gate.RecordDecisionPoint(workflow.PhaseRelease, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Grant(workflow.PhaseRelease, "reviewer", ""); err != nil {
		t.Fatal(err)
	}
	if err := gate.Require(workflow.PhaseRelease); err != nil {
		t.Fatalf("first Require: %v", err)
	}

	// Recovery loops back through build and re-enters release. The old
	// approval must not carry over.
	if _, err := gate.RecordDecisionPoint(workflow.PhaseRelease, ""); err != nil {
		t.Fatal(err)
	}
	err := gate.Require(workflow.PhaseRelease)
	if !errors.Is(err, ErrStaleApproval) {
		t.Fatalf("Require on re-entry = %v, want ErrStaleApproval", err)
	}
}

func TestRequireIgnoresOtherPhaseApprovals(t *testing.T) {
	log := newGateLog(t)
	gate := NewGate(log)

	if _, err := gate.RecordDecisionPoint(workflow.PhaseRelease, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := gate.Grant(workflow.PhaseEvaluate, "reviewer", ""); err != nil {
		t.Fatal(err)
	}
	err := gate.Require(workflow.PhaseRelease)
	if !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("Require = %v, want ErrApprovalRequired (approval was for another phase)", err)
	}
}

func TestRequireAutoModeRecordsApproval(t *testing.T) {
	log := newGateLog(t)
	gate := NewGate(log, WithDestructiveAuto(true))

	if _, err := gate.RecordDecisionPoint(workflow.PhaseRelease, ""); err != nil {
		t.Fatal(err)
	}
	if err := gate.Require(workflow.PhaseRelease); err != nil {
		t.Fatalf("Require in auto mode = %v, want nil", err)
	}

	// The synthesized approval must appear on the audit trail.
	granted, found, err := log.LastOfType(eventlog.TypeApprovalGranted, string(workflow.PhaseRelease))
	if err != nil || !found {
		t.Fatalf("auto-approval not recorded: found=%v err=%v", found, err)
	}
	if got := string(granted.Data); !strings.Contains(got, "auto") {
		t.Fatalf("approval event should name the auto approver: %s", got)
	}

	// A second Require sees the recorded approval and passes without
	// appending another.
	if err := gate.Require(workflow.PhaseRelease); err != nil {
		t.Fatalf("second Require: %v", err)
	}
	events, err := log.Events()
	if err != nil {
		t.Fatal(err)
	}
	grants := 0
	for _, ev := range events {
		if ev.Type == eventlog.TypeApprovalGranted {
			grants++
		}
	}
	if grants != 1 {
		t.Fatalf("approval events = %d, want 1", grants)
	}
}

func TestGrantBeforeAnyDecisionPoint(t *testing.T) {
	log := newGateLog(t)
	gate := NewGate(log)

	if _, err := gate.Grant(workflow.PhaseRelease, "reviewer", ""); err != nil {
		t.Fatal(err)
	}
	if err := gate.Require(workflow.PhaseRelease); err != nil {
		t.Fatalf("Require with pre-granted approval = %v, want nil", err)
	}
}
