package formatter

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunReport_Render(t *testing.T) {
	r := &RunReport{
		RunID:      "run-a1b2c3d4",
		WorkflowID: "default",
		WorkID:     "PROJ-42",
		Status:     "failed",
		Phase:      "evaluate",
		Sessions:   2,
		Recoveries: 3,
		FailedAt:   "evaluate/run-tests: 2 tests failing",
		NextAction: "orc resume run-a1b2c3d4",
		Phases: []PhaseLine{
			{Name: "frame", Status: "completed", Steps: "1/1"},
			{Name: "evaluate", Status: "failed", Steps: "0/1"},
		},
		Events: []EventLine{
			{Seq: 1, Type: "run_created", Message: "run created for workflow default"},
			{Seq: 9, Type: "run_failed", Phase: "evaluate", Step: "run-tests", Message: "line one\nline | two"},
		},
	}

	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# Run run-a1b2c3d4",
		"**Workflow**: default",
		"**Work item**: PROJ-42",
		"**Recovery attempts**: 3",
		"**Failed at**: evaluate/run-tests",
		"| frame | completed | 1/1 |",
		"| evaluate | failed | 0/1 |",
		"run_created",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	// Newlines and pipes in messages must not break the table.
	if strings.Contains(out, "line one\nline") {
		t.Errorf("message newline leaked into table:\n%s", out)
	}
	if !strings.Contains(out, "line one line \\| two") {
		t.Errorf("expected escaped message, got:\n%s", out)
	}
}

func TestRunReport_OmitsEmptySections(t *testing.T) {
	r := &RunReport{
		RunID:      "run-00000000",
		WorkflowID: "default",
		Status:     "completed",
		Sessions:   1,
		Phases:     []PhaseLine{{Name: "frame", Status: "completed", Steps: "1/1"}},
	}

	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "Recent events") {
		t.Errorf("empty event list should be omitted:\n%s", out)
	}
	if strings.Contains(out, "Work item") || strings.Contains(out, "Failed at") {
		t.Errorf("empty optional fields should be omitted:\n%s", out)
	}
}
