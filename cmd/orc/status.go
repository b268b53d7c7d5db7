package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/orc/internal/eventlog"
	"github.com/boshu2/orc/internal/formatter"
	"github.com/boshu2/orc/internal/runstate"
	"github.com/boshu2/orc/internal/workflow"
)

var (
	statusActiveOnly bool
	statusFromEvents bool
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run progress",
	Long: `Without arguments, list all runs from the registry. With a run id,
show that run's phase progress, failure point, and recent events, plus
the command that would move it forward.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return listRuns(a)
		}
		if statusFromEvents {
			return showRunFromEvents(a, args[0])
		}
		return showRun(a, args[0])
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusActiveOnly, "active", false, "Only show runs that are not terminal")
	statusCmd.Flags().BoolVar(&statusFromEvents, "from-events", false, "Rebuild the summary from the event log instead of state.json")
	rootCmd.AddCommand(statusCmd)
}

// showRunFromEvents reconstructs the run summary purely from the event
// trail, for when state.json is lost or suspect.
func showRunFromEvents(a *app, runID string) error {
	log := eventlog.Open(a.store.RunDir(runID))
	events, err := log.Events()
	if err != nil {
		return err
	}
	summary := eventlog.Summarize(events)
	summary.RunID = runID

	if a.cfg.Output == "json" {
		return formatter.WriteJSON(os.Stdout, summary)
	}

	fmt.Printf("run %s (rebuilt from %d events)  status=%s", runID, summary.EventCount, summary.Status)
	if summary.CurrentPhase != "" {
		fmt.Printf("  phase=%s", summary.CurrentPhase)
	}
	fmt.Println()
	if summary.Recoveries > 0 {
		fmt.Printf("recovery invocations: %d\n", summary.Recoveries)
	}
	if summary.LastEvent != "" {
		fmt.Printf("last event: %s: %s\n", summary.LastEvent, summary.LastMessage)
	}
	fmt.Println()

	tbl := formatter.NewTable(os.Stdout, "PHASE", "STATUS", "STEPS DONE")
	for _, phase := range workflow.Phases {
		name := string(phase)
		if summary.PhaseStatus[name] == "" {
			continue
		}
		tbl.AddRow(name, summary.PhaseStatus[name], strings.Join(summary.StepsCompleted[name], ", "))
	}
	return tbl.Render()
}

func listRuns(a *app) error {
	list := a.registry.All
	if statusActiveOnly {
		list = a.registry.Active
	}
	entries, err := list()
	if err != nil {
		return err
	}

	switch a.cfg.Output {
	case "json":
		return formatter.WriteJSON(os.Stdout, entries)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("no runs")
		return nil
	}
	tbl := formatter.NewTable(os.Stdout, "RUN", "WORKFLOW", "STATUS", "UPDATED")
	for _, e := range entries {
		tbl.AddRow(e.RunID, e.WorkflowID, string(e.Status), e.UpdatedAt)
	}
	return tbl.Render()
}

func showRun(a *app, runID string) error {
	state, err := a.store.Read(runID)
	if err != nil {
		return err
	}
	log := eventlog.Open(a.store.RunDir(runID))
	events, err := log.Events()
	if err != nil {
		return err
	}

	switch a.cfg.Output {
	case "json":
		return formatter.WriteJSON(os.Stdout, state)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(state)
	case "markdown":
		report := buildReport(state, events)
		return report.Render(os.Stdout)
	}

	fmt.Printf("run %s  workflow=%s  status=%s\n", state.RunID, state.WorkflowID, state.Status)
	if state.WorkID != "" {
		fmt.Printf("work item: %s\n", state.WorkID)
	}
	if state.FailedAt != nil {
		fmt.Printf("failed at: %s/%s: %s\n", state.FailedAt.Phase, state.FailedAt.Step, state.FailedAt.Error)
	}
	if state.RecoveryAttempts > 0 {
		fmt.Printf("recovery attempts: %d\n", state.RecoveryAttempts)
	}
	fmt.Println()

	tbl := formatter.NewTable(os.Stdout, "PHASE", "STATUS", "STEPS DONE")
	for _, phase := range workflow.Phases {
		ps := state.Phase(string(phase))
		tbl.AddRow(string(phase), string(ps.Status), strings.Join(ps.StepsCompleted, ", "))
	}
	if err := tbl.Render(); err != nil {
		return err
	}

	if next := nextAction(state, events); next != "" {
		fmt.Printf("\nnext: %s\n", next)
	}
	return nil
}

// buildReport assembles the markdown view of a run.
func buildReport(state *runstate.RunState, events []eventlog.Event) *formatter.RunReport {
	report := &formatter.RunReport{
		RunID:      state.RunID,
		WorkflowID: state.WorkflowID,
		WorkID:     state.WorkID,
		Target:     state.Target,
		Status:     string(state.Status),
		Phase:      state.CurrentPhase,
		Recoveries: state.RecoveryAttempts,
		Sessions:   len(state.Sessions.SessionHistory),
		NextAction: nextAction(state, events),
	}
	if state.FailedAt != nil {
		report.FailedAt = fmt.Sprintf("%s/%s: %s", state.FailedAt.Phase, state.FailedAt.Step, state.FailedAt.Error)
	}
	for _, phase := range workflow.Phases {
		ps := state.Phase(string(phase))
		report.Phases = append(report.Phases, formatter.PhaseLine{
			Name:   string(phase),
			Status: string(ps.Status),
			Steps:  strings.Join(ps.StepsCompleted, ", "),
		})
	}
	start := 0
	if len(events) > 10 {
		start = len(events) - 10
	}
	for _, ev := range events[start:] {
		report.Events = append(report.Events, formatter.EventLine{
			Seq:     ev.Seq,
			Type:    ev.Type,
			Phase:   ev.Phase,
			Step:    ev.Step,
			Message: ev.Message,
		})
	}
	return report
}

// nextAction derives the single command that moves a run forward.
func nextAction(state *runstate.RunState, events []eventlog.Event) string {
	switch state.Status {
	case runstate.StatusPaused:
		if waitingForApproval(state, events) {
			return fmt.Sprintf("orc approve %s --phase %s && orc resume %s", state.RunID, state.CurrentPhase, state.RunID)
		}
		return fmt.Sprintf("orc resume %s", state.RunID)
	case runstate.StatusPendingInput:
		return fmt.Sprintf("provide the requested input, then orc resume %s", state.RunID)
	case runstate.StatusPending, runstate.StatusInProgress:
		return "run is active in another session"
	}
	return ""
}

// waitingForApproval reports whether the most recent suspension was the
// approval gate on the current phase.
func waitingForApproval(state *runstate.RunState, events []eventlog.Event) bool {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		switch ev.Type {
		case eventlog.TypeRunPaused:
			return strings.Contains(ev.Message, "approval") && ev.Phase == state.CurrentPhase
		case eventlog.TypeApprovalGranted:
			return false
		}
	}
	return false
}
