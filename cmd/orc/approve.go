package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/orc/internal/approval"
	"github.com/boshu2/orc/internal/eventlog"
	"github.com/boshu2/orc/internal/workflow"
)

var (
	approvePhase string
	approveNote  string
)

var approveCmd = &cobra.Command{
	Use:   "approve <run-id>",
	Short: "Grant approval for a gated phase",
	Long: `Record an approval event for a phase that requires one. The grant
only covers the decision point already on the log; re-entering the
phase later requires a fresh approval.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		runID := args[0]

		state, err := a.store.Read(runID)
		if err != nil {
			return err
		}
		if state.Status.Terminal() {
			return fmt.Errorf("run %s is %s; nothing to approve", runID, state.Status)
		}

		phase := workflow.Phase(approvePhase)
		if approvePhase == "" {
			phase = workflow.Phase(state.CurrentPhase)
		}
		if !phase.Valid() {
			return fmt.Errorf("unknown phase %q", approvePhase)
		}

		resolved, err := a.resolver.Resolve(state.WorkflowID)
		if err != nil {
			return err
		}
		if !resolved.ApprovalPhases[phase] {
			return fmt.Errorf("phase %s of workflow %s is not approval-gated", phase, state.WorkflowID)
		}

		log := eventlog.Open(a.store.RunDir(runID))
		ev, err := approval.NewGate(log).Grant(phase, GetCurrentUser(), approveNote)
		if err != nil {
			return err
		}
		fmt.Printf("approval recorded for %s/%s (event %d)\n", runID, phase, ev.Seq)
		fmt.Printf("continue with: orc resume %s\n", runID)
		return nil
	},
}

func init() {
	approveCmd.Flags().StringVar(&approvePhase, "phase", "", "Phase to approve (default: the run's current phase)")
	approveCmd.Flags().StringVar(&approveNote, "note", "", "Note recorded with the approval")
	rootCmd.AddCommand(approveCmd)
}
