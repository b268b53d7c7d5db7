package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boshu2/orc/internal/eventlog"
	"github.com/boshu2/orc/internal/runstate"
	"github.com/boshu2/orc/internal/workflow"
)

var (
	resumeArgs      []string
	resumeAuto      bool
	resumePhase     string
	resumeStepIndex int
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a suspended run",
	Long: `Re-enter a paused or pending-input run at its persisted position.

The workflow definition is resolved fresh, so edits made while the run
was suspended take effect; a resume position the edited workflow can no
longer satisfy is rejected before anything executes.

--phase and --step-index reposition the run before resuming. The move is
recorded on the event log, and phases after the target are reset so the
run re-earns them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		runID := args[0]

		if resumePhase != "" || cmd.Flags().Changed("step-index") {
			if err := repositionRun(a, runID, resumePhase, resumeStepIndex, cmd.Flags().Changed("step-index")); err != nil {
				return err
			}
		}

		stepArgs, err := parseStepArgs(resumeArgs)
		if err != nil {
			return err
		}

		orch, err := a.orchestrator(!resumeAuto)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := orch.Resume(ctx, runID, stepArgs)
		return reportResult(res, err)
	},
}

func init() {
	resumeCmd.Flags().StringArrayVar(&resumeArgs, "arg", nil, "Extra key=value argument for step placeholders (repeatable)")
	resumeCmd.Flags().BoolVar(&resumeAuto, "auto", false, "Never prompt; take safe defaults on warnings and failures")
	resumeCmd.Flags().StringVar(&resumePhase, "phase", "", "Reposition the run to this phase before resuming")
	resumeCmd.Flags().IntVar(&resumeStepIndex, "step-index", 0, "Reposition the run to this step index before resuming")
	rootCmd.AddCommand(resumeCmd)
}

// repositionRun moves a suspended run's cursor. The move is appended to the
// event log before the state write, like every other transition.
func repositionRun(a *app, runID, phaseFlag string, stepIndex int, indexSet bool) error {
	state, err := a.store.Read(runID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		return fmt.Errorf("run %s is %s and cannot be repositioned", runID, state.Status)
	}

	phase := workflow.Phase(state.CurrentPhase)
	if phaseFlag != "" {
		phase = workflow.Phase(phaseFlag)
	}
	if !phase.Valid() {
		return fmt.Errorf("unknown phase %q", phaseFlag)
	}

	resolved, err := a.resolver.Resolve(state.WorkflowID)
	if err != nil {
		return err
	}
	steps := resolved.Steps[phase]
	idx := 0
	if indexSet {
		idx = stepIndex
	}
	if idx < 0 || idx > len(steps) {
		return fmt.Errorf("step index %d out of range for phase %s (%d steps)", idx, phase, len(steps))
	}

	log := eventlog.Open(a.store.RunDir(runID))
	if _, err := log.AppendTyped(eventlog.TypePhaseReset, string(phase), "", "",
		fmt.Sprintf("operator moved run to %s step %d", phase, idx), nil); err != nil {
		return err
	}

	target := workflow.PhaseIndex(phase)
	_, err = a.store.Update(runID, func(s *runstate.RunState) error {
		s.CurrentPhase = string(phase)
		for i, p := range workflow.Phases {
			ps := s.Phase(string(p))
			switch {
			case i < target:
				// Earlier phases keep whatever they earned.
			case i == target:
				ps.Status = runstate.PhaseInProgress
				ps.CurrentStepIndex = idx
				if len(ps.StepsCompleted) > idx {
					ps.StepsCompleted = ps.StepsCompleted[:idx]
				}
			default:
				ps.Status = runstate.PhasePending
				ps.CurrentStepIndex = 0
				ps.StepsCompleted = nil
			}
		}
		return nil
	})
	return err
}
