package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/boshu2/orc/internal/formatter"
	"github.com/boshu2/orc/internal/orchestrator"
	"github.com/boshu2/orc/internal/runstate"
	"github.com/boshu2/orc/internal/workflow"
)

var (
	runWorkID string
	runTarget string
	runArgs   []string
	runAuto   bool
)

var runCmd = &cobra.Command{
	Use:   "run [workflow]",
	Short: "Start a workflow run",
	Long: `Start a new run of the named workflow (the configured default when
omitted) and drive it until it completes, fails, or suspends.

A suspended run keeps its position on disk; continue it later with
"orc resume <run-id>". With --dry-run the resolved step plan is printed
and nothing executes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		workflowID := a.cfg.Workflow.Default
		if len(args) > 0 {
			workflowID = args[0]
		}

		if GetDryRun() {
			return previewWorkflow(a, workflowID)
		}

		stepArgs, err := parseStepArgs(runArgs)
		if err != nil {
			return err
		}

		orch, err := a.orchestrator(!runAuto)
		if err != nil {
			return err
		}

		// Ctrl-C suspends the run instead of killing it mid-step.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := orch.Start(ctx, orchestrator.StartOptions{
			WorkflowID: workflowID,
			WorkID:     runWorkID,
			Target:     runTarget,
			Args:       stepArgs,
		})
		return reportResult(res, err)
	},
}

func init() {
	runCmd.Flags().StringVar(&runWorkID, "work-id", "", "Work item this run belongs to")
	runCmd.Flags().StringVar(&runTarget, "target", "", "Target identifier passed to steps")
	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "Extra key=value argument for step placeholders (repeatable)")
	runCmd.Flags().BoolVar(&runAuto, "auto", false, "Never prompt; take safe defaults on warnings and failures")
	rootCmd.AddCommand(runCmd)
}

// previewWorkflow prints the resolved execution plan without creating any
// run state.
func previewWorkflow(a *app, workflowID string) error {
	resolved, err := a.resolver.Resolve(workflowID)
	if err != nil {
		return err
	}

	fmt.Printf("workflow %s (%s), %d steps\n\n", resolved.ID, strings.Join(resolved.Chain, " -> "), resolved.TotalSteps())
	tbl := formatter.NewTable(os.Stdout, "PHASE", "STEP", "KIND", "DIRECTIVE", "SOURCE")
	tbl.SetMaxWidth(3, 48)
	for _, phase := range workflow.Phases {
		name := string(phase)
		if resolved.ApprovalPhases[phase] {
			name += " [approval]"
		}
		for _, step := range resolved.Steps[phase] {
			kind, value, err := step.Directive()
			if err != nil {
				return err
			}
			tbl.AddRow(name, step.ID, kind, value, step.Source)
			name = ""
		}
	}
	return tbl.Render()
}

// parseStepArgs splits repeated key=value flags.
func parseStepArgs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q (want key=value)", pair)
		}
		args[key] = value
	}
	return args, nil
}

// reportResult prints the terminal or suspension outcome of a run and maps
// it to the process exit status.
func reportResult(res orchestrator.Result, err error) error {
	if err != nil && res.RunID == "" {
		return err
	}

	switch res.Status {
	case runstate.StatusCompleted:
		color.New(color.FgGreen).Printf("run %s completed\n", res.RunID)
	case runstate.StatusPaused, runstate.StatusPendingInput:
		color.New(color.FgYellow).Printf("run %s suspended (%s): %s\n", res.RunID, res.Status, res.Message)
		fmt.Printf("continue with: orc resume %s\n", res.RunID)
	case runstate.StatusFailed:
		color.New(color.FgRed).Printf("run %s failed at %s/%s: %s\n", res.RunID, res.Phase, res.Step, res.Message)
	case runstate.StatusAborted:
		color.New(color.FgRed).Printf("run %s aborted: %s\n", res.RunID, res.Message)
	default:
		fmt.Printf("run %s: %s\n", res.RunID, res.Status)
	}

	if err != nil {
		return err
	}
	if res.Status == runstate.StatusFailed || res.Status == runstate.StatusAborted {
		return fmt.Errorf("run %s %s", res.RunID, res.Status)
	}
	return nil
}
