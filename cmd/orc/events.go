package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/boshu2/orc/internal/eventlog"
	"github.com/boshu2/orc/internal/formatter"
	"github.com/boshu2/orc/internal/worker"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and verify a run's event trail",
}

var eventsListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List the events of a run in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		log := eventlog.Open(a.store.RunDir(args[0]))
		events, err := log.Events()
		if err != nil {
			return err
		}

		if a.cfg.Output == "json" {
			return formatter.WriteJSONLines(os.Stdout, events)
		}

		tbl := formatter.NewTable(os.Stdout, "SEQ", "TYPE", "PHASE", "STEP", "MESSAGE")
		tbl.SetMaxWidth(4, 72)
		for _, ev := range events {
			tbl.AddRow(fmt.Sprintf("%d", ev.Seq), ev.Type, ev.Phase, ev.Step, ev.Message)
		}
		return tbl.Render()
	},
}

var eventsVerifyAll bool

var eventsVerifyCmd = &cobra.Command{
	Use:   "verify [run-id]",
	Short: "Verify the event hash chain",
	Long: `Check sequence continuity and the hash chain of a run's event log.
A broken chain means events were lost or modified after the fact.
With --all, every registered run is verified concurrently.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if eventsVerifyAll {
			return verifyAllRuns(a)
		}
		if len(args) == 0 {
			return fmt.Errorf("run id required unless --all is set")
		}
		log := eventlog.Open(a.store.RunDir(args[0]))
		result, err := log.Verify()
		if err != nil {
			return err
		}

		if a.cfg.Output == "json" {
			if werr := formatter.WriteJSON(os.Stdout, result); werr != nil {
				return werr
			}
		} else if result.Pass {
			color.New(color.FgGreen).Printf("chain intact: %d events\n", result.EventCount)
		} else {
			color.New(color.FgRed).Printf("chain broken at seq %d: %s\n", result.FirstBrokenSeq, result.Message)
		}

		if !result.Pass {
			return fmt.Errorf("event chain verification failed for run %s", args[0])
		}
		return nil
	},
}

// verifyAllRuns checks every registered run's chain, fanning the work out
// across a worker pool.
func verifyAllRuns(a *app) error {
	entries, err := a.registry.All()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs")
		return nil
	}

	runIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		runIDs = append(runIDs, e.RunID)
	}

	pool := worker.NewPool[string, eventlog.VerifyResult](0)
	results := pool.Process(runIDs, func(runID string) (eventlog.VerifyResult, error) {
		return eventlog.Open(a.store.RunDir(runID)).Verify()
	})

	broken := 0
	tbl := formatter.NewTable(os.Stdout, "RUN", "EVENTS", "CHAIN")
	for _, r := range results {
		switch {
		case r.Err != nil:
			broken++
			tbl.AddRow(r.Key, "-", "error: "+r.Err.Error())
		case r.Value.Pass:
			tbl.AddRow(r.Key, fmt.Sprintf("%d", r.Value.EventCount), "intact")
		default:
			broken++
			tbl.AddRow(r.Key, fmt.Sprintf("%d", r.Value.EventCount), fmt.Sprintf("broken at seq %d", r.Value.FirstBrokenSeq))
		}
	}
	if err := tbl.Render(); err != nil {
		return err
	}
	if broken > 0 {
		return fmt.Errorf("%d of %d runs failed verification", broken, len(runIDs))
	}
	return nil
}

var eventsConsolidateCmd = &cobra.Command{
	Use:   "consolidate <run-id>",
	Short: "Write the consolidated single-file event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		log := eventlog.Open(a.store.RunDir(args[0]))
		path, err := log.Consolidate()
		if err != nil {
			return err
		}
		fmt.Printf("consolidated log written to %s\n", path)
		return nil
	},
}

func init() {
	eventsVerifyCmd.Flags().BoolVar(&eventsVerifyAll, "all", false, "Verify every registered run")
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsVerifyCmd)
	eventsCmd.AddCommand(eventsConsolidateCmd)
	rootCmd.AddCommand(eventsCmd)
}
