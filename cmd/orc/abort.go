package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var abortReason string

var abortCmd = &cobra.Command{
	Use:   "abort <run-id>",
	Short: "Abort a run permanently",
	Long:  `Abort a run. Aborted runs are terminal and can never be resumed.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		orch, err := a.orchestrator(false)
		if err != nil {
			return err
		}
		res, err := orch.Abort(args[0], abortReason)
		if err != nil {
			return err
		}
		fmt.Printf("run %s aborted\n", res.RunID)
		return nil
	},
}

func init() {
	abortCmd.Flags().StringVar(&abortReason, "reason", "", "Reason recorded with the abort event")
	rootCmd.AddCommand(abortCmd)
}
