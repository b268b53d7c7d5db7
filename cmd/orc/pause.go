package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pauseReason string

var pauseCmd = &cobra.Command{
	Use:   "pause <run-id>",
	Short: "Pause an in-progress run",
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
		res, err := orch.Pause(args[0], pauseReason)
		if err != nil {
			return err
		}
		fmt.Printf("run %s paused\n", res.RunID)
		fmt.Printf("continue with: orc resume %s\n", res.RunID)
		return nil
	},
}

func init() {
	pauseCmd.Flags().StringVar(&pauseReason, "reason", "", "Reason recorded with the pause event")
	rootCmd.AddCommand(pauseCmd)
}
