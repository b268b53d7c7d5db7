package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/orc/internal/formatter"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List and inspect workflow definitions",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available workflow definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ids, err := a.loader.List()
		if err != nil {
			return err
		}
		for _, id := range ids {
			if id == a.cfg.Workflow.Default {
				fmt.Printf("%s (default)\n", id)
				continue
			}
			fmt.Println(id)
		}
		return nil
	},
}

var workflowsShowCmd = &cobra.Command{
	Use:   "show <workflow>",
	Short: "Show a workflow's resolved step plan",
	Long: `Resolve the named workflow through its inheritance chain and print
the flat step plan that a run of it would execute.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		switch a.cfg.Output {
		case "json":
			resolved, err := a.resolver.Resolve(args[0])
			if err != nil {
				return err
			}
			return formatter.WriteJSON(os.Stdout, resolved)
		case "yaml":
			resolved, err := a.resolver.Resolve(args[0])
			if err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(resolved)
		}
		return previewWorkflow(a, args[0])
	},
}

func init() {
	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsCmd.AddCommand(workflowsShowCmd)
	rootCmd.AddCommand(workflowsCmd)
}
