package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const starterConfig = `# orc project configuration.
# Values here are overridden by ORC_* environment variables and flags.

# output: table
# workflow:
#   default: default
#   rules_file: .orc/rules.yaml
# runtime:
#   command: claude
#   step_timeout: 20m
# recovery:
#   max_attempts: 10
#   max_step_retries: 3
#   handler_timeout: 5m
# approval:
#   allow_destructive_auto: false
`

const starterWorkflow = `# Project workflow extending the built-in default.
# Steps declared here replace the default's steps for that phase;
# pre_steps and post_steps wrap them instead.
id: project
extends: default

phases:
  evaluate:
    steps:
      - id: run-tests
        name: Run the test suite
        command: "make test"
        result_handling:
          on_failure: fix-tests
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold the .orc project directory",
	Long: `Create the project data directory with a commented config file and a
starter workflow extending the built-in default. Existing files are
left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for _, dir := range []string{cfg.BaseDir, cfg.RunsDir(), filepath.Join(cfg.BaseDir, "workflows")} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}

		wrote := false
		for path, content := range map[string]string{
			filepath.Join(cfg.BaseDir, "config.yaml"):               starterConfig,
			filepath.Join(cfg.BaseDir, "workflows", "project.yaml"): starterWorkflow,
		} {
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("kept existing %s\n", path)
				continue
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			wrote = true
		}

		if wrote {
			fmt.Printf("\nstart a run with: orc run\n")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
