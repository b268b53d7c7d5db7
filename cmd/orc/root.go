package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boshu2/orc/embedded"
	"github.com/boshu2/orc/internal/config"
	"github.com/boshu2/orc/internal/executor"
	"github.com/boshu2/orc/internal/handler"
	"github.com/boshu2/orc/internal/logger"
	"github.com/boshu2/orc/internal/orchestrator"
	"github.com/boshu2/orc/internal/recovery"
	"github.com/boshu2/orc/internal/runstate"
	"github.com/boshu2/orc/internal/workflow"
)

var (
	// Global flags
	dryRun  bool
	verbose bool
	output  string
	cfgFile string
	baseDir string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "orc",
	Short: "Resumable multi-phase workflow orchestration",
	Long: `orc drives long-running work through five fixed phases:
frame, architect, build, evaluate, release.

Every transition is recorded on an append-only event log before state
changes, so a run can be paused, resumed in a later session, recovered
after failures, and audited after the fact.

Core Commands:
  run        Start a workflow run
  resume     Resume a suspended run
  status     Show run progress
  approve    Grant approval for a gated phase
  events     Inspect and verify the event trail
  workflows  List and inspect workflow definitions`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format (table, json, yaml, markdown)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .orc/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "Data directory (default: .orc)")
}

// GetDryRun returns the dry-run flag value for use by subcommands.
func GetDryRun() bool {
	return dryRun
}

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool {
	return verbose
}

// GetCurrentUser returns the current system username.
// Uses os/user package for reliable identity, not spoofable via env vars.
func GetCurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("ORC_CONFIG", path)
}

// loadConfig resolves the effective configuration with flag overrides on
// top of env, project, and home config.
func loadConfig() (*config.Config, error) {
	overrides := &config.Config{
		Output:  output,
		BaseDir: baseDir,
		Verbose: verbose,
	}
	cfg, err := config.Load(overrides)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app bundles the pieces every run-facing command needs.
type app struct {
	cfg      *config.Config
	store    *runstate.Store
	registry *runstate.Registry
	loader   *workflow.Loader
	resolver *workflow.Resolver
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	loader := workflow.NewLoader(embedded.WorkflowsFS, cfg.WorkflowDirs()...)
	return &app{
		cfg:      cfg,
		store:    runstate.NewStore(cfg.RunsDir(), runstate.WithLockTimeout(cfg.LockTimeout())),
		registry: runstate.NewRegistry(cfg.RunsDir()),
		loader:   loader,
		resolver: workflow.NewResolver(loader),
	}, nil
}

// orchestrator wires the full execution stack. interactive controls
// whether degraded steps may prompt the operator; autonomous invocations
// take the safe defaults instead.
func (a *app) orchestrator(interactive bool) (*orchestrator.Orchestrator, error) {
	rules, err := loadRules(a.cfg)
	if err != nil {
		return nil, err
	}

	var prompter handler.Prompter
	if interactive {
		prompter = NewTerminalPrompter()
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	runner := executor.New(a.cfg.Runtime.Command, workDir, executor.WithTimeout(a.cfg.StepTimeout()))
	ctrl := recovery.NewController(
		recovery.NewCommandInvoker(a.cfg.Runtime.Command, workDir),
		recovery.WithLimits(a.cfg.Recovery.MaxAttempts, a.cfg.Recovery.MaxStepRetries),
		recovery.WithHandlerTimeout(a.cfg.HandlerTimeout()),
	)

	return orchestrator.New(a.store, a.registry, a.resolver, runner, handler.New(prompter, rules),
		orchestrator.WithRecovery(ctrl),
		orchestrator.WithKillFile(a.cfg.KillFile()),
		orchestrator.WithDestructiveAuto(a.cfg.Approval.AllowDestructiveAuto),
		orchestrator.WithLoggerFactory(func(runDir string) (*slog.Logger, func() error, error) {
			log, err := logger.New(logger.Options{RunDir: runDir, Verbose: GetVerbose()})
			if err != nil {
				return nil, nil, err
			}
			return log.Slogger, log.Close, nil
		}),
	), nil
}

// loadRules reads the configured failure rule table, falling back to the
// built-in one.
func loadRules(cfg *config.Config) (*handler.RuleTable, error) {
	if cfg.Workflow.RulesFile != "" {
		data, err := os.ReadFile(cfg.Workflow.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("read rules file: %w", err)
		}
		return handler.ParseRules(data)
	}
	return handler.ParseRules(embedded.RulesYAML)
}
