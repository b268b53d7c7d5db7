// Package config provides configuration management for orc.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (ORC_*)
// 3. Project config (.orc/config.yaml in cwd)
// 4. Home config (~/.orc/config.yaml)
// 5. Defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all orc configuration.
type Config struct {
	// Output controls the default output format (table, json, yaml).
	Output string `yaml:"output" json:"output" env:"ORC_OUTPUT"`

	// BaseDir is the orc data directory (default: .orc).
	BaseDir string `yaml:"base_dir" json:"base_dir" env:"ORC_BASE_DIR"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose" env:"ORC_VERBOSE"`

	// Workflow settings
	Workflow WorkflowConfig `yaml:"workflow" json:"workflow"`

	// Runtime settings for spawned step sessions
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`

	// Recovery settings
	Recovery RecoveryConfig `yaml:"recovery" json:"recovery"`

	// Approval settings
	Approval ApprovalConfig `yaml:"approval" json:"approval"`

	// Store settings
	Store StoreConfig `yaml:"store" json:"store"`
}

// WorkflowConfig holds workflow resolution settings.
type WorkflowConfig struct {
	// Default is the workflow id used when none is given.
	Default string `yaml:"default" json:"default" env:"ORC_WORKFLOW_DEFAULT"`

	// Dirs are extra directories searched for workflow definitions, in
	// order, before the embedded fallbacks.
	Dirs []string `yaml:"dirs" json:"dirs" env:"ORC_WORKFLOW_DIRS" envSeparator:":"`

	// RulesFile points at the failure categorization rule table.
	RulesFile string `yaml:"rules_file" json:"rules_file" env:"ORC_RULES_FILE"`
}

// RuntimeConfig holds settings for spawned step sessions.
type RuntimeConfig struct {
	// Command is the CLI command used to spawn skill and prompt sessions.
	// Default: "claude".
	Command string `yaml:"command" json:"command" env:"ORC_RUNTIME_COMMAND"`

	// StepTimeout bounds one step execution. Default: 20m.
	StepTimeout string `yaml:"step_timeout" json:"step_timeout" env:"ORC_STEP_TIMEOUT"`
}

// RecoveryConfig holds recovery controller settings.
type RecoveryConfig struct {
	// MaxAttempts caps recovery attempts across one run. Default: 10.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" env:"ORC_RECOVERY_MAX_ATTEMPTS"`

	// MaxStepRetries caps retries of a single step. Default: 3.
	MaxStepRetries int `yaml:"max_step_retries" json:"max_step_retries" env:"ORC_RECOVERY_MAX_STEP_RETRIES"`

	// HandlerTimeout bounds one handler invocation. Default: 5m.
	HandlerTimeout string `yaml:"handler_timeout" json:"handler_timeout" env:"ORC_RECOVERY_HANDLER_TIMEOUT"`
}

// ApprovalConfig holds approval gate settings.
type ApprovalConfig struct {
	// AllowDestructiveAuto self-approves gated phases, recorded on the
	// event trail. Default: false.
	AllowDestructiveAuto bool `yaml:"allow_destructive_auto" json:"allow_destructive_auto" env:"ORC_ALLOW_DESTRUCTIVE_AUTO"`
}

// StoreConfig holds run state store settings.
type StoreConfig struct {
	// LockTimeout bounds the wait for another process's state lock.
	// Default: 5s.
	LockTimeout string `yaml:"lock_timeout" json:"lock_timeout" env:"ORC_LOCK_TIMEOUT"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput  = "table"
	defaultBaseDir = ".orc"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:  defaultOutput,
		BaseDir: defaultBaseDir,
		Workflow: WorkflowConfig{
			Default: "default",
		},
		Runtime: RuntimeConfig{
			Command:     "claude",
			StepTimeout: "20m",
		},
		Recovery: RecoveryConfig{
			MaxAttempts:    10,
			MaxStepRetries: 3,
			HandlerTimeout: "5m",
		},
		Store: StoreConfig{
			LockTimeout: "5s",
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeConfig, _ := loadFromPath(homeConfigPath())
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	projectConfig, _ := loadFromPath(projectConfigPath())
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// StepTimeout parses the configured step timeout, falling back to the
// default on a malformed value.
func (c *Config) StepTimeout() time.Duration {
	return parseDuration(c.Runtime.StepTimeout, 20*time.Minute)
}

// HandlerTimeout parses the configured recovery handler timeout.
func (c *Config) HandlerTimeout() time.Duration {
	return parseDuration(c.Recovery.HandlerTimeout, 5*time.Minute)
}

// LockTimeout parses the configured state lock timeout.
func (c *Config) LockTimeout() time.Duration {
	return parseDuration(c.Store.LockTimeout, 5*time.Second)
}

// RunsDir is where run directories live.
func (c *Config) RunsDir() string {
	return filepath.Join(c.BaseDir, "runs")
}

// WorkflowDirs are the directories searched for workflow definitions, the
// project directory first.
func (c *Config) WorkflowDirs() []string {
	dirs := []string{filepath.Join(c.BaseDir, "workflows")}
	return append(dirs, c.Workflow.Dirs...)
}

// KillFile is the cooperative abort file checked between steps.
func (c *Config) KillFile() string {
	return filepath.Join(c.BaseDir, "KILL")
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".orc", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("ORC_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".orc", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge overlays non-zero fields of overlay onto base.
func merge(base, overlay *Config) *Config {
	out := *base
	if overlay.Output != "" {
		out.Output = overlay.Output
	}
	if overlay.BaseDir != "" {
		out.BaseDir = overlay.BaseDir
	}
	if overlay.Verbose {
		out.Verbose = true
	}
	if overlay.Workflow.Default != "" {
		out.Workflow.Default = overlay.Workflow.Default
	}
	if len(overlay.Workflow.Dirs) > 0 {
		out.Workflow.Dirs = overlay.Workflow.Dirs
	}
	if overlay.Workflow.RulesFile != "" {
		out.Workflow.RulesFile = overlay.Workflow.RulesFile
	}
	if overlay.Runtime.Command != "" {
		out.Runtime.Command = overlay.Runtime.Command
	}
	if overlay.Runtime.StepTimeout != "" {
		out.Runtime.StepTimeout = overlay.Runtime.StepTimeout
	}
	if overlay.Recovery.MaxAttempts > 0 {
		out.Recovery.MaxAttempts = overlay.Recovery.MaxAttempts
	}
	if overlay.Recovery.MaxStepRetries > 0 {
		out.Recovery.MaxStepRetries = overlay.Recovery.MaxStepRetries
	}
	if overlay.Recovery.HandlerTimeout != "" {
		out.Recovery.HandlerTimeout = overlay.Recovery.HandlerTimeout
	}
	if overlay.Approval.AllowDestructiveAuto {
		out.Approval.AllowDestructiveAuto = true
	}
	if overlay.Store.LockTimeout != "" {
		out.Store.LockTimeout = overlay.Store.LockTimeout
	}
	return &out
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	switch c.Output {
	case "table", "json", "yaml", "markdown":
	default:
		return fmt.Errorf("invalid output format %q (want table, json, yaml, or markdown)", c.Output)
	}
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	if c.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("recovery.max_attempts must be at least 1")
	}
	if c.Recovery.MaxStepRetries < 1 {
		return fmt.Errorf("recovery.max_step_retries must be at least 1")
	}
	return nil
}
