package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/boshu2/orc/internal/workflow"
)

const defaultStepTimeout = 20 * time.Minute

// Runner executes one resolved step. An error return means the step never
// ran (validation failed); once dispatched, the outcome is always an
// Envelope, with non-conforming responses coerced to failure.
type Runner interface {
	Execute(ctx context.Context, step workflow.Step, ec Context) (Envelope, error)
}

// Executor dispatches steps to their external collaborators: commands run
// through the shell, skills and prompts spawn the configured runtime
// command. All three protocols print a result envelope on stdout.
type Executor struct {
	// RuntimeCommand spawns skill and prompt sessions, e.g. "claude".
	RuntimeCommand string

	// WorkDir is the working directory for spawned processes.
	WorkDir string

	// Timeout bounds one step execution.
	Timeout time.Duration

	// execCommand is swapped in tests.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout overrides the default per-step timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.Timeout = d
		}
	}
}

// New creates an Executor spawning skills and prompts via runtimeCommand.
func New(runtimeCommand, workDir string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		RuntimeCommand: runtimeCommand,
		WorkDir:        workDir,
		Timeout:        defaultStepTimeout,
		execCommand:    exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements Runner.
func (e *Executor) Execute(ctx context.Context, step workflow.Step, ec Context) (Envelope, error) {
	kind, directive, err := step.Directive()
	if err != nil {
		return Envelope{}, err
	}

	resolved, err := ec.Resolve(directive)
	if err != nil {
		return Envelope{}, fmt.Errorf("step %s: %w", step.ID, err)
	}
	args, err := ec.ResolveArgs(step.Arguments)
	if err != nil {
		return Envelope{}, fmt.Errorf("step %s: %w", step.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch kind {
	case workflow.DirectiveCommand:
		cmd = e.execCommand(ctx, "sh", "-c", resolved)
	case workflow.DirectiveSkill:
		cmd = e.execCommand(ctx, e.RuntimeCommand, append([]string{"--skill", resolved, "--output-format", "json"}, argFlags(args)...)...)
	case workflow.DirectivePrompt:
		cmd = e.execCommand(ctx, e.RuntimeCommand, "-p", resolved, "--output-format", "json")
	default:
		return Envelope{}, fmt.Errorf("step %s: unsupported directive %q", step.ID, kind)
	}

	cmd.Dir = e.WorkDir
	cmd.Env = append(os.Environ(), argEnv(args)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failure("step %s timed out after %s", step.ID, e.Timeout), nil
	}
	if runErr != nil {
		env := Failure("step %s: %v", step.ID, runErr)
		env.Errors = collectOutput(stdout.Bytes(), stderr.Bytes())
		return env, nil
	}

	env := Normalize(stdout.Bytes())
	if env.Status == StatusFailure && env.Message == "" {
		env.Message = fmt.Sprintf("step %s failed", step.ID)
	}
	return env, nil
}

// argFlags renders resolved arguments as --arg k=v flags for the runtime
// protocol, sorted for deterministic invocation.
func argFlags(args map[string]string) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	flags := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		flags = append(flags, "--arg", k+"="+args[k])
	}
	return flags
}

// argEnv exposes resolved arguments to command steps as ORC_ARG_* variables.
func argEnv(args map[string]string) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, "ORC_ARG_"+upperSnake(k)+"="+args[k])
	}
	return env
}

func upperSnake(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-('a'-'A'))
		case c >= 'A' && c <= 'Z' || c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func collectOutput(stdout, stderr []byte) []string {
	var out []string
	if s := bytes.TrimSpace(stdout); len(s) > 0 {
		out = append(out, truncate(string(s), 2000))
	}
	if s := bytes.TrimSpace(stderr); len(s) > 0 {
		out = append(out, truncate(string(s), 2000))
	}
	return out
}
