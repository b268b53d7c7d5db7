package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// CommandInvoker spawns a recovery handler through the runtime command,
// the same protocol skill steps use. The handler receives the failure
// context both as --arg flags and through ORC_RECOVERY_CONTEXT, and must
// print a recovery plan as JSON on stdout.
type CommandInvoker struct {
	// RuntimeCommand spawns handler sessions, e.g. "claude".
	RuntimeCommand string

	// WorkDir is the working directory for spawned handlers.
	WorkDir string

	// execCommand is swapped in tests.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewCommandInvoker builds an invoker spawning handlers via runtimeCommand.
func NewCommandInvoker(runtimeCommand, workDir string) *CommandInvoker {
	return &CommandInvoker{
		RuntimeCommand: runtimeCommand,
		WorkDir:        workDir,
		execCommand:    exec.CommandContext,
	}
}

// Invoke implements Invoker.
func (v *CommandInvoker) Invoke(ctx context.Context, req Request) (Plan, error) {
	args := []string{
		"--skill", req.HandlerRef,
		"--output-format", "json",
		"--arg", "run_id=" + req.RunID,
		"--arg", "phase=" + req.Phase,
		"--arg", "step=" + req.Step,
	}
	if req.Error != "" {
		args = append(args, "--arg", "error="+req.Error)
	}
	if req.Category != "" {
		args = append(args, "--arg", "category="+req.Category)
	}

	cmd := v.execCommand(ctx, v.RuntimeCommand, args...)
	cmd.Dir = v.WorkDir
	cmd.Env = os.Environ()
	if req.ContextPath != "" {
		cmd.Env = append(cmd.Env, "ORC_RECOVERY_CONTEXT="+req.ContextPath)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Plan{}, fmt.Errorf("handler %s: %w", req.HandlerRef, context.DeadlineExceeded)
		}
		return Plan{}, fmt.Errorf("handler %s: %v: %s", req.HandlerRef, err, bytes.TrimSpace(stderr.Bytes()))
	}

	plan, err := decodePlan(stdout.Bytes())
	if err != nil {
		return Plan{}, fmt.Errorf("handler %s: %w", req.HandlerRef, err)
	}
	return plan, nil
}

// decodePlan reads a plan from handler output: the whole stdout as JSON,
// or the last non-empty line when the handler chats before its verdict.
func decodePlan(raw []byte) (Plan, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Plan{}, fmt.Errorf("empty handler output")
	}
	var plan Plan
	if err := json.Unmarshal(trimmed, &plan); err == nil && plan.Action != "" {
		return plan, nil
	}
	lines := bytes.Split(trimmed, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &plan); err == nil && plan.Action != "" {
			return plan, nil
		}
		break
	}
	return Plan{}, fmt.Errorf("handler output is not a recovery plan")
}
