// Package orchestrator drives a run through the fixed phase progression,
// one step at a time. It owns the ordering discipline the rest of the
// system depends on: every state transition is preceded by its event, and
// run state only changes through the store's atomic update.
package orchestrator

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/boshu2/orc/internal/approval"
	"github.com/boshu2/orc/internal/eventlog"
	"github.com/boshu2/orc/internal/executor"
	"github.com/boshu2/orc/internal/handler"
	"github.com/boshu2/orc/internal/recovery"
	"github.com/boshu2/orc/internal/runstate"
	"github.com/boshu2/orc/internal/workflow"
)

// Orchestrator wires the resolver, store, executor, handler, recovery
// controller, and approval gate into the run loop.
type Orchestrator struct {
	store    *runstate.Store
	registry *runstate.Registry
	resolver *workflow.Resolver
	runner   executor.Runner
	handler  *handler.Handler
	recovery *recovery.Controller

	// killFile aborts runs cooperatively between steps when it exists.
	killFile string

	// destructiveAuto lets approval gates self-approve, recorded on the
	// event trail.
	destructiveAuto bool

	log        *slog.Logger
	logFactory LoggerFactory
}

// LoggerFactory builds the structured logger for one run directory. The
// returned closer releases the log sink when the loop exits.
type LoggerFactory func(runDir string) (*slog.Logger, func() error, error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecovery installs a recovery controller. Without one, failures with
// handler-reference policies fall back to stop.
func WithRecovery(ctrl *recovery.Controller) Option {
	return func(o *Orchestrator) { o.recovery = ctrl }
}

// WithKillFile sets the cooperative abort file checked between steps.
func WithKillFile(path string) Option {
	return func(o *Orchestrator) { o.killFile = path }
}

// WithDestructiveAuto enables automatic, audited approval of gated phases.
func WithDestructiveAuto(enabled bool) Option {
	return func(o *Orchestrator) { o.destructiveAuto = enabled }
}

// WithLogger sets the structured run logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithLoggerFactory installs a per-run logger. When set, Start and Resume
// swap the orchestrator logger for one rooted at the run directory.
func WithLoggerFactory(f LoggerFactory) Option {
	return func(o *Orchestrator) { o.logFactory = f }
}

// New builds an Orchestrator. store, registry, resolver, runner, and h are
// all required; the run loop dereferences them without nil checks.
func New(store *runstate.Store, registry *runstate.Registry, resolver *workflow.Resolver, runner executor.Runner, h *handler.Handler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		registry: registry,
		resolver: resolver,
		runner:   runner,
		handler:  h,
		recovery: recovery.NewController(nil),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result summarizes where a run loop call left the run.
type Result struct {
	RunID   string
	Status  runstate.Status
	Phase   workflow.Phase
	Step    string
	Message string
}

// StartOptions parameterize a new run.
type StartOptions struct {
	WorkflowID string
	WorkID     string
	Target     string

	// Args seed the execution context for placeholder resolution.
	Args map[string]string
}

// gate builds the approval gate for one run's event log.
func (o *Orchestrator) gate(log *eventlog.Log) *approval.Gate {
	return approval.NewGate(log, approval.WithDestructiveAuto(o.destructiveAuto))
}

// attachRunLogger points the orchestrator logger at the run directory when a
// factory is configured. The returned cleanup closes the sink.
func (o *Orchestrator) attachRunLogger(runDir string) func() {
	if o.logFactory == nil {
		return func() {}
	}
	log, closer, err := o.logFactory(runDir)
	if err != nil || log == nil {
		return func() {}
	}
	o.log = log
	return func() {
		if closer != nil {
			_ = closer()
		}
	}
}

func (o *Orchestrator) killSwitchEngaged() bool {
	if o.killFile == "" {
		return false
	}
	_, err := os.Stat(o.killFile)
	return err == nil
}

func newRunID() string {
	return "run-" + uuid.NewString()[:8]
}

func newSessionID() string {
	return "sess-" + uuid.NewString()[:8]
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
