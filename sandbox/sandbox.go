// Package sandbox executes model-written snippets under a restricted
// capability surface so the agent can synthesize ad hoc queries and charts it
// could not pre-enumerate, without touching the host process.
//
// The interpreter is Starlark: it has no filesystem, network, process or
// module-import capability of its own, so the whitelist below is the entire
// surface the snippet can reach. Predeclared bindings are query_sql (bound to
// the session's store) and the chart constructors; Starlark's universe
// contributes the safe built-ins (len, range, enumerate, type constructors,
// print).
//
// The snippet signals success by binding a variable named `fig` to a chart
// value. A missing binding is a semantic failure, not an execution error: Run
// reports it as a normal observation the agent may react to. All faults —
// syntax errors, runtime errors, cancelled contexts, runaway loops, panics —
// are contained and rendered as observations; Run never returns an error and
// never crashes the session.
//
// A Sandbox is session-scoped: the single lastFigure slot assumes at most one
// in-flight chart generation per question. Concurrent sessions must each own
// their own instance.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/melivision/melivision/chart"
	"github.com/melivision/melivision/logging"
	"github.com/melivision/melivision/store"
)

// DefaultMaxSteps bounds interpreter work per snippet. Generous for query
// loops over a LIMIT-bounded result set, far below anything pathological.
const DefaultMaxSteps uint64 = 500_000

const ctxLocalKey = "melivision.ctx"

// fileOpts enables the imperative Starlark dialect the model tends to write
// (top-level if/for, while, set literals, reassignment).
var fileOpts = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Sandbox runs chart snippets against one store.
type Sandbox struct {
	store    *store.Store
	maxSteps uint64
	logger   logging.Logger

	mu         sync.Mutex
	lastFigure *chart.Figure
}

// Option customizes a Sandbox.
type Option func(*Sandbox)

// WithLogger attaches a logger for execution diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(s *Sandbox) { s.logger = logger }
}

// WithMaxSteps overrides the interpreter step budget.
func WithMaxSteps(n uint64) Option {
	return func(s *Sandbox) { s.maxSteps = n }
}

// New builds a sandbox whose query_sql binding targets the given store.
func New(st *store.Store, optFns ...Option) *Sandbox {
	s := &Sandbox{
		store:    st,
		maxSteps: DefaultMaxSteps,
		logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Run executes the snippet and returns the textual observation for the agent.
// On success the produced figure is parked in the single-slot field until the
// orchestrator collects it via TakeFigure.
func (s *Sandbox) Run(ctx context.Context, code string) (observation string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sandbox.run.panic", "recover", r)
			observation = fmt.Sprintf("code execution failed: internal fault: %v", r)
		}
	}()

	var printed strings.Builder
	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			printed.WriteString(msg)
			printed.WriteByte('\n')
		},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)
	thread.SetLocal(ctxLocalKey, ctx)

	// Propagate caller cancellation into the interpreter.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-watchdogDone:
		}
	}()

	globals, err := starlark.ExecFileOptions(fileOpts, thread, "snippet.star", code, s.predeclared())
	if err != nil {
		s.logger.Warn("sandbox.run.failed", "error", err.Error())
		return withOutput(fmt.Sprintf("code execution failed: %s", evalMessage(err)), printed.String())
	}

	figVal, bound := globals["fig"]
	if !bound {
		s.logger.Info("sandbox.run.no_figure")
		return withOutput(
			"code executed without errors but did not bind a variable named fig; no figure was produced. "+
				"Assign the chart to a variable named fig.", printed.String())
	}

	fv, ok := figVal.(*figureValue)
	if !ok {
		return withOutput(fmt.Sprintf(
			"fig is bound to a %s, not a chart figure; build it with bar_chart, line_chart, pie_chart or scatter_chart",
			figVal.Type()), printed.String())
	}

	s.mu.Lock()
	s.lastFigure = fv.fig
	s.mu.Unlock()

	s.logger.Info("sandbox.run.figure", "kind", fv.fig.Kind(), "title", fv.fig.Title())
	return withOutput(fmt.Sprintf("figure produced: %s chart %q", fv.fig.Kind(), fv.fig.Title()), printed.String())
}

// TakeFigure captures the last produced figure and clears the slot, so a
// later question can never see a stale artifact. Returns nil when the slot
// is empty. Capture-then-clear is atomic.
func (s *Sandbox) TakeFigure() *chart.Figure {
	s.mu.Lock()
	defer s.mu.Unlock()
	fig := s.lastFigure
	s.lastFigure = nil
	return fig
}

// HasFigure reports whether a figure is parked in the slot.
func (s *Sandbox) HasFigure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFigure != nil
}

// withOutput appends captured print output to the observation when present.
func withOutput(observation, printed string) string {
	if printed == "" {
		return observation
	}
	return observation + "\noutput:\n" + strings.TrimRight(printed, "\n")
}

// evalMessage prefers the interpreter backtrace so the model sees where the
// snippet failed.
func evalMessage(err error) string {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return evalErr.Backtrace()
	}
	return err.Error()
}
