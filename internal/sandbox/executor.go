// Package sandbox runs analysis snippets in an isolated Starlark interpreter.
//
// Every call gets a fresh thread and a fresh set of predeclared globals, so
// nothing leaks between executions. The only capabilities a snippet has are
// the ones internal/starlark predeclares: load_sheet, frame, to_datetime and
// the math and time modules. load_sheet can only open datasets the Source
// knows, and a generated snippet can only open the dataset it was generated
// for.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lstar "github.com/leapstack-labs/leapask/internal/starlark"
	"github.com/leapstack-labs/leapask/pkg/core"
	"go.starlark.net/starlark"
	"golang.org/x/sync/semaphore"
)

// Defaults for Config fields left at zero.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxSteps      = 50_000_000
	DefaultMaxConcurrent = 4
)

// Source resolves the dataset names a snippet passes to load_sheet.
type Source interface {
	Lookup(name string) (core.Dataset, bool)
	Open(ctx context.Context, ds core.Dataset) (*lstar.Frame, error)
}

// Config configures an Executor.
type Config struct {
	Source Source
	// Timeout bounds the wall-clock time of one execution.
	Timeout time.Duration
	// MaxSteps bounds interpreter steps. Negative disables the budget.
	MaxSteps int64
	// PreviewLimit caps the rows serialized into the result preview.
	PreviewLimit int
	// MaxConcurrent bounds the number of snippets running at once.
	MaxConcurrent int64
	// StdoutLimit caps captured print output in bytes.
	StdoutLimit int
	Logger      *slog.Logger
}

// Executor runs snippets. It is safe for concurrent use.
type Executor struct {
	source       Source
	timeout      time.Duration
	maxSteps     uint64
	previewLimit int
	stdoutLimit  int
	sem          *semaphore.Weighted
	logger       *slog.Logger
}

// New creates an executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Source == nil {
		return nil, errors.New("sandbox: source is required")
	}
	e := &Executor{
		source:       cfg.Source,
		timeout:      cfg.Timeout,
		previewLimit: cfg.PreviewLimit,
		stdoutLimit:  cfg.StdoutLimit,
		logger:       cfg.Logger,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	switch {
	case cfg.MaxSteps == 0:
		e.maxSteps = DefaultMaxSteps
	case cfg.MaxSteps > 0:
		e.maxSteps = uint64(cfg.MaxSteps)
	}
	if e.previewLimit <= 0 {
		e.previewLimit = core.DefaultPreviewLimit
	}
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = DefaultMaxConcurrent
	}
	e.sem = semaphore.NewWeighted(n)
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e, nil
}

// Timeout returns the wall-clock bound applied to each execution.
func (e *Executor) Timeout() time.Duration { return e.timeout }

type outcome struct {
	globals starlark.StringDict
	err     error
}

// Execute runs snippet and returns its result. Failures are reported in the
// result's Error field, never as a panic or a partial preview.
func (e *Executor) Execute(ctx context.Context, snippet core.Snippet) *core.ExecutionResult {
	start := time.Now()
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return core.FailedExecution(core.Errorf(core.ErrExecutionException, "execution cancelled"), "")
	}

	ec := lstar.NewExecutionContext(e.loader(ctx, snippet),
		lstar.WithMaxSteps(e.maxSteps),
		lstar.WithStdoutLimit(e.stdoutLimit),
	)
	thread := ec.NewThread("snippet")

	done := make(chan outcome, 1)
	go func() {
		defer e.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("internal error: %v", r)}
			}
		}()
		globals, err := ec.Exec(thread, "snippet.star", snippet.Code())
		done <- outcome{globals: globals, err: err}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	var out outcome
	select {
	case out = <-done:
	case <-timer.C:
		thread.Cancel("execution timed out")
		e.logger.Warn("snippet timed out", "timeout", e.timeout, "dataset", snippet.DatasetPath())
		return core.FailedExecution(core.NewError(core.ErrExecutionTimeout, nil), ec.Stdout())
	case <-ctx.Done():
		thread.Cancel("execution cancelled")
		e.logger.Debug("snippet cancelled", "error", ctx.Err())
		return core.FailedExecution(core.Errorf(core.ErrExecutionException, "execution cancelled"), "")
	}

	stdout := ec.Stdout()
	if out.err != nil {
		if e.exhausted(thread) {
			e.logger.Warn("snippet exhausted step budget", "max_steps", e.maxSteps)
			return core.FailedExecution(core.NewError(core.ErrExecutionTimeout, nil), stdout)
		}
		e.logger.Debug("snippet failed", "error", out.err)
		return core.FailedExecution(core.NewError(core.ErrExecutionException, out.err), stdout)
	}

	columns, rows, err := tabulate(out.globals[core.ResultVariable])
	if err != nil {
		return core.FailedExecution(core.NewError(core.ErrExecutionException, err), stdout)
	}

	e.logger.Debug("snippet executed",
		"rows", len(rows),
		"columns", len(columns),
		"duration", time.Since(start),
	)
	return &core.ExecutionResult{
		ResultPreview: preview(columns, rows, e.previewLimit),
		Columns:       columns,
		Stdout:        stdout,
	}
}

// loader restricts load_sheet to known datasets and, for generated
// snippets, to the dataset the snippet targets.
func (e *Executor) loader(ctx context.Context, snippet core.Snippet) lstar.SheetLoader {
	target := snippet.DatasetPath()
	return func(name string) (*lstar.Frame, error) {
		ds, ok := e.source.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown dataset %q", name)
		}
		if target != "" && ds.Path != target && ds.Name != target {
			return nil, fmt.Errorf("dataset %q is not available to this snippet", name)
		}
		return e.source.Open(ctx, ds)
	}
}

// exhausted reports whether thread stopped because it used its step budget.
func (e *Executor) exhausted(thread *starlark.Thread) bool {
	return e.maxSteps > 0 && thread.ExecutionSteps() >= e.maxSteps
}
