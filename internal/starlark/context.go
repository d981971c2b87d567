package starlark

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultStdoutLimit caps the bytes captured from print.
const DefaultStdoutLimit = 64 * 1024

// fileOptions is the dialect snippets are written in. Top-level loops and
// reassignment are allowed because generated code is a straight-line script.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// FileOptions returns the dialect snippets are parsed with.
func FileOptions() *syntax.FileOptions {
	return fileOptions
}

// ExecutionContext holds the globals and captured output of one snippet run.
// It is not reused across runs.
type ExecutionContext struct {
	// Loader resolves load_sheet calls.
	Loader SheetLoader

	stdoutLimit int
	maxSteps    uint64

	globals starlark.StringDict

	mu        sync.Mutex
	stdout    strings.Builder
	truncated bool
}

// ContextOption is a functional option for configuring ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithStdoutLimit caps the captured print output. Zero means DefaultStdoutLimit.
func WithStdoutLimit(n int) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.stdoutLimit = n
	}
}

// WithMaxSteps bounds the number of interpreter steps. Zero means unbounded.
func WithMaxSteps(n uint64) ContextOption {
	return func(ctx *ExecutionContext) {
		ctx.maxSteps = n
	}
}

// NewExecutionContext creates a new execution context.
func NewExecutionContext(loader SheetLoader, opts ...ContextOption) *ExecutionContext {
	ctx := &ExecutionContext{Loader: loader}
	for _, opt := range opts {
		opt(ctx)
	}
	if ctx.stdoutLimit <= 0 {
		ctx.stdoutLimit = DefaultStdoutLimit
	}
	ctx.globals = Predeclared(loader)
	return ctx
}

// Globals returns the predeclared globals for execution.
func (ctx *ExecutionContext) Globals() starlark.StringDict {
	return ctx.globals
}

// NewThread creates a thread whose print output is captured by ctx.
func (ctx *ExecutionContext) NewThread(name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  name,
		Print: ctx.print,
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load(%q): modules are not available", module)
		},
	}
	if ctx.maxSteps > 0 {
		thread.SetMaxExecutionSteps(ctx.maxSteps)
	}
	return thread
}

func (ctx *ExecutionContext) print(_ *starlark.Thread, msg string) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.truncated {
		return
	}
	if ctx.stdout.Len()+len(msg)+1 > ctx.stdoutLimit {
		remaining := ctx.stdoutLimit - ctx.stdout.Len()
		if remaining > 0 {
			ctx.stdout.WriteString(msg[:min(remaining, len(msg))])
		}
		ctx.stdout.WriteString("\n... output truncated\n")
		ctx.truncated = true
		return
	}
	ctx.stdout.WriteString(msg)
	ctx.stdout.WriteByte('\n')
}

// Stdout returns everything printed so far.
func (ctx *ExecutionContext) Stdout() string {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.stdout.String()
}

// Exec runs src as a file on thread and returns its globals.
func (ctx *ExecutionContext) Exec(thread *starlark.Thread, filename, src string) (starlark.StringDict, error) {
	globals, err := starlark.ExecFileOptions(fileOptions, thread, filename, src, ctx.globals)
	if err != nil {
		return globals, newExecError(filename, err)
	}
	return globals, nil
}

// ExecError is a syntax or runtime error raised by a snippet.
type ExecError struct {
	File    string
	Line    int
	Message string
	// Backtrace is the Starlark call stack for runtime errors.
	Backtrace string
	err       error
}

func newExecError(filename string, err error) *ExecError {
	e := &ExecError{File: filename, Message: err.Error(), err: err}

	var evalErr *starlark.EvalError
	var syntaxErr syntax.Error
	var resolveErrs resolve.ErrorList
	switch {
	case errors.As(err, &evalErr):
		e.Message = evalErr.Msg
		e.Backtrace = evalErr.Backtrace()
		// innermost frame with a source position; builtins have none
		for i := 0; i < len(evalErr.CallStack); i++ {
			if pos := evalErr.CallStack.At(i).Pos; pos.Line > 0 {
				e.Line = int(pos.Line)
				break
			}
		}
	case errors.As(err, &syntaxErr):
		e.Message = syntaxErr.Msg
		e.Line = int(syntaxErr.Pos.Line)
	case errors.As(err, &resolveErrs) && len(resolveErrs) > 0:
		e.Message = resolveErrs[0].Msg
		e.Line = int(resolveErrs[0].Pos.Line)
	}
	return e
}

func (e *ExecError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *ExecError) Unwrap() error {
	return e.err
}
