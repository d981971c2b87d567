// Package pipeline answers questions end to end: intent resolution, file
// matching, code generation, sandboxed execution and lineage extraction.
//
// Every request reads the dataset index once and works from that view. A
// stage that fails ends the request; its error is reported in the response
// and nothing after it runs.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/leapask/internal/codegen"
	"github.com/leapstack-labs/leapask/internal/lineage"
	"github.com/leapstack-labs/leapask/internal/matcher"
	"github.com/leapstack-labs/leapask/pkg/core"
)

// Index is the read side of the dataset index.
type Index interface {
	List() []core.Dataset
	Lookup(name string) (core.Dataset, bool)
}

// Resolver turns a question into an intent.
type Resolver interface {
	Resolve(ctx context.Context, question string, knownColumns []string) (core.Intent, error)
}

// Executor runs a snippet in the sandbox.
type Executor interface {
	Execute(ctx context.Context, snippet core.Snippet) *core.ExecutionResult
}

// History records finished analyses.
type History interface {
	RecordAnalysis(ctx context.Context, rec *core.AnalysisRecord) error
}

// Observer is told about every finished request. code is empty on success.
type Observer interface {
	ObserveRequest(op string, code core.ErrorCode, d time.Duration)
}

// Operation names passed to Observer.
const (
	OpAnalyze = "analyze"
	OpPlan    = "plan"
	OpCode    = "code"
	OpExecute = "execute"
)

// Config holds pipeline dependencies. Index, Resolver and Executor are required.
type Config struct {
	Index     Index
	Resolver  Resolver
	Matcher   *matcher.Matcher
	Generator *codegen.Generator
	Executor  Executor
	History   History
	Observer  Observer
	Logger    *slog.Logger
}

// Pipeline is safe for concurrent use; it keeps no per-request state.
type Pipeline struct {
	index    Index
	resolver Resolver
	matcher  *matcher.Matcher
	gen      *codegen.Generator
	exec     Executor
	history  History
	observer Observer
	logger   *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Index == nil:
		return nil, errors.New("pipeline: index is required")
	case cfg.Resolver == nil:
		return nil, errors.New("pipeline: resolver is required")
	case cfg.Executor == nil:
		return nil, errors.New("pipeline: executor is required")
	}
	p := &Pipeline{
		index:    cfg.Index,
		resolver: cfg.Resolver,
		matcher:  cfg.Matcher,
		gen:      cfg.Generator,
		exec:     cfg.Executor,
		history:  cfg.History,
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}
	if p.matcher == nil {
		p.matcher = matcher.New(nil)
	}
	if p.gen == nil {
		p.gen = codegen.New(nil)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p, nil
}

// PlanResult is the outcome of resolving and matching without generating code.
type PlanResult struct {
	Intent     *core.Intent `json:"intent"`
	TargetFile *string      `json:"target_file"`
	Score      *float64     `json:"score"`
	Error      *string      `json:"error"`
}

// CodeResult is the outcome of generating code without running it.
type CodeResult struct {
	Code        string       `json:"code"`
	Intent      *core.Intent `json:"intent"`
	TargetFile  *string      `json:"target_file"`
	UsedColumns []string     `json:"used_columns"`
	Error       *string      `json:"error"`
}

// plan is the shared front half of every question-driven operation.
type plan struct {
	intent  *core.Intent
	match   *core.MatchResult
	snippet *core.Snippet
	used    []string
}

// run executes stages up to and including generation when generate is set.
func (p *Pipeline) run(ctx context.Context, question string, generate bool) (plan, error) {
	var out plan
	datasets := p.index.List()

	in, err := p.resolver.Resolve(ctx, question, knownColumns(datasets))
	if err != nil {
		return out, err
	}
	out.intent = &in

	m, err := p.matcher.Match(in, datasets)
	if err != nil {
		return out, err
	}
	out.match = &m

	if !generate {
		return out, nil
	}
	snippet, err := p.gen.Generate(in, m.Dataset)
	if err != nil {
		return out, err
	}
	out.snippet = &snippet
	out.used = lineage.Extract(snippet)
	return out, nil
}

// Analyze answers question with the frozen eight-field response.
func (p *Pipeline) Analyze(ctx context.Context, question string) *core.Response {
	start := time.Now()
	resp := &core.Response{}

	pl, err := p.run(ctx, question, true)
	resp.Intent = pl.intent
	if pl.match != nil {
		resp.TargetFile = core.StringPtr(pl.match.Dataset.Name)
	}
	if pl.snippet != nil {
		resp.Code = pl.snippet.Code()
		resp.UsedColumns = pl.used
	}

	if err == nil {
		res := p.exec.Execute(ctx, *pl.snippet)
		resp.Stdout = res.Stdout
		if res.Failed() {
			resp.Error = res.Error
		} else {
			resp.ResultPreview = res.ResultPreview
			resp.Columns = res.Columns
		}
	} else {
		resp.Fail(err)
	}

	p.finish(ctx, OpAnalyze, question, resp, start)
	return resp
}

// Plan resolves question and picks the dataset to answer it from.
func (p *Pipeline) Plan(ctx context.Context, question string) *PlanResult {
	start := time.Now()
	pl, err := p.run(ctx, question, false)

	out := &PlanResult{Intent: pl.intent}
	if pl.match != nil {
		out.TargetFile = core.StringPtr(pl.match.Dataset.Name)
		score := pl.match.Score
		out.Score = &score
	}
	out.Error = errorString(err)
	p.observe(OpPlan, err, start)
	return out
}

// Code resolves question and generates the snippet that would answer it.
func (p *Pipeline) Code(ctx context.Context, question string) *CodeResult {
	start := time.Now()
	pl, err := p.run(ctx, question, true)

	out := &CodeResult{Intent: pl.intent, UsedColumns: pl.used}
	if pl.match != nil {
		out.TargetFile = core.StringPtr(pl.match.Dataset.Name)
	}
	if pl.snippet != nil {
		out.Code = pl.snippet.Code()
	}
	out.Error = errorString(err)
	p.observe(OpCode, err, start)
	return out
}

// Execute runs hand-supplied code. When target names an indexed dataset the
// code may only load that dataset; otherwise it may load any indexed dataset.
func (p *Pipeline) Execute(ctx context.Context, code, target string) *core.ExecutionResult {
	start := time.Now()
	var res *core.ExecutionResult
	switch {
	case strings.TrimSpace(code) == "":
		res = core.FailedExecution(core.Errorf(core.ErrExecutionException, "code is empty"), "")
	case target != "":
		ds, ok := p.index.Lookup(target)
		if !ok {
			res = core.FailedExecution(core.Errorf(core.ErrNoMatch, "unknown dataset %q", target), "")
			break
		}
		res = p.exec.Execute(ctx, core.NewSnippet(code, ds.Path))
	default:
		res = p.exec.Execute(ctx, core.NewSnippet(code, ""))
	}

	var err error
	if res.Failed() {
		err = errors.New(*res.Error)
	}
	p.observe(OpExecute, err, start)
	return res
}

// finish records the analysis and reports it. History failures are logged only.
func (p *Pipeline) finish(ctx context.Context, op, question string, resp *core.Response, start time.Time) {
	elapsed := time.Since(start)
	code := resp.ErrorCode()
	if p.observer != nil {
		p.observer.ObserveRequest(op, code, elapsed)
	}

	attrs := []any{"question_len", len(question), "duration", elapsed}
	if resp.TargetFile != nil {
		attrs = append(attrs, "target_file", *resp.TargetFile)
	}
	if resp.Error != nil {
		p.logger.Info("analysis failed", append(attrs, "error", *resp.Error)...)
	} else {
		p.logger.Info("analysis finished", append(attrs, "rows", len(resp.ResultPreview))...)
	}

	if p.history == nil {
		return
	}
	rec := &core.AnalysisRecord{
		Question:    question,
		Intent:      resp.Intent,
		Code:        resp.Code,
		UsedColumns: resp.UsedColumns,
		RowCount:    len(resp.ResultPreview),
		ErrorCode:   code,
		StartedAt:   start.UTC(),
		Duration:    elapsed,
	}
	if resp.TargetFile != nil {
		rec.TargetFile = *resp.TargetFile
	}
	if resp.Error != nil {
		rec.Error = *resp.Error
	}
	// the request context may already be cancelled; the record is still wanted
	if err := p.history.RecordAnalysis(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("failed to record analysis", "error", err)
	}
}

func (p *Pipeline) observe(op string, err error, start time.Time) {
	if p.observer == nil {
		return
	}
	p.observer.ObserveRequest(op, codeOf(err), time.Since(start))
}

// codeOf returns the taxonomy tag of err, reading it from the message when
// err came back as a plain result string.
func codeOf(err error) core.ErrorCode {
	if err == nil {
		return ""
	}
	if code := core.CodeOf(err); code != "" {
		return code
	}
	msg := err.Error()
	return (&core.Response{Error: &msg}).ErrorCode()
}

func errorString(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

// knownColumns is the ordered union of the datasets' columns.
func knownColumns(datasets []core.Dataset) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ds := range datasets {
		for _, c := range ds.Columns {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
