// Package intent turns a natural-language question into a structured
// analysis intent by asking a classifier model.
package intent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/leapask/internal/colmatch"
	"github.com/leapstack-labs/leapask/pkg/core"
)

// DefaultTimeout bounds one classifier call.
const DefaultTimeout = 30 * time.Second

// Config holds resolver dependencies.
type Config struct {
	LLM        LLMClient
	Comparator *colmatch.Comparator
	// Timeout bounds the classifier call. Zero means DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Resolver maps questions to intents. It holds no per-request state and is
// safe for concurrent use.
type Resolver struct {
	llm     LLMClient
	cmp     *colmatch.Comparator
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.LLM == nil {
		return nil, errors.New("intent: classifier client is required")
	}
	r := &Resolver{
		llm:     cfg.LLM,
		cmp:     cfg.Comparator,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
	if r.cmp == nil {
		r.cmp = colmatch.Default()
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r, nil
}

// Resolve classifies question. Field names are canonicalized against
// knownColumns where they resolve and left as the classifier wrote them
// otherwise. The classifier is called exactly once.
//
// Errors carry core.ErrUpstreamUnavailable when the classifier cannot be
// reached or times out, and core.ErrMalformedIntent when its answer does not
// match the intent schema.
func (r *Resolver) Resolve(ctx context.Context, question string, knownColumns []string) (core.Intent, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return core.Intent{}, core.Errorf(core.ErrMalformedIntent, "question is empty")
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	response, err := r.llm.Complete(callCtx, SystemPrompt, BuildUserPrompt(question, knownColumns))
	if err != nil {
		r.logger.Warn("classifier unavailable", "error", err, "duration", time.Since(start))
		return core.Intent{}, core.NewError(core.ErrUpstreamUnavailable, err)
	}

	in, err := ParseIntent(response)
	if err != nil {
		r.logger.Warn("classifier returned malformed intent", "error", err, "response_len", len(response))
		return core.Intent{}, core.NewError(core.ErrMalformedIntent, err)
	}

	in = r.Canonicalize(in, knownColumns)
	r.logger.Debug("intent resolved", "intent", in.String(), "duration", time.Since(start))
	return in, nil
}

// Canonicalize rewrites each field name to the known column it resolves to.
// Unresolved names are kept. Duplicate group keys are dropped.
func (r *Resolver) Canonicalize(in core.Intent, knownColumns []string) core.Intent {
	out := in.Clone()
	canon := func(name string) string {
		if col, ok := r.cmp.Match(name, knownColumns); ok {
			return col
		}
		return name
	}

	if out.Metric != nil {
		*out.Metric = canon(*out.Metric)
	}
	if out.TimeField != nil {
		*out.TimeField = canon(*out.TimeField)
	}
	if len(out.GroupBy) > 0 {
		seen := make(map[string]bool, len(out.GroupBy))
		groups := make([]string, 0, len(out.GroupBy))
		for _, g := range out.GroupBy {
			c := canon(g)
			if seen[c] {
				continue
			}
			seen[c] = true
			groups = append(groups, c)
		}
		out.GroupBy = groups
	}
	return out
}
