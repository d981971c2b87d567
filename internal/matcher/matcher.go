// Package matcher picks the dataset that best covers an intent's columns.
package matcher

import (
	"sort"

	"github.com/leapstack-labs/leapask/internal/colmatch"
	"github.com/leapstack-labs/leapask/pkg/core"
)

// Matcher ranks datasets against intents. It is a pure function of its
// inputs and safe for concurrent use.
type Matcher struct {
	cmp *colmatch.Comparator
}

// New creates a matcher. A nil comparator uses colmatch.Default().
func New(cmp *colmatch.Comparator) *Matcher {
	if cmp == nil {
		cmp = colmatch.Default()
	}
	return &Matcher{cmp: cmp}
}

// Score rates one dataset against the intent. Score is the fraction of the
// intent's distinct references that resolve to a dataset column.
func (m *Matcher) Score(in core.Intent, ds core.Dataset) core.MatchResult {
	refs := in.References()
	res := core.MatchResult{Dataset: ds, Matched: make(map[string]string, len(refs))}
	for _, ref := range refs {
		if col, ok := m.cmp.Match(ref, ds.Columns); ok {
			res.Matched[ref] = col
		}
	}
	if len(refs) > 0 {
		res.Score = float64(len(res.Matched)) / float64(len(refs))
	}
	if metric := in.MetricName(); metric != "" {
		_, res.MetricPresent = res.Matched[metric]
	}
	return res
}

// Rank scores every dataset and returns the candidates in preference order.
// Datasets missing the intent's metric are left out. Ties on score prefer
// the most recently indexed dataset, then the lexically smaller name.
func (m *Matcher) Rank(in core.Intent, datasets []core.Dataset) []core.MatchResult {
	hasMetric := in.MetricName() != ""
	results := make([]core.MatchResult, 0, len(datasets))
	for _, ds := range datasets {
		res := m.Score(in, ds)
		if hasMetric && !res.MetricPresent {
			continue
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Dataset.IndexedAt.Equal(b.Dataset.IndexedAt) {
			return a.Dataset.IndexedAt.After(b.Dataset.IndexedAt)
		}
		return a.Dataset.Name < b.Dataset.Name
	})
	return results
}

// Match returns the best dataset for the intent. It fails with
// core.ErrNoMatch when no dataset scores above zero.
func (m *Matcher) Match(in core.Intent, datasets []core.Dataset) (core.MatchResult, error) {
	if len(datasets) == 0 {
		return core.MatchResult{}, core.Errorf(core.ErrNoMatch, "no datasets are indexed")
	}
	ranked := m.Rank(in, datasets)
	if len(ranked) == 0 || ranked[0].Score <= 0 {
		if metric := in.MetricName(); metric != "" {
			return core.MatchResult{}, core.Errorf(core.ErrNoMatch, "no dataset has a column matching %q", metric)
		}
		return core.MatchResult{}, core.Errorf(core.ErrNoMatch, "no dataset has columns matching %q", in.References())
	}
	return ranked[0], nil
}
