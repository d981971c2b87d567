// Package codegen turns a resolved intent into a Starlark analysis snippet.
//
// Snippets are built from fixed templates keyed by analysis type. Only
// canonical column names (as quoted string literals) and integers are
// substituted, never free text from the question.
package codegen

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapask/internal/colmatch"
	"github.com/leapstack-labs/leapask/pkg/core"
	"go.starlark.net/syntax"
)

// TrendFrequency is the resample bucket used for trend analyses.
const TrendFrequency = "M"

// Generator emits snippets. It is stateless and safe for concurrent use.
type Generator struct {
	cmp *colmatch.Comparator
}

// New creates a generator. A nil comparator uses colmatch.Default().
func New(cmp *colmatch.Comparator) *Generator {
	if cmp == nil {
		cmp = colmatch.Default()
	}
	return &Generator{cmp: cmp}
}

// plan is an intent whose fields are canonical column names of one dataset.
type plan struct {
	metric    string
	groupBy   []string
	timeField string
	topN      int
}

// Generate builds the snippet for in against ds. Missing required fields and
// fields that do not name a column of ds are generation errors.
func (g *Generator) Generate(in core.Intent, ds core.Dataset) (core.Snippet, error) {
	if !in.AnalysisType.Valid() {
		return core.Snippet{}, core.Errorf(core.ErrGeneration, "unsupported analysis type %q", in.AnalysisType)
	}
	p, err := g.resolve(in, ds)
	if err != nil {
		return core.Snippet{}, err
	}

	var body []string
	switch in.AnalysisType {
	case core.AnalysisSum, core.AnalysisAvg:
		body, err = aggregateLines(in.AnalysisType, p)
	case core.AnalysisTrend:
		body, err = trendLines(p)
	case core.AnalysisGroupBy:
		body, err = groupByLines(p)
	case core.AnalysisSort:
		body, err = sortLines(p)
	case core.AnalysisTopN:
		body, err = topNLines(p)
	}
	if err != nil {
		return core.Snippet{}, core.NewError(core.ErrGeneration, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "df = load_sheet(%s)\n", quote(ds.Name))
	for _, line := range body {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return core.NewSnippet(sb.String(), ds.Path), nil
}

// resolve re-canonicalizes every intent field against the dataset columns.
func (g *Generator) resolve(in core.Intent, ds core.Dataset) (plan, error) {
	var p plan
	lookup := func(field, ref string) (string, error) {
		col, ok := g.cmp.Match(ref, ds.Columns)
		if !ok {
			return "", core.Errorf(core.ErrGeneration, "%s %q is not a column of %s", field, ref, ds.Name)
		}
		return col, nil
	}

	var err error
	if name := in.MetricName(); name != "" {
		if p.metric, err = lookup("metric", name); err != nil {
			return plan{}, err
		}
	}
	if name := in.TimeFieldName(); name != "" {
		if p.timeField, err = lookup("time_field", name); err != nil {
			return plan{}, err
		}
	}
	for _, ref := range in.GroupBy {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		col, err := lookup("group_by", ref)
		if err != nil {
			return plan{}, err
		}
		if !slices.Contains(p.groupBy, col) {
			p.groupBy = append(p.groupBy, col)
		}
	}
	if in.TopN != nil {
		if *in.TopN <= 0 {
			return plan{}, core.Errorf(core.ErrGeneration, "top_n must be positive, got %d", *in.TopN)
		}
		p.topN = *in.TopN
	}
	return p, nil
}

func aggregateLines(kind core.AnalysisType, p plan) ([]string, error) {
	if p.metric == "" {
		return nil, fmt.Errorf("%s analysis requires a metric", kind)
	}
	fn := "sum"
	if kind == core.AnalysisAvg {
		fn = "mean"
	}
	keys := without(p.groupBy, p.metric)
	if len(keys) == 0 {
		return []string{
			fmt.Sprintf("result = frame({%s: [df[%s].%s()]})", quote(p.metric+"_"+fn), quote(p.metric), fn),
		}, nil
	}
	return []string{
		fmt.Sprintf("result = df.groupby(%s).agg(df[%s], %s)", columnList(keys), quote(p.metric), quote(fn)),
	}, nil
}

func trendLines(p plan) ([]string, error) {
	if p.timeField == "" {
		return nil, fmt.Errorf("trend analysis requires a time_field")
	}
	if p.metric == p.timeField {
		return nil, fmt.Errorf("metric %q cannot also be the time_field", p.metric)
	}
	t := quote(p.timeField)
	lines := []string{
		fmt.Sprintf("df = df.with_column(%s, to_datetime(df[%s]))", t, t),
	}

	resample := fmt.Sprintf("df.resample(df[%s], %s", t, quote(TrendFrequency))
	if keys := without(without(p.groupBy, p.timeField), p.metric); len(keys) > 0 {
		resample += ", by=" + columnList(keys)
	}
	resample += ")"

	if p.metric == "" {
		lines = append(lines, fmt.Sprintf("result = %s.size()", resample))
	} else {
		lines = append(lines, fmt.Sprintf("result = %s.agg(df[%s], %s)", resample, quote(p.metric), quote("mean")))
	}
	return lines, nil
}

func groupByLines(p plan) ([]string, error) {
	keys := without(p.groupBy, p.metric)
	if len(keys) == 0 {
		return nil, fmt.Errorf("groupby analysis requires group_by columns other than the metric")
	}
	if p.metric == "" {
		return []string{
			fmt.Sprintf("result = df.groupby(%s).agg_numeric(%s)", columnList(keys), quote("sum")),
		}, nil
	}
	return []string{
		fmt.Sprintf("result = df.groupby(%s).agg(df[%s], %s, %s, %s)",
			columnList(keys), quote(p.metric), quote("count"), quote("mean"), quote("sum")),
	}, nil
}

func sortLines(p plan) ([]string, error) {
	if p.metric == "" {
		return nil, fmt.Errorf("sort analysis requires a metric")
	}
	return []string{
		fmt.Sprintf("result = df.sort(df[%s], descending=True)", quote(p.metric)),
	}, nil
}

func topNLines(p plan) ([]string, error) {
	if p.metric == "" {
		return nil, fmt.Errorf("topn analysis requires a metric")
	}
	if p.topN == 0 {
		return nil, fmt.Errorf("topn analysis requires top_n")
	}
	return []string{
		fmt.Sprintf("result = df.nlargest(%s, df[%s])", strconv.Itoa(p.topN), quote(p.metric)),
	}, nil
}

// columnList renders [df["a"], df["b"]].
func columnList(cols []string) string {
	refs := make([]string, len(cols))
	for i, c := range cols {
		refs[i] = "df[" + quote(c) + "]"
	}
	return "[" + strings.Join(refs, ", ") + "]"
}

func without(cols []string, drop string) []string {
	if drop == "" {
		return cols
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != drop {
			out = append(out, c)
		}
	}
	return out
}

func quote(s string) string {
	return syntax.Quote(s, false)
}
