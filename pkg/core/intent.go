package core

import (
	"encoding/json"
	"fmt"
)

// AnalysisType names the kind of analysis an Intent requests.
type AnalysisType string

// Supported analysis types.
const (
	AnalysisSum     AnalysisType = "sum"
	AnalysisAvg     AnalysisType = "avg"
	AnalysisTrend   AnalysisType = "trend"
	AnalysisGroupBy AnalysisType = "groupby"
	AnalysisSort    AnalysisType = "sort"
	AnalysisTopN    AnalysisType = "topn"
)

// AnalysisTypes lists every valid analysis type in prompt order.
var AnalysisTypes = []AnalysisType{
	AnalysisSum,
	AnalysisAvg,
	AnalysisTrend,
	AnalysisGroupBy,
	AnalysisSort,
	AnalysisTopN,
}

// Valid reports whether t is one of the supported analysis types.
func (t AnalysisType) Valid() bool {
	for _, v := range AnalysisTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Intent is the structured form of a natural-language question.
//
// Field names may still be semantic text straight from the classifier; only the
// matcher and code generator resolve them against real dataset columns.
type Intent struct {
	AnalysisType AnalysisType `json:"analysis_type"`
	Metric       *string      `json:"metric"`
	GroupBy      []string     `json:"group_by"`
	TimeField    *string      `json:"time_field"`
	TopN         *int         `json:"top_n"`
}

// MarshalJSON always emits group_by as an array, never null.
func (i Intent) MarshalJSON() ([]byte, error) {
	type plain Intent
	p := plain(i)
	if p.GroupBy == nil {
		p.GroupBy = []string{}
	}
	return json.Marshal(p)
}

// MetricName returns the metric or "" when unset.
func (i Intent) MetricName() string {
	if i.Metric == nil {
		return ""
	}
	return *i.Metric
}

// TimeFieldName returns the time field or "" when unset.
func (i Intent) TimeFieldName() string {
	if i.TimeField == nil {
		return ""
	}
	return *i.TimeField
}

// References returns the distinct column names the intent refers to, in the order
// metric, group_by..., time_field. Empty names are skipped.
func (i Intent) References() []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		refs = append(refs, name)
	}
	add(i.MetricName())
	for _, g := range i.GroupBy {
		add(g)
	}
	add(i.TimeFieldName())
	return refs
}

// Clone returns a deep copy so callers can rewrite field names safely.
func (i Intent) Clone() Intent {
	out := Intent{AnalysisType: i.AnalysisType}
	if i.Metric != nil {
		out.Metric = StringPtr(*i.Metric)
	}
	if i.TimeField != nil {
		out.TimeField = StringPtr(*i.TimeField)
	}
	if i.TopN != nil {
		n := *i.TopN
		out.TopN = &n
	}
	if i.GroupBy != nil {
		out.GroupBy = append([]string{}, i.GroupBy...)
	}
	return out
}

func (i Intent) String() string {
	s := fmt.Sprintf("%s(metric=%q group_by=%q time_field=%q", i.AnalysisType, i.MetricName(), i.GroupBy, i.TimeFieldName())
	if i.TopN != nil {
		s += fmt.Sprintf(" top_n=%d", *i.TopN)
	}
	return s + ")"
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
