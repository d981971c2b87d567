package intent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/leapstack-labs/leapask/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T, llm LLMClient, timeout time.Duration) *Resolver {
	t.Helper()
	r, err := New(Config{LLM: llm, Timeout: timeout, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	return r
}

func TestResolver_Resolve(t *testing.T) {
	llm := NewScriptedClient(
		ScriptRule{Contains: "by region", Response: `{"analysis_type":"sum","metric":"sales","group_by":["region"],"time_field":null,"top_n":null}`},
		ScriptRule{Contains: "top 5", Response: `{"analysis_type":"topn","metric":"revenue","group_by":[],"time_field":null,"top_n":5}`},
	)
	r := newResolver(t, llm, 0)
	known := []string{"City", "total sales", "Date"}

	got, err := r.Resolve(context.Background(), "What is the total sales by region?", known)
	require.NoError(t, err)
	assert.Equal(t, core.AnalysisSum, got.AnalysisType)
	assert.Equal(t, "total sales", got.MetricName(), "containment resolves the metric")
	assert.Equal(t, []string{"City"}, got.GroupBy, "alias resolves the group key")

	got, err = r.Resolve(context.Background(), "top 5 products by revenue", known)
	require.NoError(t, err)
	assert.Equal(t, "revenue", got.MetricName(), "unresolved names stay raw")
	assert.Equal(t, 5, *got.TopN)
}

func TestResolver_Errors(t *testing.T) {
	tests := []struct {
		name     string
		llm      *ScriptedClient
		timeout  time.Duration
		question string
		wantCode core.ErrorCode
	}{
		{
			name:     "transport failure",
			llm:      &ScriptedClient{Err: errors.New("connection refused")},
			question: "sum of sales",
			wantCode: core.ErrUpstreamUnavailable,
		},
		{
			name:     "timeout",
			llm:      &ScriptedClient{Default: `{"analysis_type":"sum"}`, Delay: time.Second},
			timeout:  10 * time.Millisecond,
			question: "sum of sales",
			wantCode: core.ErrUpstreamUnavailable,
		},
		{
			name:     "invalid analysis type",
			llm:      &ScriptedClient{Default: `{"analysis_type":"forecast"}`},
			question: "forecast sales",
			wantCode: core.ErrMalformedIntent,
		},
		{
			name:     "prose answer",
			llm:      &ScriptedClient{Default: "I think you want a sum."},
			question: "sum of sales",
			wantCode: core.ErrMalformedIntent,
		},
		{
			name:     "empty question",
			llm:      &ScriptedClient{Default: `{"analysis_type":"sum"}`},
			question: "   ",
			wantCode: core.ErrMalformedIntent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, tt.llm, tt.timeout)
			_, err := r.Resolve(context.Background(), tt.question, []string{"sales"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, core.CodeOf(err))
			assert.LessOrEqual(t, tt.llm.Calls(), 1, "no retries")
		})
	}
}

func TestResolver_Canonicalize(t *testing.T) {
	r := newResolver(t, &ScriptedClient{}, 0)
	in := core.Intent{
		AnalysisType: core.AnalysisTrend,
		Metric:       core.StringPtr("Total_Sales"),
		GroupBy:      []string{"region", "City", "segment"},
		TimeField:    core.StringPtr("order date"),
	}

	out := r.Canonicalize(in, []string{"City", "total sales", "Order Date"})

	assert.Equal(t, "total sales", out.MetricName())
	assert.Equal(t, []string{"City", "segment"}, out.GroupBy)
	assert.Equal(t, "Order Date", out.TimeFieldName())
	assert.Equal(t, "Total_Sales", in.MetricName(), "input is not modified")
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - contains: trend
    response: '{"analysis_type":"trend","metric":"sales","time_field":"date"}'
default: '{"analysis_type":"sum","metric":"sales"}'
`), 0o644))

	llm, err := LoadScript(path)
	require.NoError(t, err)
	require.Len(t, llm.Rules, 1)

	out, err := llm.Complete(context.Background(), "", BuildUserPrompt("Show the TREND please", nil))
	require.NoError(t, err)
	assert.Contains(t, out, `"trend"`)

	out, err = llm.Complete(context.Background(), "", BuildUserPrompt("anything else", nil))
	require.NoError(t, err)
	assert.Contains(t, out, `"sum"`)
	assert.Equal(t, 2, llm.Calls())
}

func TestScriptedClient_NoMatch(t *testing.T) {
	_, err := NewScriptedClient().Complete(context.Background(), "", BuildUserPrompt("q", nil))
	assert.ErrorIs(t, err, ErrNoScriptedResponse)
}
