package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisType_Valid(t *testing.T) {
	for _, at := range AnalysisTypes {
		assert.True(t, at.Valid(), "%s should be valid", at)
	}
	assert.False(t, AnalysisType("median").Valid())
	assert.False(t, AnalysisType("").Valid())
}

func TestIntent_References(t *testing.T) {
	tests := []struct {
		name   string
		intent Intent
		want   []string
	}{
		{
			name:   "metric only",
			intent: Intent{AnalysisType: AnalysisSum, Metric: StringPtr("sales")},
			want:   []string{"sales"},
		},
		{
			name: "all fields with duplicates",
			intent: Intent{
				AnalysisType: AnalysisTrend,
				Metric:       StringPtr("sales"),
				GroupBy:      []string{"City", "sales", "Region"},
				TimeField:    StringPtr("City"),
			},
			want: []string{"sales", "City", "Region"},
		},
		{
			name:   "empty",
			intent: Intent{AnalysisType: AnalysisGroupBy},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.intent.References())
		})
	}
}

func TestIntent_MarshalJSON(t *testing.T) {
	in := Intent{AnalysisType: AnalysisTopN, Metric: StringPtr("revenue"), TopN: IntPtr(5)}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"analysis_type":"topn","metric":"revenue","group_by":[],"time_field":null,"top_n":5}`, string(data))
}

func TestIntent_Clone(t *testing.T) {
	in := Intent{AnalysisType: AnalysisSum, Metric: StringPtr("a"), GroupBy: []string{"b"}, TopN: IntPtr(3)}
	out := in.Clone()

	*out.Metric = "changed"
	out.GroupBy[0] = "changed"
	*out.TopN = 9

	assert.Equal(t, "a", *in.Metric)
	assert.Equal(t, "b", in.GroupBy[0])
	assert.Equal(t, 3, *in.TopN)
}

func TestError(t *testing.T) {
	err := Errorf(ErrNoMatch, "no dataset contains %q", "revenue")
	assert.Equal(t, `no_match: no dataset contains "revenue"`, err.Error())

	wrapped := fmt.Errorf("plan: %w", err)
	assert.Equal(t, ErrNoMatch, CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, ErrNoMatch))
	assert.True(t, errors.Is(wrapped, &Error{Code: ErrNoMatch}))
	assert.False(t, errors.Is(wrapped, &Error{Code: ErrGeneration}))

	assert.Equal(t, "execution_timeout", NewError(ErrExecutionTimeout, nil).Error())
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestResponse_Fail(t *testing.T) {
	resp := &Response{
		ResultPreview: []map[string]any{{"a": 1}},
		Columns:       []string{"a"},
	}
	resp.Fail(Errorf(ErrGeneration, "topn requires top_n"))

	require.NotNil(t, resp.Error)
	assert.Nil(t, resp.ResultPreview)
	assert.Nil(t, resp.Columns)
	assert.Equal(t, ErrGeneration, resp.ErrorCode())
}

func TestResponse_JSONShape(t *testing.T) {
	data, err := json.Marshal(&Response{})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"intent", "code", "target_file", "used_columns", "result_preview", "columns", "stdout", "error"} {
		assert.Contains(t, fields, key)
	}
	assert.Len(t, fields, 8)
}

func TestSnippet(t *testing.T) {
	s := NewSnippet("result = 1", "sales.xlsx")
	assert.Equal(t, "result = 1", s.Code())
	assert.Equal(t, "sales.xlsx", s.DatasetPath())
}
