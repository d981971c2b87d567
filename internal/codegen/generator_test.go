package codegen

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapask/internal/lineage"
	lstar "github.com/leapstack-labs/leapask/internal/starlark"
	"github.com/leapstack-labs/leapask/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var salesDataset = core.Dataset{
	Name:     "sales.xlsx",
	Path:     "/data/sales.xlsx",
	Columns:  []string{"City", "total sales", "Date", "units"},
	RowCount: 4,
}

func salesLoader(t *testing.T) lstar.SheetLoader {
	t.Helper()
	return func(name string) (*lstar.Frame, error) {
		if name != salesDataset.Name {
			return nil, fmt.Errorf("unknown dataset %q", name)
		}
		return lstar.NewFrame(salesDataset.Columns, [][]any{
			{"NYC", 10.0, "2024-01-15", 1},
			{"LA", 5.0, "2024-03-10", 2},
			{"NYC", 2.5, "2024-01-20", 3},
			{"SF", 7.0, "2024-03-31", 4},
		})
	}
}

func run(t *testing.T, snippet core.Snippet) *lstar.Frame {
	t.Helper()
	ec := lstar.NewExecutionContext(salesLoader(t))
	globals, err := ec.Exec(ec.NewThread("test"), "snippet.star", snippet.Code())
	require.NoError(t, err, "snippet:\n%s", snippet.Code())
	f, ok := globals[core.ResultVariable].(*lstar.Frame)
	require.True(t, ok, "result is %T", globals[core.ResultVariable])
	return f
}

func TestGenerate_Templates(t *testing.T) {
	tests := []struct {
		name        string
		intent      core.Intent
		wantLine    string
		wantColumns []string
		wantRows    int
		wantUsed    []string
	}{
		{
			name: "grouped sum with semantic names",
			intent: core.Intent{
				AnalysisType: core.AnalysisSum,
				Metric:       core.StringPtr("sales"),
				GroupBy:      []string{"region"},
			},
			wantLine:    `result = df.groupby([df["City"]]).agg(df["total sales"], "sum")`,
			wantColumns: []string{"City", "total sales"},
			wantRows:    3,
			wantUsed:    []string{"City", "total sales"},
		},
		{
			name: "whole column average",
			intent: core.Intent{
				AnalysisType: core.AnalysisAvg,
				Metric:       core.StringPtr("units"),
			},
			wantLine:    `result = frame({"units_mean": [df["units"].mean()]})`,
			wantColumns: []string{"units_mean"},
			wantRows:    1,
			wantUsed:    []string{"units"},
		},
		{
			name: "trend with metric",
			intent: core.Intent{
				AnalysisType: core.AnalysisTrend,
				Metric:       core.StringPtr("total sales"),
				TimeField:    core.StringPtr("date"),
			},
			wantLine:    `result = df.resample(df["Date"], "M").agg(df["total sales"], "mean")`,
			wantColumns: []string{"Date", "total sales"},
			wantRows:    3,
			wantUsed:    []string{"Date", "total sales"},
		},
		{
			name: "trend counts per group",
			intent: core.Intent{
				AnalysisType: core.AnalysisTrend,
				GroupBy:      []string{"City", "Date"},
				TimeField:    core.StringPtr("Date"),
			},
			wantLine:    `result = df.resample(df["Date"], "M", by=[df["City"]]).size()`,
			wantColumns: []string{"City", "Date", "count"},
			wantUsed:    []string{"Date", "City"},
		},
		{
			name: "groupby with metric",
			intent: core.Intent{
				AnalysisType: core.AnalysisGroupBy,
				Metric:       core.StringPtr("units"),
				GroupBy:      []string{"City"},
			},
			wantLine:    `result = df.groupby([df["City"]]).agg(df["units"], "count", "mean", "sum")`,
			wantColumns: []string{"City", "units_count", "units_mean", "units_sum"},
			wantRows:    3,
			wantUsed:    []string{"City", "units"},
		},
		{
			name: "groupby numeric columns",
			intent: core.Intent{
				AnalysisType: core.AnalysisGroupBy,
				GroupBy:      []string{"city"},
			},
			wantLine:    `result = df.groupby([df["City"]]).agg_numeric("sum")`,
			wantColumns: []string{"City", "total sales", "units"},
			wantRows:    3,
			wantUsed:    []string{"City"},
		},
		{
			name: "sort descending",
			intent: core.Intent{
				AnalysisType: core.AnalysisSort,
				Metric:       core.StringPtr("units"),
			},
			wantLine:    `result = df.sort(df["units"], descending=True)`,
			wantColumns: salesDataset.Columns,
			wantRows:    4,
			wantUsed:    []string{"units"},
		},
		{
			name: "top n",
			intent: core.Intent{
				AnalysisType: core.AnalysisTopN,
				Metric:       core.StringPtr("total sales"),
				TopN:         core.IntPtr(2),
			},
			wantLine:    `result = df.nlargest(2, df["total sales"])`,
			wantColumns: salesDataset.Columns,
			wantRows:    2,
			wantUsed:    []string{"total sales"},
		},
	}

	gen := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snippet, err := gen.Generate(tt.intent, salesDataset)
			require.NoError(t, err)

			code := snippet.Code()
			assert.True(t, strings.HasPrefix(code, `df = load_sheet("sales.xlsx")`+"\n"), "snippet loads the dataset first")
			assert.Contains(t, code, tt.wantLine)
			assert.Equal(t, salesDataset.Path, snippet.DatasetPath())
			assert.Equal(t, tt.wantUsed, lineage.Extract(snippet))

			f := run(t, snippet)
			assert.Equal(t, tt.wantColumns, f.Columns())
			if tt.wantRows > 0 {
				assert.Equal(t, tt.wantRows, f.NumRows())
			}
		})
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		intent core.Intent
		want   string
	}{
		{
			name:   "topn without top_n",
			intent: core.Intent{AnalysisType: core.AnalysisTopN, Metric: core.StringPtr("units")},
			want:   "requires top_n",
		},
		{
			name:   "topn with zero",
			intent: core.Intent{AnalysisType: core.AnalysisTopN, Metric: core.StringPtr("units"), TopN: core.IntPtr(0)},
			want:   "top_n must be positive",
		},
		{
			name:   "trend without time field",
			intent: core.Intent{AnalysisType: core.AnalysisTrend, Metric: core.StringPtr("units")},
			want:   "requires a time_field",
		},
		{
			name:   "sum without metric",
			intent: core.Intent{AnalysisType: core.AnalysisSum, GroupBy: []string{"City"}},
			want:   "requires a metric",
		},
		{
			name:   "sort without metric",
			intent: core.Intent{AnalysisType: core.AnalysisSort},
			want:   "requires a metric",
		},
		{
			name:   "groupby without keys",
			intent: core.Intent{AnalysisType: core.AnalysisGroupBy, Metric: core.StringPtr("units")},
			want:   "requires group_by",
		},
		{
			name:   "unresolved metric",
			intent: core.Intent{AnalysisType: core.AnalysisSum, Metric: core.StringPtr("profit margin")},
			want:   `metric "profit margin" is not a column`,
		},
		{
			name:   "unresolved group key",
			intent: core.Intent{AnalysisType: core.AnalysisSum, Metric: core.StringPtr("units"), GroupBy: []string{"warehouse"}},
			want:   `group_by "warehouse"`,
		},
		{
			name:   "unknown analysis type",
			intent: core.Intent{AnalysisType: "pivot"},
			want:   "unsupported analysis type",
		},
	}

	gen := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gen.Generate(tt.intent, salesDataset)
			require.Error(t, err)
			assert.True(t, core.HasCode(err, core.ErrGeneration), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGenerate_QuotesNames(t *testing.T) {
	ds := core.Dataset{
		Name:    `odd "name".xlsx`,
		Columns: []string{`Sales") + load_sheet("x`, "Region\nNote"},
	}
	in := core.Intent{
		AnalysisType: core.AnalysisSum,
		Metric:       core.StringPtr(ds.Columns[0]),
		GroupBy:      []string{ds.Columns[1]},
	}

	snippet, err := New(nil).Generate(in, ds)
	require.NoError(t, err)

	code := snippet.Code()
	assert.Equal(t, 2, strings.Count(code, "\n"), "names never break lines")
	assert.Contains(t, code, `load_sheet("odd \"name\".xlsx")`)
	assert.Equal(t, []string{"Region\nNote", `Sales") + load_sheet("x`}, lineage.Extract(snippet))
}

func TestGenerate_Deterministic(t *testing.T) {
	in := core.Intent{
		AnalysisType: core.AnalysisTrend,
		Metric:       core.StringPtr("sales"),
		GroupBy:      []string{"region", "City"},
		TimeField:    core.StringPtr("date"),
	}
	gen := New(nil)
	first, err := gen.Generate(in, salesDataset)
	require.NoError(t, err)
	assert.Contains(t, first.Code(), `by=[df["City"]]`, "duplicate keys collapse")

	for i := 0; i < 5; i++ {
		again, err := gen.Generate(in, salesDataset)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
