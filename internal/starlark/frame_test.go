package starlark

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func salesFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := NewFrame(
		[]string{"City", "total sales", "Date", "units"},
		[][]any{
			{"NYC", 10.0, "2024-01-15", 1},
			{"LA", 5.0, "2024-03-10", 2},
			{"NYC", 2.5, "2024-01-20", nil},
			{"SF", nil, "2024-03-31", 4},
		},
	)
	require.NoError(t, err)
	return f
}

func execSnippet(t *testing.T, src string, opts ...ContextOption) (starlark.StringDict, *ExecutionContext, error) {
	t.Helper()
	loader := func(name string) (*Frame, error) {
		if name != "sales.xlsx" {
			return nil, fmt.Errorf("unknown dataset %q", name)
		}
		return salesFrame(t), nil
	}
	ctx := NewExecutionContext(loader, opts...)
	globals, err := ctx.Exec(ctx.NewThread("test"), "snippet.star", src)
	return globals, ctx, err
}

func resultFrame(t *testing.T, src string) *Frame {
	t.Helper()
	globals, _, err := execSnippet(t, src)
	require.NoError(t, err)
	f, ok := globals["result"].(*Frame)
	require.True(t, ok, "result is %T", globals["result"])
	return f
}

func TestNewFrame(t *testing.T) {
	_, err := NewFrame([]string{"a", "a"}, nil)
	assert.ErrorContains(t, err, "duplicate column")

	_, err = NewFrame([]string{"a", "b"}, [][]any{{1}})
	assert.ErrorContains(t, err, "row 0 has 1 cells")

	f, err := NewFrame([]string{"a"}, [][]any{{1}, {2.5}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Row(0)[0], "cells are normalized")
	assert.Equal(t, 2, f.NumRows())
}

func TestFrame_GroupBySum(t *testing.T) {
	f := resultFrame(t, `
df = load_sheet("sales.xlsx")
result = df.groupby([df["City"]]).agg(df["total sales"], "sum")
`)
	assert.Equal(t, []string{"City", "total sales"}, f.Columns())
	require.Equal(t, 3, f.NumRows())
	assert.Equal(t, []any{"LA", 5.0}, f.Row(0))
	assert.Equal(t, []any{"NYC", 12.5}, f.Row(1))
	assert.Equal(t, []any{"SF", int64(0)}, f.Row(2))
}

func TestFrame_GroupByKeysWithSeparators(t *testing.T) {
	f := resultFrame(t, `
df = frame([
    {"a": "x|string:y", "b": "z", "n": 1},
    {"a": "x", "b": "y|string:z", "n": 2},
])
result = df.groupby(["a", "b"]).agg(df["n"], "sum")
`)
	require.Equal(t, 2, f.NumRows())
	assert.Equal(t, []any{"x", "y|string:z", int64(2)}, f.Row(0))
	assert.Equal(t, []any{"x|string:y", "z", int64(1)}, f.Row(1))
}

func TestFrame_GroupByMultipleAggregations(t *testing.T) {
	f := resultFrame(t, `
df = load_sheet("sales.xlsx")
result = df.groupby(["City"]).agg(df["total sales"], "count", "mean", "sum")
`)
	assert.Equal(t, []string{"City", "total sales_count", "total sales_mean", "total sales_sum"}, f.Columns())
	assert.Equal(t, []any{"NYC", int64(2), 6.25, 12.5}, f.Row(1))
	assert.Equal(t, []any{"SF", int64(0), nil, int64(0)}, f.Row(2))
}

func TestFrame_GroupByNumeric(t *testing.T) {
	f := resultFrame(t, `
df = load_sheet("sales.xlsx")
result = df.groupby(df["City"]).agg_numeric("sum")
`)
	assert.Equal(t, []string{"City", "total sales", "units"}, f.Columns())
	assert.Equal(t, []any{"NYC", 12.5, int64(1)}, f.Row(1))
}

func TestFrame_GroupBySize(t *testing.T) {
	f := resultFrame(t, `
df = load_sheet("sales.xlsx")
result = df.groupby("City").size()
`)
	assert.Equal(t, []string{"City", "count"}, f.Columns())
	assert.Equal(t, []any{"NYC", int64(2)}, f.Row(1))
}

func TestFrame_WholeColumnAggregate(t *testing.T) {
	f := resultFrame(t, `
df = load_sheet("sales.xlsx")
result = frame({"total sales_sum": [df["total sales"].sum()]})
`)
	assert.Equal(t, []string{"total sales_sum"}, f.Columns())
	assert.Equal(t, []any{17.5}, f.Row(0))
}

func TestFrame_Resample(t *testing.T) {
	f := resultFrame(t, `
df = load_sheet("sales.xlsx")
df = df.with_column("Date", to_datetime(df["Date"]))
result = df.resample(df["Date"], "M").agg(df["total sales"], "mean")
`)
	assert.Equal(t, []string{"Date", "total sales"}, f.Columns())
	require.Equal(t, 3, f.NumRows(), "gap month is filled")

	jan := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []any{jan, 6.25}, f.Row(0))
	assert.Equal(t, []any{feb, nil}, f.Row(1))
	assert.Equal(t, []any{mar, 5.0}, f.Row(2))
}

func TestFrame_ResampleByGroup(t *testing.T) {
	f := resultFrame(t, `
df = load_sheet("sales.xlsx")
df = df.with_column("Date", to_datetime(df["Date"]))
result = df.resample(df["Date"], "M", by=[df["City"]]).size()
`)
	assert.Equal(t, []string{"City", "Date", "count"}, f.Columns())
	assert.Equal(t, []any{"LA", time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), int64(1)}, f.Row(0))
	assert.Equal(t, []any{"NYC", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), int64(2)}, f.Row(1))
}

func TestFrame_ResampleRequiresTimes(t *testing.T) {
	_, _, err := execSnippet(t, `
df = load_sheet("sales.xlsx")
result = df.resample(df["Date"], "M").size()
`)
	assert.ErrorContains(t, err, "to_datetime")
}

func TestFrame_SortAndNLargest(t *testing.T) {
	sorted := resultFrame(t, `
df = load_sheet("sales.xlsx")
result = df.sort(df["total sales"], descending=True)
`)
	assert.Equal(t, "NYC", sorted.Row(0)[0])
	assert.Equal(t, "LA", sorted.Row(1)[0])
	assert.Nil(t, sorted.Row(3)[1], "missing values sort last")

	top := resultFrame(t, `
df = load_sheet("sales.xlsx")
result = df.nlargest(2, df["total sales"])
`)
	require.Equal(t, 2, top.NumRows())
	assert.Equal(t, 10.0, top.Row(0)[1])
	assert.Equal(t, 5.0, top.Row(1)[1])
}

func TestFrame_ScriptFeatures(t *testing.T) {
	globals, ctx, err := execSnippet(t, `
df = load_sheet("sales.xlsx")
has_city = "City" in df
missing = "Nope" in df
total = 0
for row in df:
    if row["units"] != None:
        total += row["units"]
print("rows", len(df))
cols = df.columns
first = df.head(1)
result = first
`)
	require.NoError(t, err)
	assert.Equal(t, starlark.True, globals["has_city"])
	assert.Equal(t, starlark.False, globals["missing"])
	assert.Equal(t, "7", globals["total"].String())
	assert.Equal(t, "rows 4\n", ctx.Stdout())
	assert.Equal(t, 1, globals["first"].(*Frame).NumRows())
}

func TestFrame_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing column",
			src:  `df = load_sheet("sales.xlsx"); x = df["revenue"]`,
			want: "revenue",
		},
		{
			name: "unknown dataset",
			src:  `df = load_sheet("other.xlsx")`,
			want: `unknown dataset "other.xlsx"`,
		},
		{
			name: "length mismatch",
			src:  `df = load_sheet("sales.xlsx"); df = df.with_column("x", [1])`,
			want: "got 1 values for 4 rows",
		},
		{
			name: "unknown aggregation",
			src:  `df = load_sheet("sales.xlsx"); r = df.groupby("City").agg(df["units"], "mode")`,
			want: "unknown aggregation",
		},
		{
			name: "aggregate key column",
			src:  `df = load_sheet("sales.xlsx"); r = df.groupby("City").agg(df["City"], "count")`,
			want: "key column",
		},
		{
			name: "load is unavailable",
			src:  `load("os.star", "system")`,
			want: "not available",
		},
		{
			name: "bad frequency",
			src:  `df = load_sheet("sales.xlsx"); r = df.resample("Date", "H")`,
			want: "unsupported frequency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execSnippet(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var execErr *ExecError
			assert.ErrorAs(t, err, &execErr)
		})
	}
}

func TestExecutionContext_MaxSteps(t *testing.T) {
	_, _, err := execSnippet(t, "while True:\n    pass\n", WithMaxSteps(1000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many steps")
}

func TestExecutionContext_StdoutLimit(t *testing.T) {
	_, ctx, err := execSnippet(t, `
for i in range(100):
    print("0123456789")
`, WithStdoutLimit(50))
	require.NoError(t, err)
	assert.Contains(t, ctx.Stdout(), "output truncated")
	assert.LessOrEqual(t, len(ctx.Stdout()), 50+len("\n... output truncated\n"))
}

func TestExecutionContext_SyntaxErrorLine(t *testing.T) {
	_, _, err := execSnippet(t, "x = 1\ny = (\n")
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Greater(t, execErr.Line, 0)
}

func TestPredeclared(t *testing.T) {
	globals := Predeclared(nil)
	for _, name := range Builtins {
		assert.Contains(t, globals, name)
	}
	assert.Len(t, globals, len(Builtins))
}

func TestToDatetime(t *testing.T) {
	globals, _, err := execSnippet(t, `
a = to_datetime("2024-02-03")
b = to_datetime("nope")
c = to_datetime(["2024-01-01", 45366])
`)
	require.NoError(t, err)
	assert.Contains(t, globals["a"].String(), "2024-02-03")
	assert.Equal(t, starlark.None, globals["b"])
	assert.Equal(t, 2, globals["c"].(*starlark.List).Len())
}
