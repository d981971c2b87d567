package lineage

import (
	"testing"

	"github.com/leapstack-labs/leapask/pkg/core"
	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{
			name: "grouped sum",
			code: `df = load_sheet("sales.xlsx")
result = df.groupby([df["City"]]).agg(df["total sales"], "sum")
`,
			want: []string{"City", "total sales"},
		},
		{
			name: "duplicates keep first occurrence",
			code: `df = load_sheet("s.xlsx")
df = df.with_column("Date", to_datetime(df["Date"]))
result = df.resample(df["Date"], "M", by=[df["Region"]]).agg(df["Sales"], "mean")
`,
			want: []string{"Date", "Region", "Sales"},
		},
		{
			name: "single quotes and escapes",
			code: `x = df['it\'s'] + df["say \"hi\""]`,
			want: []string{"it's", `say "hi"`},
		},
		{
			name: "non-identifier receivers are ignored",
			code: `a = load_sheet("x")["A"]
b = rows[0]["B"]
c = df["C"]
`,
			want: []string{"C"},
		},
		{
			name: "variable subscripts are ignored",
			code: `col = "Sales"
v = df[col]
`,
			want: []string{},
		},
		{
			name: "string arguments are not subscripts",
			code: `result = df.sort("Sales")`,
			want: []string{},
		},
		{
			name: "empty",
			code: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.code))
		})
	}
}

func TestExtractCode_Fallback(t *testing.T) {
	// unbalanced parenthesis forces the regular expression path
	code := `df = load_sheet("s.xlsx"
result = df["City"] + df['Sales'] + df["City"]`

	assert.Equal(t, []string{"City", "Sales"}, ExtractCode(code))
}

func TestExtract_Deterministic(t *testing.T) {
	snippet := core.NewSnippet(`result = df["b"] + df["a"] + df["b"]`, "x.xlsx")

	first := Extract(snippet)
	assert.Equal(t, []string{"b", "a"}, first)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Extract(snippet))
	}
}

func TestScan_MatchesWalk(t *testing.T) {
	code := `df = load_sheet("s.xlsx")
result = df.nlargest(5, df["Revenue"])
`
	f, err := parseOptions.Parse("snippet.star", code, 0)
	assert.NoError(t, err)
	assert.Equal(t, walk(f), scan(code))
}
