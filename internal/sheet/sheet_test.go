package sheet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/leapstack-labs/leapask/pkg/adapter"
	"github.com/leapstack-labs/leapask/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// writeGroupedWorkbook writes a sheet with a two-row header where "Sales"
// spans two quarter columns, merged label cells and gaps to forward fill.
func writeGroupedWorkbook(t *testing.T, dir string) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	const sheet = "Sheet1"

	set := func(cell string, row []any) {
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	set("A1", []any{" City ", "Sales", nil, "Date", nil, "Note"})
	set("A2", []any{nil, "Q1", "Q2", nil})
	set("A3", []any{"NYC", 10, 2.5, 45366})
	set("A4", []any{nil, 5, nil, 45367})
	set("A6", []any{"LA", 1, 1.25, 45397})

	require.NoError(t, f.MergeCell(sheet, "A1", "A2"))
	require.NoError(t, f.MergeCell(sheet, "B1", "C1"))
	require.NoError(t, f.MergeCell(sheet, "D1", "D2"))

	dateFmt := "yyyy-mm-dd"
	style, err := f.NewStyle(&excelize.Style{CustomNumFmt: &dateFmt})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sheet, "D3", "D6", style))

	path := filepath.Join(dir, "grouped.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoad_Workbook(t *testing.T) {
	l := NewLoader(Options{Logger: testutil.NewTestLogger(t)})
	defer func() { _ = l.Close() }()

	table, err := l.Load(context.Background(), writeGroupedWorkbook(t, t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, []string{"City", "Sales_Q1", "Sales_Q2", "Date"}, table.Columns, "note column has no data")
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	assert.Equal(t, [][]any{
		{"NYC", int64(10), 2.5, day(15)},
		{"NYC", int64(5), 2.5, day(16)},
		{"LA", int64(1), 1.25, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)},
	}, table.Rows)
}

func TestLoad_WorkbookWithoutForwardFill(t *testing.T) {
	l := NewLoader(Options{NoForwardFill: true})
	table, err := l.Load(context.Background(), writeGroupedWorkbook(t, t.TempDir()))
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Nil(t, table.Rows[1][0])
	assert.Nil(t, table.Rows[1][2])
}

func TestLoad_SingleHeaderWorkbook(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, row := range [][]any{
		{"Product", "Category", "Revenue"},
		{"Widget", "Tools", 12},
		{"Gadget", "Toys", 7.5},
	} {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "products.xlsx")
	require.NoError(t, f.SaveAs(path))

	table, err := NewLoader(Options{}).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Product", "Category", "Revenue"}, table.Columns)
	assert.Equal(t, [][]any{{"Widget", "Tools", int64(12)}, {"Gadget", "Toys", 7.5}}, table.Rows)
}

func TestLoad_CSV(t *testing.T) {
	l := NewLoader(Options{Logger: testutil.NewTestLogger(t)})
	defer func() { _ = l.Close() }()

	table, err := l.Load(context.Background(), testutil.WriteSalesCSV(t, t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, testutil.SalesColumns, table.Columns)
	require.Equal(t, len(testutil.SalesRows), table.NumRows())
	assert.Equal(t, "NYC", table.Rows[0][0])
	assert.InDelta(t, 10.0, table.Rows[0][1], 1e-9)
}

func TestLoad_EngineSelection(t *testing.T) {
	path := testutil.WriteSalesCSV(t, t.TempDir())

	l := NewLoader(Options{Adapter: core.AdapterConfig{Type: "duckdb"}})
	_, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, l.engines, 1)
	require.NoError(t, l.Close())
	assert.Empty(t, l.engines)

	l = NewLoader(Options{Adapter: core.AdapterConfig{Type: "nosuch"}})
	_, err = l.Load(context.Background(), path)
	var unknown *adapter.UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nosuch", unknown.Type)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("hi"), 0o600))

	l := NewLoader(Options{})
	_, err := l.Load(context.Background(), notes)
	assert.ErrorContains(t, err, "unsupported file type")

	_, err = l.Load(context.Background(), filepath.Join(dir, "missing.xlsx"))
	assert.ErrorContains(t, err, "open workbook")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Load(ctx, filepath.Join(dir, "sales.csv"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.XLSX"))
	assert.True(t, Supported("dir/b.parquet"))
	assert.False(t, Supported("c.xls"))
	assert.False(t, Supported("d"))
}

func TestNormalizeHeaders(t *testing.T) {
	got := normalizeHeaders([]string{" Sales ", "", "Sales", "Sales_2", "  "})
	assert.Equal(t, []string{"Sales", "Column_2", "Sales_2", "Sales_2_2", "Column_5"}, got)
}

func TestParseCell(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		shown string
		want  any
	}{
		{"empty", "", "", nil},
		{"text", "NYC", "NYC", "NYC"},
		{"integer", "12", "12", int64(12)},
		{"float", "2.5", "2.5", 2.5},
		{"currency", "5", "$5.00", int64(5)},
		{"date", "45366", "2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCell(tt.raw, tt.shown))
		})
	}
}
