package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	lstar "github.com/leapstack-labs/leapask/internal/starlark"
	"github.com/leapstack-labs/leapask/pkg/core"
	"github.com/xuri/excelize/v2"
)

// SalesColumns are the columns of the sales fixture. There is no "region"
// column; questions about regions must resolve to City.
var SalesColumns = []string{"City", "total sales", "Date", "units"}

// SalesRows are the rows of the sales fixture.
var SalesRows = [][]any{
	{"NYC", 10.0, "2024-01-15", int64(1)},
	{"LA", 5.0, "2024-03-10", int64(2)},
	{"NYC", 2.5, "2024-01-20", int64(3)},
	{"SF", 7.0, "2024-03-31", int64(4)},
	{"LA", 1.5, "2024-02-02", int64(5)},
	{"SF", 3.0, "2024-02-14", int64(6)},
}

// SalesDataset describes the sales fixture.
func SalesDataset() core.Dataset {
	return core.Dataset{
		Name:      "sales.xlsx",
		Path:      "/data/sales.xlsx",
		Columns:   append([]string{}, SalesColumns...),
		RowCount:  len(SalesRows),
		IndexedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// WriteSalesCSV writes the sales fixture as CSV into dir and returns its path.
func WriteSalesCSV(t testing.TB, dir string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(strings.Join(SalesColumns, ",") + "\n")
	for _, row := range SalesRows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		sb.WriteString(strings.Join(cells, ",") + "\n")
	}
	path := filepath.Join(dir, "sales.csv")
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		t.Fatalf("write sales fixture: %v", err)
	}
	return path
}

// WriteSalesWorkbook writes the sales fixture as sales.xlsx into dir and
// returns its path.
func WriteSalesWorkbook(t testing.TB, dir string) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	header := make([]any, len(SalesColumns))
	for i, c := range SalesColumns {
		header[i] = c
	}
	rows := append([][]any{header}, SalesRows...)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("write sales row: %v", err)
		}
	}
	path := filepath.Join(dir, "sales.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save sales workbook: %v", err)
	}
	return path
}

// FrameSource serves in-memory frames by dataset name.
type FrameSource struct {
	Datasets map[string]core.Dataset
	Frames   map[string]*lstar.Frame

	mu     sync.Mutex
	opened map[string]int
}

// NewSalesSource returns a source holding only the sales fixture.
func NewSalesSource(t testing.TB) *FrameSource {
	t.Helper()
	ds := SalesDataset()
	f, err := lstar.NewFrame(ds.Columns, SalesRows)
	if err != nil {
		t.Fatalf("sales frame: %v", err)
	}
	return &FrameSource{
		Datasets: map[string]core.Dataset{ds.Name: ds},
		Frames:   map[string]*lstar.Frame{ds.Name: f},
	}
}

// Add registers another dataset with its frame.
func (s *FrameSource) Add(ds core.Dataset, f *lstar.Frame) {
	s.Datasets[ds.Name] = ds
	s.Frames[ds.Name] = f
}

// Lookup returns the dataset named name.
func (s *FrameSource) Lookup(name string) (core.Dataset, bool) {
	ds, ok := s.Datasets[name]
	return ds, ok
}

// Open returns the frame registered for ds.
func (s *FrameSource) Open(_ context.Context, ds core.Dataset) (*lstar.Frame, error) {
	f, ok := s.Frames[ds.Name]
	if !ok {
		return nil, fmt.Errorf("no frame for %q", ds.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened == nil {
		s.opened = make(map[string]int)
	}
	s.opened[ds.Name]++
	return f, nil
}

// Opened returns how many times the named dataset was opened.
func (s *FrameSource) Opened(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened[name]
}

// List returns every dataset, ordered by name.
func (s *FrameSource) List() []core.Dataset {
	out := make([]core.Dataset, 0, len(s.Datasets))
	for _, ds := range s.Datasets {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
