package sheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	lstar "github.com/leapstack-labs/leapask/internal/starlark"
	"github.com/leapstack-labs/leapask/pkg/core"
	"github.com/xuri/excelize/v2"
)

// grid is a workbook sheet as cells, padded to a common width.
type grid struct {
	cells [][]any
	// blank marks cells that were empty before merged ranges were filled.
	blank [][]bool
	width int
}

func (l *Loader) readWorkbook(path string) (*core.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = list[0]
	}

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	formatted, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	g := newGrid(raw, formatted)

	merges, err := f.GetMergeCells(sheet)
	if err != nil {
		return nil, fmt.Errorf("read merged cells: %w", err)
	}
	for _, m := range merges {
		if err := g.fillMerge(m.GetStartAxis(), m.GetEndAxis()); err != nil {
			return nil, err
		}
	}

	headerRows := g.headerRows(l.maxHeaderRows)
	table := &core.Table{Columns: g.flattenHeader(headerRows)}
	for _, row := range g.cells[headerRows:] {
		if allNil(row) {
			continue
		}
		table.Rows = append(table.Rows, append([]any{}, row...))
	}
	if l.forwardFill {
		forwardFill(table.Rows)
	}
	return table, nil
}

func newGrid(raw, formatted [][]string) *grid {
	g := &grid{}
	for _, row := range raw {
		g.width = max(g.width, len(row))
	}
	g.cells = make([][]any, len(raw))
	g.blank = make([][]bool, len(raw))
	for r, row := range raw {
		cells := make([]any, g.width)
		blank := make([]bool, g.width)
		for c := range cells {
			var rawVal, shown string
			if c < len(row) {
				rawVal = row[c]
			}
			if r < len(formatted) && c < len(formatted[r]) {
				shown = formatted[r][c]
			}
			cells[c] = parseCell(rawVal, shown)
			blank[c] = cells[c] == nil
		}
		g.cells[r] = cells
		g.blank[r] = blank
	}
	return g
}

// parseCell converts a raw workbook value. Numbers displayed as dates become
// times; other numbers become int64 when integral.
func parseCell(raw, shown string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	if shown != "" && shown != raw {
		if _, ok := lstar.ParseTime(shown); ok {
			if t, err := excelize.ExcelDateToTime(n, false); err == nil {
				return t
			}
		}
	}
	if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
		return int64(n)
	}
	return n
}

// fillMerge copies the top-left value of a merged range into every cell of it.
func (g *grid) fillMerge(start, end string) error {
	c1, r1, err := excelize.CellNameToCoordinates(start)
	if err != nil {
		return fmt.Errorf("merged range %s:%s: %w", start, end, err)
	}
	c2, r2, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return fmt.Errorf("merged range %s:%s: %w", start, end, err)
	}
	if r1 > len(g.cells) || c1 > g.width {
		return nil
	}
	v := g.cells[r1-1][c1-1]
	for r := r1; r <= min(r2, len(g.cells)); r++ {
		for c := c1; c <= min(c2, g.width); c++ {
			g.cells[r-1][c-1] = v
		}
	}
	return nil
}

// headerRows counts the leading rows that form the header. A non-empty first
// row is always a header. Later rows join it only when they are all text and
// the row above had gaps, which is how grouped headers over merged cells look.
func (g *grid) headerRows(limit int) int {
	n := 0
	for r := 0; r < len(g.cells) && r < limit; r++ {
		present, text := 0, 0
		for _, v := range g.cells[r] {
			if v == nil {
				continue
			}
			present++
			if _, ok := v.(string); ok {
				text++
			}
		}
		if present == 0 {
			break
		}
		if r == 0 {
			n = 1
			continue
		}
		if text != present || !g.hasGaps(r-1) {
			break
		}
		n++
	}
	return n
}

func allNil(row []any) bool {
	for _, v := range row {
		if v != nil {
			return false
		}
	}
	return true
}

func (g *grid) hasGaps(r int) bool {
	for _, b := range g.blank[r] {
		if b {
			return true
		}
	}
	return false
}

// flattenHeader joins the header rows of each column with "_", skipping
// empty and repeated parts.
func (g *grid) flattenHeader(rows int) []string {
	names := make([]string, g.width)
	for c := range names {
		var parts []string
		for r := 0; r < rows; r++ {
			v := g.cells[r][c]
			if v == nil {
				continue
			}
			part := strings.TrimSpace(cellText(v))
			if part == "" || (len(parts) > 0 && parts[len(parts)-1] == part) {
				continue
			}
			parts = append(parts, part)
		}
		names[c] = strings.Trim(strings.Join(parts, "_"), "_")
	}
	return names
}

func cellText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format(time.DateOnly)
	default:
		return fmt.Sprint(val)
	}
}
