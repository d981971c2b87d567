package sheet

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapask/pkg/core"
)

// forwardFill replaces each empty cell with the nearest value above it.
func forwardFill(rows [][]any) {
	for r := 1; r < len(rows); r++ {
		for c, v := range rows[r] {
			if v == nil {
				rows[r][c] = rows[r-1][c]
			}
		}
	}
}

// dropEmpty removes rows and columns whose cells are all empty.
func dropEmpty(t *core.Table) *core.Table {
	keepCol := make([]bool, len(t.Columns))
	var rows [][]any
	for _, row := range t.Rows {
		empty := true
		for c, v := range row {
			if !isEmpty(v) {
				empty = false
				keepCol[c] = true
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}

	out := &core.Table{Rows: make([][]any, len(rows))}
	var keep []int
	for c, k := range keepCol {
		if k {
			keep = append(keep, c)
			out.Columns = append(out.Columns, t.Columns[c])
		}
	}
	for r, row := range rows {
		cells := make([]any, len(keep))
		for i, c := range keep {
			cells[i] = row[c]
		}
		out.Rows[r] = cells
	}
	return out
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// normalizeHeaders trims names, names blank columns Column_N (1-based) and
// suffixes repeats with _2, _3, ...
func normalizeHeaders(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("Column_%d", i+1)
		}
		base := name
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}
