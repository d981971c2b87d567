package sandbox

import (
	"fmt"
	"math"
	"time"

	lstar "github.com/leapstack-labs/leapask/internal/starlark"
	"go.starlark.net/starlark"
)

// ValueColumn names the single column of a scalar result.
const ValueColumn = "value"

// tabulate turns the result global into columns and rows.
func tabulate(v starlark.Value) ([]string, [][]any, error) {
	switch r := v.(type) {
	case nil:
		return nil, nil, fmt.Errorf("snippet did not assign %q", "result")
	case starlark.NoneType:
		return nil, nil, fmt.Errorf("result is None")
	case *lstar.Frame:
		rows := make([][]any, r.NumRows())
		for i := range rows {
			rows[i] = r.Row(i)
		}
		return r.Columns(), rows, nil
	case *lstar.Column:
		rows := make([][]any, len(r.Values()))
		for i, cell := range r.Values() {
			rows[i] = []any{cell}
		}
		return []string{r.Name()}, rows, nil
	default:
		if cell, ok := lstar.Cell(r); ok {
			return []string{ValueColumn}, [][]any{{cell}}, nil
		}
		return nil, nil, fmt.Errorf("result must be a frame, column or scalar, got %s", v.Type())
	}
}

// preview serializes the first limit rows as JSON-safe records.
func preview(columns []string, rows [][]any, limit int) []map[string]any {
	n := min(len(rows), limit)
	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		rec := make(map[string]any, len(columns))
		for c, name := range columns {
			rec[name] = jsonCell(rows[i][c])
		}
		out[i] = rec
	}
	return out
}

func jsonCell(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
