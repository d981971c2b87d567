package core

// Table is tabular data in memory: an ordered header and rows of cells.
// Cells are nil, bool, int64, float64, string or time.Time.
type Table struct {
	Columns []string
	Rows    [][]any
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}
