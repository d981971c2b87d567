package starlark

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
)

// Frame is an immutable table of cells. Snippets index it by column name
// (df["col"]) and iterate it row by row. Every operation returns a new frame.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

var (
	_ starlark.Value    = (*Frame)(nil)
	_ starlark.HasAttrs = (*Frame)(nil)
	_ starlark.Mapping  = (*Frame)(nil)
	_ starlark.Sequence = (*Frame)(nil)
)

// NewFrame creates a frame. Column names must be unique and every row must
// have one cell per column. Cells are normalized; rows are not copied.
func NewFrame(columns []string, rows [][]any) (*Frame, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		index[c] = i
	}
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, want %d", r, len(row), len(columns))
		}
		for i, v := range row {
			row[i] = NormalizeCell(v)
		}
	}
	return &Frame{columns: columns, index: index, rows: rows}, nil
}

// newFrame builds a frame from trusted parts.
func newFrame(columns []string, rows [][]any) *Frame {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return &Frame{columns: columns, index: index, rows: rows}
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string { return f.columns }

// NumRows returns the number of rows.
func (f *Frame) NumRows() int { return len(f.rows) }

// Row returns row i. Callers must not modify it.
func (f *Frame) Row(i int) []any { return f.rows[i] }

// Column returns the named column.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.column(i), true
}

func (f *Frame) column(i int) *Column {
	values := make([]any, len(f.rows))
	for r, row := range f.rows {
		values[r] = row[i]
	}
	return NewColumn(f.columns[i], values)
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame(columns=[%s], rows=%d)", strings.Join(f.columns, ", "), len(f.rows))
}

// Type implements starlark.Value.
func (f *Frame) Type() string { return "frame" }

// Freeze implements starlark.Value. Frames are immutable.
func (f *Frame) Freeze() {}

// Truth implements starlark.Value.
func (f *Frame) Truth() starlark.Bool { return len(f.rows) > 0 }

// Hash implements starlark.Value.
func (f *Frame) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: frame")
}

// Len implements starlark.Sequence.
func (f *Frame) Len() int { return len(f.rows) }

// Iterate implements starlark.Iterable. Each element is a row dict.
func (f *Frame) Iterate() starlark.Iterator { return &rowIterator{frame: f} }

// Get implements starlark.Mapping.
func (f *Frame) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("frame index must be a column name, got %s", k.Type())
	}
	col, ok := f.Column(name)
	if !ok {
		return nil, false, nil
	}
	return col, true, nil
}

var frameMethods = map[string]func(f *Frame, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error){
	"head":        (*Frame).head,
	"groupby":     (*Frame).groupBy,
	"sort":        (*Frame).sortBy,
	"nlargest":    (*Frame).nLargest,
	"with_column": (*Frame).withColumn,
	"resample":    (*Frame).resample,
	"rows":        (*Frame).rowDicts,
}

// Attr implements starlark.HasAttrs.
func (f *Frame) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		list := make([]starlark.Value, len(f.columns))
		for i, c := range f.columns {
			list[i] = starlark.String(c)
		}
		return starlark.NewList(list), nil
	case "shape":
		return starlark.Tuple{starlark.MakeInt(len(f.rows)), starlark.MakeInt(len(f.columns))}, nil
	}
	method, ok := frameMethods[name]
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return method(f, b, args, kwargs)
	}).BindReceiver(f), nil
}

// AttrNames implements starlark.HasAttrs.
func (f *Frame) AttrNames() []string {
	names := []string{"columns", "shape"}
	for name := range frameMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// columnArg resolves a column argument given as a Column or a name.
func (f *Frame) columnArg(fn string, v starlark.Value) (int, error) {
	var name string
	switch val := v.(type) {
	case *Column:
		name = val.name
	case starlark.String:
		name = string(val)
	default:
		return 0, fmt.Errorf("%s: want column or column name, got %s", fn, v.Type())
	}
	i, ok := f.index[name]
	if !ok {
		return 0, fmt.Errorf("%s: column %q not found", fn, name)
	}
	return i, nil
}

// columnsArg resolves a single column or a list/tuple of columns.
func (f *Frame) columnsArg(fn string, v starlark.Value) ([]int, error) {
	if v == nil || v == starlark.None {
		return nil, nil
	}
	switch v.(type) {
	case *Column, starlark.String:
		i, err := f.columnArg(fn, v)
		if err != nil {
			return nil, err
		}
		return []int{i}, nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: want column or list of columns, got %s", fn, v.Type())
	}
	var out []int
	iter := iterable.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		i, err := f.columnArg(fn, item)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

func (f *Frame) head(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: n must not be negative", b.Name())
	}
	if n > len(f.rows) {
		n = len(f.rows)
	}
	return newFrame(f.columns, f.rows[:n]), nil
}

func (f *Frame) groupBy(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var keys starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &keys); err != nil {
		return nil, err
	}
	cols, err := f.columnsArg(b.Name(), keys)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s: at least one key column is required", b.Name())
	}
	return newGroupBy(f, cols), nil
}

func (f *Frame) sortBy(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var by starlark.Value
	descending := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by, "descending?", &descending); err != nil {
		return nil, err
	}
	cols, err := f.columnsArg(b.Name(), by)
	if err != nil {
		return nil, err
	}
	return newFrame(f.columns, sortRows(f.rows, cols, descending)), nil
}

func (f *Frame) nLargest(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n int
	var by starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n", &n, "by", &by); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: n must not be negative", b.Name())
	}
	col, err := f.columnArg(b.Name(), by)
	if err != nil {
		return nil, err
	}
	present := make([][]any, 0, len(f.rows))
	for _, row := range f.rows {
		if row[col] != nil {
			present = append(present, row)
		}
	}
	sorted := sortRows(present, []int{col}, true)
	if n > len(sorted) {
		n = len(sorted)
	}
	return newFrame(f.columns, sorted[:n]), nil
}

func (f *Frame) withColumn(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var values starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "values", &values); err != nil {
		return nil, err
	}

	var cells []any
	switch v := values.(type) {
	case *Column:
		cells = v.values
	case starlark.Iterable:
		iter := v.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			cell, err := cellFromStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			cells = append(cells, cell)
		}
	default:
		return nil, fmt.Errorf("%s: values must be a column or list, got %s", b.Name(), values.Type())
	}
	if len(cells) != len(f.rows) {
		return nil, fmt.Errorf("%s: got %d values for %d rows", b.Name(), len(cells), len(f.rows))
	}

	pos, exists := f.index[name]
	columns := f.columns
	if !exists {
		columns = append(append([]string{}, f.columns...), name)
		pos = len(f.columns)
	}
	rows := make([][]any, len(f.rows))
	for r, row := range f.rows {
		out := make([]any, len(columns))
		copy(out, row)
		out[pos] = cells[r]
		rows[r] = out
	}
	return newFrame(columns, rows), nil
}

func (f *Frame) resample(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var on starlark.Value
	var freq string
	var by starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "on", &on, "freq", &freq, "by?", &by); err != nil {
		return nil, err
	}
	onCol, err := f.columnArg(b.Name(), on)
	if err != nil {
		return nil, err
	}
	byCols, err := f.columnsArg(b.Name(), by)
	if err != nil {
		return nil, err
	}
	g, err := newResampler(f, onCol, freq, byCols)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return g, nil
}

func (f *Frame) rowDicts(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	list := make([]starlark.Value, len(f.rows))
	for i := range f.rows {
		list[i] = f.rowDict(i)
	}
	return starlark.NewList(list), nil
}

func (f *Frame) rowDict(i int) *starlark.Dict {
	d := starlark.NewDict(len(f.columns))
	for c, name := range f.columns {
		_ = d.SetKey(starlark.String(name), cellToStarlark(f.rows[i][c]))
	}
	return d
}

// sortRows returns a stably sorted copy of rows. nil cells sort last in both directions.
func sortRows(rows [][]any, cols []int, descending bool) [][]any {
	out := append([][]any{}, rows...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, c := range cols {
			a, b := out[i][c], out[j][c]
			if a == nil || b == nil {
				if (a == nil) != (b == nil) {
					return b == nil
				}
				continue
			}
			cmp := compareCells(a, b)
			if cmp == 0 {
				continue
			}
			if descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return out
}

type rowIterator struct {
	frame *Frame
	i     int
}

func (it *rowIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.frame.rows) {
		return false
	}
	*p = it.frame.rowDict(it.i)
	it.i++
	return true
}

func (it *rowIterator) Done() {}
