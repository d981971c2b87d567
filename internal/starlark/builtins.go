package starlark

import (
	"fmt"

	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// SheetLoader opens a dataset by name and returns its contents as a frame.
type SheetLoader func(name string) (*Frame, error)

// Builtins lists every name predeclared for snippets. Nothing else is reachable:
// there is no load statement and no filesystem, network or process access.
var Builtins = []string{"load_sheet", "frame", "to_datetime", "math", "time"}

// Predeclared returns the predeclared globals for snippet execution.
// A nil loader makes load_sheet fail with an error.
func Predeclared(load SheetLoader) starlark.StringDict {
	return starlark.StringDict{
		"load_sheet":  starlark.NewBuiltin("load_sheet", loadSheet(load)),
		"frame":       starlark.NewBuiltin("frame", makeFrame),
		"to_datetime": starlark.NewBuiltin("to_datetime", toDatetime),
		"math":        starlarkmath.Module,
		"time":        starlarktime.Module,
	}
}

func loadSheet(load SheetLoader) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		if load == nil {
			return nil, fmt.Errorf("%s: no datasets are available", b.Name())
		}
		f, err := load(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return f, nil
	}
}

// makeFrame builds a frame from a dict of column lists or a list of row dicts.
func makeFrame(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
		return nil, err
	}

	switch d := data.(type) {
	case *starlark.Dict:
		return frameFromColumns(b.Name(), d)
	case starlark.Iterable:
		return frameFromRecords(b.Name(), d)
	default:
		return nil, fmt.Errorf("%s: want dict of columns or list of rows, got %s", b.Name(), data.Type())
	}
}

func frameFromColumns(fn string, d *starlark.Dict) (*Frame, error) {
	var columns []string
	var cols [][]any
	for _, item := range d.Items() {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("%s: column name must be a string, got %s", fn, item[0].Type())
		}
		values, err := cellsOf(item[1])
		if err != nil {
			return nil, fmt.Errorf("%s: column %q: %w", fn, name, err)
		}
		if len(cols) > 0 && len(values) != len(cols[0]) {
			return nil, fmt.Errorf("%s: column %q has %d values, want %d", fn, name, len(values), len(cols[0]))
		}
		columns = append(columns, name)
		cols = append(cols, values)
	}

	n := 0
	if len(cols) > 0 {
		n = len(cols[0])
	}
	rows := make([][]any, n)
	for r := range rows {
		row := make([]any, len(cols))
		for c := range cols {
			row[c] = cols[c][r]
		}
		rows[r] = row
	}
	return newFrame(columns, rows), nil
}

func frameFromRecords(fn string, records starlark.Iterable) (*Frame, error) {
	var columns []string
	index := make(map[string]int)
	var parsed []map[string]any

	iter := records.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		d, ok := item.(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s: rows must be dicts, got %s", fn, item.Type())
		}
		rec := make(map[string]any, d.Len())
		for _, kv := range d.Items() {
			name, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("%s: column name must be a string, got %s", fn, kv[0].Type())
			}
			cell, err := cellFromStarlark(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: column %q: %w", fn, name, err)
			}
			if _, seen := index[name]; !seen {
				index[name] = len(columns)
				columns = append(columns, name)
			}
			rec[name] = cell
		}
		parsed = append(parsed, rec)
	}

	rows := make([][]any, len(parsed))
	for r, rec := range parsed {
		row := make([]any, len(columns))
		for name, v := range rec {
			row[index[name]] = v
		}
		rows[r] = row
	}
	return newFrame(columns, rows), nil
}

// cellsOf converts a column, list or tuple into cells.
func cellsOf(v starlark.Value) ([]any, error) {
	if c, ok := v.(*Column); ok {
		return c.values, nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("want list of values, got %s", v.Type())
	}
	var out []any
	iter := iterable.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		cell, err := cellFromStarlark(item)
		if err != nil {
			return nil, err
		}
		out = append(out, cell)
	}
	return out, nil
}

// toDatetime parses a column, list or scalar into times. Values that cannot be
// parsed become None.
func toDatetime(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}

	switch val := v.(type) {
	case *Column:
		out := make([]any, len(val.values))
		for i, cell := range val.values {
			if t, ok := ParseTime(cell); ok {
				out[i] = t
			}
		}
		return NewColumn(val.name, out), nil
	case *starlark.List, starlark.Tuple:
		cells, err := cellsOf(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		list := make([]starlark.Value, len(cells))
		for i, cell := range cells {
			list[i] = starlark.None
			if t, ok := ParseTime(cell); ok {
				list[i] = starlarktime.Time(t)
			}
		}
		return starlark.NewList(list), nil
	default:
		cell, err := cellFromStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		if t, ok := ParseTime(cell); ok {
			return starlarktime.Time(t), nil
		}
		return starlark.None, nil
	}
}
