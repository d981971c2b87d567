package starlark

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"go.starlark.net/starlark"
)

// Aggregations understood by Column methods and GroupBy.agg.
var aggregations = []string{"sum", "mean", "count", "min", "max", "median"}

// Column is a named, immutable vector of cells.
type Column struct {
	name   string
	values []any
}

var (
	_ starlark.Value     = (*Column)(nil)
	_ starlark.HasAttrs  = (*Column)(nil)
	_ starlark.Indexable = (*Column)(nil)
	_ starlark.Sequence  = (*Column)(nil)
)

// NewColumn creates a column. values must already be normalized cells.
func NewColumn(name string, values []any) *Column {
	return &Column{name: name, values: values}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Values returns the cells. Callers must not modify the slice.
func (c *Column) Values() []any { return c.values }

func (c *Column) String() string {
	return fmt.Sprintf("column(%q, len=%d)", c.name, len(c.values))
}

// Type implements starlark.Value.
func (c *Column) Type() string { return "column" }

// Freeze implements starlark.Value. Columns are immutable.
func (c *Column) Freeze() {}

// Truth implements starlark.Value.
func (c *Column) Truth() starlark.Bool { return len(c.values) > 0 }

// Hash implements starlark.Value.
func (c *Column) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: column")
}

// Len implements starlark.Sequence.
func (c *Column) Len() int { return len(c.values) }

// Index implements starlark.Indexable.
func (c *Column) Index(i int) starlark.Value { return cellToStarlark(c.values[i]) }

// Iterate implements starlark.Iterable.
func (c *Column) Iterate() starlark.Iterator { return &cellIterator{values: c.values} }

// Attr implements starlark.HasAttrs.
func (c *Column) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(c.name), nil
	case "values":
		list := make([]starlark.Value, len(c.values))
		for i, v := range c.values {
			list[i] = cellToStarlark(v)
		}
		return starlark.NewList(list), nil
	}
	if slices.Contains(aggregations, name) {
		fn := name
		return starlark.NewBuiltin(fn, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			v, err := aggregate(fn, c.values)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			return cellToStarlark(v), nil
		}).BindReceiver(c), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (c *Column) AttrNames() []string {
	names := append([]string{"name", "values"}, aggregations...)
	sort.Strings(names)
	return names
}

type cellIterator struct {
	values []any
	i      int
}

func (it *cellIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.values) {
		return false
	}
	*p = cellToStarlark(it.values[it.i])
	it.i++
	return true
}

func (it *cellIterator) Done() {}

// aggregate reduces values with the named function. Non-numeric cells are
// ignored by the numeric reductions; nil is ignored by all of them.
func aggregate(fn string, values []any) (any, error) {
	switch fn {
	case "count":
		n := int64(0)
		for _, v := range values {
			if v != nil {
				n++
			}
		}
		return n, nil

	case "sum":
		var isum int64
		var fsum float64
		allInt := true
		for _, v := range values {
			switch val := v.(type) {
			case int64:
				isum += val
				fsum += float64(val)
			case float64:
				if math.IsNaN(val) {
					continue
				}
				allInt = false
				fsum += val
			}
		}
		if allInt {
			return isum, nil
		}
		return fsum, nil

	case "mean":
		var sum float64
		n := 0
		for _, v := range values {
			if f, ok := numeric(v); ok {
				sum += f
				n++
			}
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil

	case "median":
		nums := make([]float64, 0, len(values))
		for _, v := range values {
			if f, ok := numeric(v); ok {
				nums = append(nums, f)
			}
		}
		if len(nums) == 0 {
			return nil, nil
		}
		sort.Float64s(nums)
		mid := len(nums) / 2
		if len(nums)%2 == 1 {
			return nums[mid], nil
		}
		return (nums[mid-1] + nums[mid]) / 2, nil

	case "min", "max":
		var best any
		for _, v := range values {
			if v == nil {
				continue
			}
			if f, ok := v.(float64); ok && math.IsNaN(f) {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := compareCells(v, best)
			if (fn == "min" && c < 0) || (fn == "max" && c > 0) {
				best = v
			}
		}
		return best, nil

	default:
		return nil, fmt.Errorf("unknown aggregation %q (want one of %s)", fn, strings.Join(aggregations, ", "))
	}
}

func checkAggregation(fn string) error {
	if !slices.Contains(aggregations, fn) {
		return fmt.Errorf("unknown aggregation %q (want one of %s)", fn, strings.Join(aggregations, ", "))
	}
	return nil
}

// isNumericColumn reports whether every non-nil cell is a number and at least one exists.
func isNumericColumn(values []any) bool {
	seen := false
	for _, v := range values {
		switch v.(type) {
		case nil:
		case int64, float64:
			seen = true
		default:
			return false
		}
	}
	return seen
}
