// Package starlark provides the restricted Starlark environment analysis
// snippets run in: a small tabular frame library and the predeclared
// capability set.
package starlark

import (
	"fmt"
	"math"
	"strconv"
	"time"

	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// Cells inside frames are plain Go values: nil, bool, int64, float64, string
// or time.Time. Everything entering a frame is normalized to one of those.

// Cell converts a scalar Starlark value to a frame cell. It reports false for
// anything that is not None, a string, a number, a bool or a time. Integers too
// large for int64 become floats.
func Cell(v starlark.Value) (any, bool) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, true
	case starlark.String:
		return string(val), true
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, true
		}
		return float64(val.Float()), true
	case starlark.Float:
		return float64(val), true
	case starlark.Bool:
		return bool(val), true
	case starlarktime.Time:
		return time.Time(val), true
	}
	return nil, false
}

func cellFromStarlark(v starlark.Value) (any, error) {
	cell, ok := Cell(v)
	if !ok {
		return nil, fmt.Errorf("cell value must be a scalar, got %s", v.Type())
	}
	return cell, nil
}

// cellToStarlark is the inverse of Cell.
func cellToStarlark(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	case time.Time:
		return starlarktime.Time(val)
	default:
		return starlark.String(fmt.Sprint(val))
	}
}

// NormalizeCell coerces a Go value into one of the cell types.
func NormalizeCell(v any) any {
	switch val := v.(type) {
	case nil, bool, int64, float64, string, time.Time:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return float64(val)
		}
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

// numeric returns v as a float64 when it is a number.
func numeric(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		if math.IsNaN(val) {
			return 0, false
		}
		return val, true
	default:
		return 0, false
	}
}

// kindRank orders cell kinds when values of different kinds are compared.
func kindRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case int64, float64:
		return 1
	case time.Time:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// compareCells orders two cells. nil sorts after every value.
func compareCells(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}

	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}

	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case time.Time:
		return av.Compare(b.(time.Time))
	case bool:
		bv := b.(bool)
		if av != bv {
			if !av {
				return -1
			}
			return 1
		}
	}
	return 0
}

// cellKey encodes a tuple of cells as a map key. Strings are quoted so no
// cell can spill into its neighbour.
func cellKey(cells []any) string {
	key := make([]byte, 0, 16*len(cells))
	for _, c := range cells {
		switch v := c.(type) {
		case time.Time:
			key = fmt.Appendf(key, "t:%d|", v.UnixNano())
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
				key = fmt.Appendf(key, "n:%d|", int64(v))
			} else {
				key = fmt.Appendf(key, "f:%v|", v)
			}
		case int64:
			key = fmt.Appendf(key, "n:%d|", v)
		case string:
			key = append(key, "s:"...)
			key = strconv.AppendQuote(key, v)
			key = append(key, '|')
		case nil:
			key = append(key, "_|"...)
		default:
			key = append(key, fmt.Sprintf("%T:", v)...)
			key = strconv.AppendQuote(key, fmt.Sprint(v))
			key = append(key, '|')
		}
	}
	return string(key)
}
