package starlark

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

func TestCell(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	huge := starlark.MakeInt64(math.MaxInt64).Mul(starlark.MakeInt(4))

	cells := map[string]struct {
		in   starlark.Value
		want any
	}{
		"none":    {starlark.None, nil},
		"string":  {starlark.String("Pune"), "Pune"},
		"int":     {starlark.MakeInt(42), int64(42)},
		"big int": {huge, 4 * float64(math.MaxInt64)},
		"float":   {starlark.Float(2.5), 2.5},
		"bool":    {starlark.False, false},
		"time":    {starlarktime.Time(ts), ts},
	}
	for name, tc := range cells {
		t.Run(name, func(t *testing.T) {
			got, ok := Cell(tc.in)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)

			back, ok := Cell(cellToStarlark(got))
			require.True(t, ok)
			assert.Equal(t, got, back, "round trip through cellToStarlark")
		})
	}

	for _, v := range []starlark.Value{
		starlark.NewList(nil),
		starlark.Tuple{starlark.None},
		starlark.NewDict(0),
		starlark.NewBuiltin("f", nil),
	} {
		_, ok := Cell(v)
		assert.False(t, ok, "%s is not a cell", v.Type())
		_, err := cellFromStarlark(v)
		assert.ErrorContains(t, err, "must be a scalar")
	}
}

func TestNormalizeCell(t *testing.T) {
	assert.Equal(t, int64(3), NormalizeCell(3))
	assert.Equal(t, int64(3), NormalizeCell(int32(3)))
	assert.Equal(t, float64(1.5), NormalizeCell(float32(1.5)))
	assert.Equal(t, "abc", NormalizeCell([]byte("abc")))
	assert.Nil(t, NormalizeCell(nil))
}

func TestCompareCells(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.AddDate(0, 1, 0)

	assert.Equal(t, -1, compareCells(int64(1), 2.5))
	assert.Equal(t, 0, compareCells(int64(2), 2.0))
	assert.Equal(t, 1, compareCells("b", "a"))
	assert.Equal(t, -1, compareCells(t1, t2))
	assert.Equal(t, 1, compareCells(nil, int64(1)), "nil sorts last")
	assert.Equal(t, -1, compareCells(int64(9), "a"), "numbers before strings")
}

func TestCellKey(t *testing.T) {
	assert.Equal(t, cellKey([]any{int64(2)}), cellKey([]any{2.0}), "integral floats group with ints")
	assert.NotEqual(t, cellKey([]any{"2"}), cellKey([]any{int64(2)}))
	assert.NotEqual(t, cellKey([]any{"a", "b"}), cellKey([]any{"a|b"}))
	assert.NotEqual(t,
		cellKey([]any{"x|string:y", "z"}),
		cellKey([]any{"x", "y|string:z"}),
		"separators inside strings stay inside their cell")
	assert.NotEqual(t, cellKey([]any{`a"|s:"b`}), cellKey([]any{"a", "b"}))
	assert.NotEqual(t, cellKey([]any{nil}), cellKey([]any{"<nil>"}))
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want time.Time
		ok   bool
	}{
		{"iso date", "2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"iso datetime", "2024-03-15 10:30:00", time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), true},
		{"us date", "03/15/2024", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"month name", "Mar 2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"serial", int64(45366), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"serial with time", 45366.5, time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC), true},
		{"garbage", "not a date", time.Time{}, false},
		{"empty", "", time.Time{}, false},
		{"out of range serial", math.Inf(1), time.Time{}, false},
		{"bool", true, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTime(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			}
		})
	}
}
