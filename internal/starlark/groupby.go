package starlark

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
)

// maxBuckets bounds the number of time buckets a resample may produce.
const maxBuckets = 100_000

type group struct {
	key  []any
	rows []int
}

// GroupBy is a frame split into groups by key. Groups are ordered by key.
// Resamplers are GroupBys whose last key is a time bucket.
type GroupBy struct {
	kind     string
	frame    *Frame
	keyNames []string
	keyCols  map[int]bool
	groups   []group
}

var (
	_ starlark.Value    = (*GroupBy)(nil)
	_ starlark.HasAttrs = (*GroupBy)(nil)
)

func newGroupBy(f *Frame, cols []int) *GroupBy {
	g := &GroupBy{kind: "groupby", frame: f, keyCols: make(map[int]bool)}
	for _, c := range cols {
		g.keyNames = append(g.keyNames, f.columns[c])
		g.keyCols[c] = true
	}

	byKey := make(map[string]int)
rows:
	for r, row := range f.rows {
		key := make([]any, len(cols))
		for i, c := range cols {
			if row[c] == nil {
				continue rows
			}
			key[i] = row[c]
		}
		g.add(byKey, key, r)
	}
	g.sort()
	return g
}

func newResampler(f *Frame, on int, freq string, by []int) (*GroupBy, error) {
	unit, err := parseFreq(freq)
	if err != nil {
		return nil, err
	}
	for _, c := range by {
		if c == on {
			return nil, fmt.Errorf("column %q cannot be both the time column and a group key", f.columns[on])
		}
	}

	g := &GroupBy{kind: "resampler", frame: f, keyCols: map[int]bool{on: true}}
	for _, c := range by {
		g.keyNames = append(g.keyNames, f.columns[c])
		g.keyCols[c] = true
	}
	g.keyNames = append(g.keyNames, f.columns[on])

	byKey := make(map[string]int)
rows:
	for r, row := range f.rows {
		if row[on] == nil {
			continue
		}
		t, ok := row[on].(time.Time)
		if !ok {
			return nil, fmt.Errorf("column %q holds %s values; convert it with to_datetime first", f.columns[on], cellKind(row[on]))
		}
		key := make([]any, len(by)+1)
		for i, c := range by {
			if row[c] == nil {
				continue rows
			}
			key[i] = row[c]
		}
		key[len(by)] = bucketEnd(t, unit)
		g.add(byKey, key, r)
	}

	if err := g.fillGaps(byKey, len(by), unit); err != nil {
		return nil, err
	}
	g.sort()
	return g, nil
}

func (g *GroupBy) add(byKey map[string]int, key []any, row int) {
	k := cellKey(key)
	i, ok := byKey[k]
	if !ok {
		i = len(g.groups)
		byKey[k] = i
		g.groups = append(g.groups, group{key: key})
	}
	if row >= 0 {
		g.groups[i].rows = append(g.groups[i].rows, row)
	}
}

// fillGaps adds empty groups for every missing bucket between the first and
// last bucket of each key prefix.
func (g *GroupBy) fillGaps(byKey map[string]int, prefixLen int, unit string) error {
	type span struct {
		prefix     []any
		first, end time.Time
	}
	spans := make(map[string]*span)
	var order []string
	for _, grp := range g.groups {
		prefix := grp.key[:prefixLen]
		t := grp.key[prefixLen].(time.Time)
		pk := cellKey(prefix)
		s, ok := spans[pk]
		if !ok {
			spans[pk] = &span{prefix: prefix, first: t, end: t}
			order = append(order, pk)
			continue
		}
		if t.Before(s.first) {
			s.first = t
		}
		if t.After(s.end) {
			s.end = t
		}
	}

	total := 0
	for _, pk := range order {
		s := spans[pk]
		for b := s.first; !b.After(s.end); b = bucketEnd(b.AddDate(0, 0, 1), unit) {
			total++
			if total > maxBuckets {
				return fmt.Errorf("resample would produce more than %d buckets", maxBuckets)
			}
			key := append(append([]any{}, s.prefix...), b)
			g.add(byKey, key, -1)
		}
	}
	return nil
}

func (g *GroupBy) sort() {
	sort.SliceStable(g.groups, func(i, j int) bool {
		a, b := g.groups[i].key, g.groups[j].key
		for k := range a {
			if c := compareCells(a[k], b[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// NumGroups returns the number of groups.
func (g *GroupBy) NumGroups() int { return len(g.groups) }

func (g *GroupBy) String() string {
	return fmt.Sprintf("%s(by=[%s], groups=%d)", g.kind, strings.Join(g.keyNames, ", "), len(g.groups))
}

// Type implements starlark.Value.
func (g *GroupBy) Type() string { return g.kind }

// Freeze implements starlark.Value.
func (g *GroupBy) Freeze() {}

// Truth implements starlark.Value.
func (g *GroupBy) Truth() starlark.Bool { return len(g.groups) > 0 }

// Hash implements starlark.Value.
func (g *GroupBy) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", g.kind)
}

// Attr implements starlark.HasAttrs.
func (g *GroupBy) Attr(name string) (starlark.Value, error) {
	var fn func(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)
	switch name {
	case "agg":
		fn = g.agg
	case "size":
		fn = g.size
	case "agg_numeric":
		fn = g.aggNumeric
	default:
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return fn(b, args, kwargs)
	}).BindReceiver(g), nil
}

// AttrNames implements starlark.HasAttrs.
func (g *GroupBy) AttrNames() []string {
	return []string{"agg", "agg_numeric", "size"}
}

func (g *GroupBy) agg(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("%s: want a column and at least one aggregation", b.Name())
	}
	col, err := g.frame.columnArg(b.Name(), args[0])
	if err != nil {
		return nil, err
	}
	if g.keyCols[col] {
		return nil, fmt.Errorf("%s: cannot aggregate key column %q", b.Name(), g.frame.columns[col])
	}
	fns := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		s, ok := starlark.AsString(a)
		if !ok {
			return nil, fmt.Errorf("%s: aggregation must be a string, got %s", b.Name(), a.Type())
		}
		if err := checkAggregation(s); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		fns = append(fns, s)
	}

	type output struct {
		col  int
		fn   string
		name string
	}
	outputs := make([]output, len(fns))
	for i, fn := range fns {
		name := g.frame.columns[col]
		if len(fns) > 1 {
			name += "_" + fn
		}
		outputs[i] = output{col: col, fn: fn, name: name}
	}

	columns := append([]string{}, g.keyNames...)
	for _, s := range outputs {
		columns = append(columns, s.name)
	}
	rows := make([][]any, 0, len(g.groups))
	for _, grp := range g.groups {
		row := append(make([]any, 0, len(columns)), grp.key...)
		for _, s := range outputs {
			v, err := aggregate(s.fn, g.values(grp, s.col))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return NewFrame(columns, rows)
}

func (g *GroupBy) size(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	columns := append(append([]string{}, g.keyNames...), "count")
	rows := make([][]any, 0, len(g.groups))
	for _, grp := range g.groups {
		row := append(make([]any, 0, len(columns)), grp.key...)
		rows = append(rows, append(row, int64(len(grp.rows))))
	}
	return NewFrame(columns, rows)
}

func (g *GroupBy) aggNumeric(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	fn := "sum"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "fn?", &fn); err != nil {
		return nil, err
	}
	if err := checkAggregation(fn); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	var valueCols []int
	for c := range g.frame.columns {
		if g.keyCols[c] {
			continue
		}
		if isNumericColumn(g.frame.column(c).values) {
			valueCols = append(valueCols, c)
		}
	}

	columns := append([]string{}, g.keyNames...)
	for _, c := range valueCols {
		columns = append(columns, g.frame.columns[c])
	}
	rows := make([][]any, 0, len(g.groups))
	for _, grp := range g.groups {
		row := append(make([]any, 0, len(columns)), grp.key...)
		for _, c := range valueCols {
			v, err := aggregate(fn, g.values(grp, c))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return NewFrame(columns, rows)
}

func (g *GroupBy) values(grp group, col int) []any {
	out := make([]any, len(grp.rows))
	for i, r := range grp.rows {
		out[i] = g.frame.rows[r][col]
	}
	return out
}

// parseFreq maps a resample frequency to a bucket unit.
func parseFreq(freq string) (string, error) {
	switch strings.ToUpper(freq) {
	case "D":
		return "D", nil
	case "W":
		return "W", nil
	case "M", "ME":
		return "M", nil
	case "Q", "QE":
		return "Q", nil
	case "Y", "YE", "A":
		return "Y", nil
	default:
		return "", fmt.Errorf("unsupported frequency %q (want D, W, M, Q or Y)", freq)
	}
}

// bucketEnd labels t with the last day of its period, at midnight.
// Weeks end on Sunday.
func bucketEnd(t time.Time, unit string) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch unit {
	case "D":
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case "W":
		offset := (7 - int(t.Weekday())) % 7
		return time.Date(y, m, d+offset, 0, 0, 0, 0, loc)
	case "Q":
		qEnd := ((int(m)-1)/3 + 1) * 3
		return time.Date(y, time.Month(qEnd+1), 0, 0, 0, 0, 0, loc)
	case "Y":
		return time.Date(y, time.December, 31, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m+1, 0, 0, 0, 0, 0, loc)
	}
}

func cellKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case time.Time:
		return "time"
	default:
		return fmt.Sprintf("%T", v)
	}
}
