package expr

import (
	"fmt"
	"sort"
	"time"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"

	"github.com/rrebane/salk-toolkit/internal/table"
)

// FromGo converts a cell value (or a nested list/map of them) into a Starlark value.
// Go integers stay integers so constants can be used as indexes and ranges.
func FromGo(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case starlark.Value:
		return x, nil
	case []any:
		return listFromGo(x)
	case map[string]any:
		return dictFromGo(x)
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	}
	switch x := table.Normalize(v).(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case float64:
		return starlark.Float(x), nil
	case string:
		return starlark.String(x), nil
	case time.Time:
		return startime.Time(x), nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

func listFromGo(items []any) (starlark.Value, error) {
	elems := make([]starlark.Value, len(items))
	for i, item := range items {
		sv, err := FromGo(item)
		if err != nil {
			return nil, err
		}
		elems[i] = sv
	}
	return starlark.NewList(elems), nil
}

func dictFromGo(m map[string]any) (starlark.Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := starlark.NewDict(len(m))
	for _, k := range keys {
		sv, err := FromGo(m[k])
		if err != nil {
			return nil, err
		}
		if err := d.SetKey(starlark.String(k), sv); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ToGo converts a Starlark value into a cell value. Integers and floats both
// become float64; lists and tuples become []any; dicts become map[string]any.
func ToGo(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int, starlark.Float:
		f, _ := starlark.AsFloat(x)
		return table.Normalize(f), nil
	case starlark.String:
		return string(x), nil
	case startime.Time:
		return time.Time(x), nil
	case *starlark.List:
		return iterableToGo(x, x.Len())
	case starlark.Tuple:
		return iterableToGo(x, x.Len())
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, err
			}
			out[k] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", v.Type())
	}
}

func iterableToGo(seq starlark.Iterable, n int) ([]any, error) {
	out := make([]any, 0, n)
	iter := seq.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		gv, err := ToGo(item)
		if err != nil {
			return nil, err
		}
		out = append(out, gv)
	}
	return out, nil
}

// columnList converts a column's cells into a Starlark list.
func columnList(c *table.Column) (*starlark.List, error) {
	elems := make([]starlark.Value, len(c.Values))
	for i, v := range c.Values {
		sv, err := FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", c.Name, i, err)
		}
		elems[i] = sv
	}
	return starlark.NewList(elems), nil
}

// columnCells converts a derivation result into n cells. A sequence must have
// exactly n items; any other value is broadcast to every row.
func columnCells(v starlark.Value, n int) ([]any, error) {
	switch v.(type) {
	case *starlark.List, starlark.Tuple:
		items, err := ToGo(v)
		if err != nil {
			return nil, err
		}
		cells := items.([]any)
		if len(cells) != n {
			return nil, fmt.Errorf("result has %d values, table has %d rows", len(cells), n)
		}
		for i, c := range cells {
			switch c.(type) {
			case []any, map[string]any:
				return nil, fmt.Errorf("row %d: nested %T values are not cells", i, c)
			}
		}
		return cells, nil
	}
	cell, err := ToGo(v)
	if err != nil {
		return nil, err
	}
	switch cell.(type) {
	case map[string]any:
		return nil, fmt.Errorf("a dict is not a column")
	}
	cells := make([]any, n)
	for i := range cells {
		cells[i] = cell
	}
	return cells, nil
}
