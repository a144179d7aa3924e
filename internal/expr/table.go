package expr

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/rrebane/salk-toolkit/internal/table"
)

// tableValue exposes a table view to Starlark as a read-only mapping from
// column name to a frozen list of cells. Columns are converted on first access
// and cached; committed columns never change, so the cache stays valid while
// the underlying builder grows.
type tableValue struct {
	name  string
	view  table.View
	cache map[string]*starlark.List
}

var (
	_ starlark.Mapping  = (*tableValue)(nil)
	_ starlark.Iterable = (*tableValue)(nil)
	_ starlark.Sequence = (*tableValue)(nil)
	_ starlark.HasAttrs = (*tableValue)(nil)
)

func newTableValue(name string, view table.View) *tableValue {
	return &tableValue{name: name, view: view, cache: map[string]*starlark.List{}}
}

func (t *tableValue) String() string {
	return fmt.Sprintf("<%s %d rows [%s]>", t.name, t.view.Rows(), strings.Join(t.view.Names(), ", "))
}
func (t *tableValue) Type() string         { return "table" }
func (t *tableValue) Freeze()              {}
func (t *tableValue) Truth() starlark.Bool { return len(t.view.Names()) > 0 }
func (t *tableValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: table")
}
func (t *tableValue) Len() int { return len(t.view.Names()) }

func (t *tableValue) Iterate() starlark.Iterator {
	return t.keys().Iterate()
}

func (t *tableValue) keys() starlark.Tuple {
	names := t.view.Names()
	out := make(starlark.Tuple, len(names))
	for i, n := range names {
		out[i] = starlark.String(n)
	}
	return out
}

func (t *tableValue) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("%s: column key must be a string, got %s", t.name, k.Type())
	}
	if l, ok := t.cache[name]; ok {
		return l, true, nil
	}
	col, ok := t.view.Column(name)
	if !ok {
		return nil, false, nil
	}
	l, err := columnList(col)
	if err != nil {
		return nil, false, err
	}
	l.Freeze()
	t.cache[name] = l
	return l, true, nil
}

func (t *tableValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "rows":
		return starlark.MakeInt(t.view.Rows()), nil
	case "keys":
		return starlark.NewBuiltin(t.name+".keys", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return starlark.NewList(t.keys()), nil
		}), nil
	}
	return nil, nil
}

func (t *tableValue) AttrNames() []string { return []string{"keys", "rows"} }

// tableDict copies a table into a mutable Starlark dict for scripts that
// modify the table in place.
func tableDict(t *table.Table) (*starlark.Dict, error) {
	d := starlark.NewDict(t.Width())
	for _, c := range t.Columns() {
		l, err := columnList(c)
		if err != nil {
			return nil, err
		}
		if err := d.SetKey(starlark.String(c.Name), l); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// dictTable reads a script-modified dict back into a table. Columns whose
// cells still fit their original categorical domain keep it.
func dictTable(d *starlark.Dict, orig *table.Table) (*table.Table, error) {
	rows := -1
	var cols []*table.Column
	for _, item := range d.Items() {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("df keys must be strings, got %s", item[0].Type())
		}
		n := -1
		if seq, ok := item[1].(starlark.Sequence); ok {
			n = seq.Len()
		}
		if n < 0 {
			return nil, fmt.Errorf("df[%q] must be a list, got %s", name, item[1].Type())
		}
		if rows >= 0 && n != rows {
			return nil, fmt.Errorf("df[%q] has %d values, other columns have %d", name, n, rows)
		}
		rows = n
		cells, err := columnCells(item[1], n)
		if err != nil {
			return nil, fmt.Errorf("df[%q]: %w", name, err)
		}
		cols = append(cols, rebuildColumn(name, cells, orig))
	}
	if rows < 0 {
		return table.Empty(0), nil
	}
	return table.New(cols...)
}

func rebuildColumn(name string, cells []any, orig *table.Table) *table.Column {
	prev, _ := orig.Column(name)
	return withDomain(name, cells, prev)
}

// withDomain keeps prev's categorical domain when every cell is still one of
// its labels.
func withDomain(name string, cells []any, prev *table.Column) *table.Column {
	if prev == nil || !prev.IsCategorical() {
		return table.NewColumn(name, cells)
	}
	allowed := make(map[string]bool, len(prev.Categories))
	for _, c := range prev.Categories {
		allowed[c] = true
	}
	for _, v := range cells {
		if v != nil && !allowed[table.FormatValue(v)] {
			return table.NewColumn(name, cells)
		}
	}
	return table.NewCategorical(name, cells, prev.Categories, prev.Ordered)
}
