package table

import "fmt"

// Table is an ordered set of equally long, uniquely named columns.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
	sized bool
}

// New builds a table from columns. Names must be unique and lengths equal.
func New(cols ...*Column) (*Table, error) {
	t := &Table{index: map[string]int{}}
	for _, c := range cols {
		if err := t.Add(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Empty returns a table with a fixed row count and no columns.
func Empty(rows int) *Table {
	return &Table{index: map[string]int{}, rows: rows, sized: true}
}

// FromMap is a convenience for tests and fixtures: columns in the given order,
// cells taken from data.
func FromMap(order []string, data map[string][]any) (*Table, error) {
	cols := make([]*Column, 0, len(order))
	for _, name := range order {
		cols = append(cols, NewColumn(name, data[name]))
	}
	return New(cols...)
}

// Rows returns the row count.
func (t *Table) Rows() int { return t.rows }

// Width returns the column count.
func (t *Table) Width() int { return len(t.cols) }

// Columns returns the columns in order. The slice must not be modified.
func (t *Table) Columns() []*Column { return t.cols }

// Names returns column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Has reports whether a column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Add appends a column. It fails on duplicate names or mismatched lengths.
func (t *Table) Add(c *Column) error {
	if _, dup := t.index[c.Name]; dup {
		return fmt.Errorf("duplicate column %q", c.Name)
	}
	if err := t.checkLen(c); err != nil {
		return err
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// Set replaces the column with the same name in place, or appends it.
func (t *Table) Set(c *Column) error {
	if err := t.checkLen(c); err != nil {
		return err
	}
	if i, ok := t.index[c.Name]; ok {
		t.cols[i] = c
		return nil
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// Drop removes a column if present.
func (t *Table) Drop(name string) {
	i, ok := t.index[name]
	if !ok {
		return
	}
	t.cols = append(t.cols[:i:i], t.cols[i+1:]...)
	t.reindex()
}

// Rename renames columns according to mapping (old -> new).
func (t *Table) Rename(mapping map[string]string) error {
	for i, c := range t.cols {
		if to, ok := mapping[c.Name]; ok {
			t.cols[i] = c.Renamed(to)
		}
	}
	seen := map[string]bool{}
	for _, c := range t.cols {
		if seen[c.Name] {
			return fmt.Errorf("rename produces duplicate column %q", c.Name)
		}
		seen[c.Name] = true
	}
	t.reindex()
	return nil
}

// Select returns a new table with the named columns in the given order.
// Unknown names are skipped.
func (t *Table) Select(names []string) *Table {
	out := Empty(t.rows)
	for _, n := range names {
		if c, ok := t.Column(n); ok && !out.Has(n) {
			_ = out.Add(c)
		}
	}
	return out
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	out := &Table{index: map[string]int{}, rows: t.rows, sized: t.sized}
	for _, c := range t.cols {
		_ = out.Add(c.Clone())
	}
	return out
}

func (t *Table) checkLen(c *Column) error {
	if !t.sized {
		t.rows = c.Len()
		t.sized = true
		return nil
	}
	if c.Len() != t.rows {
		return fmt.Errorf("column %q has %d rows, table has %d", c.Name, c.Len(), t.rows)
	}
	return nil
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.Name] = i
	}
}
