package table

import "fmt"

// View is read access to the columns committed so far.
type View interface {
	Rows() int
	Names() []string
	Column(name string) (*Column, bool)
}

// Builder accumulates a typed table one column at a time. Earlier columns are
// readable through View while later ones are being computed; nothing already
// committed can be replaced.
type Builder struct {
	t    *Table
	done bool
}

// NewBuilder starts a table with a fixed row count.
func NewBuilder(rows int) *Builder {
	return &Builder{t: Empty(rows)}
}

// View exposes the committed columns.
func (b *Builder) View() View { return b.t }

// Append commits the next column.
func (b *Builder) Append(c *Column) error {
	if b.done {
		return fmt.Errorf("builder already finished")
	}
	return b.t.Add(c)
}

// Build finishes the builder and returns the table.
func (b *Builder) Build() *Table {
	b.done = true
	return b.t
}
