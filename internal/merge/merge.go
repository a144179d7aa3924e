// Package merge stacks the raw tables of several sources into one.
package merge

import (
	"errors"
	"fmt"

	"github.com/rrebane/salk-toolkit/internal/domain"
	"github.com/rrebane/salk-toolkit/internal/table"
)

// FileIndexColumn holds the position of the source each row came from.
const FileIndexColumn = "file_ind"

// Field is a literal column stamped on every row of a source.
type Field struct {
	Name  string
	Value any
}

// Source is one raw table with its declared extra fields.
type Source struct {
	Name  string
	Table *table.Table
	Extra []Field
}

// Merge concatenates sources row-wise. Every row is stamped with its source's
// extra fields, and with FileIndexColumn when there is more than one source.
// Columns keep the order in which they first appear. A column missing from a
// source is filled with missing cells. Categorical columns take the first
// source's categories and order; labels that only later sources use are
// appended after them rather than becoming missing.
// Mixing numeric, boolean, datetime and text cells in one column is a
// ConcatenationError, except that text joins a categorical column as labels.
func Merge(sources []Source) (*table.Table, error) {
	switch len(sources) {
	case 0:
		return nil, errors.New("merge: no sources")
	case 1:
		return stamp(sources[0], nil)
	}

	stamped := make([]*table.Table, len(sources))
	var order []string
	seen := map[string]bool{}
	total := 0
	for i, s := range sources {
		t, err := stamp(s, &i)
		if err != nil {
			return nil, err
		}
		stamped[i] = t
		total += t.Rows()
		for _, name := range t.Names() {
			if !seen[name] {
				seen[name] = true
				order = append(order, name)
			}
		}
	}

	cols := make([]*table.Column, 0, len(order))
	for _, name := range order {
		parts := make([]*table.Column, len(stamped))
		for i, t := range stamped {
			if c, ok := t.Column(name); ok {
				parts[i] = c
			}
		}
		c, err := concat(name, parts, stamped, sources)
		if err != nil {
			return nil, err
		}
		if c.Len() != total {
			return nil, fmt.Errorf("merge: column %q has %d rows, expected %d", name, c.Len(), total)
		}
		cols = append(cols, c)
	}
	return table.New(cols...)
}

// stamp copies the source table and adds its extra fields, preceded by
// FileIndexColumn when index is set.
func stamp(s Source, index *int) (*table.Table, error) {
	t := s.Table.Clone()
	var fields []Field
	pos := 0
	if index != nil {
		pos = *index
		fields = append(fields, Field{Name: FileIndexColumn, Value: *index})
	}
	fields = append(fields, s.Extra...)
	for _, f := range fields {
		cells := make([]any, t.Rows())
		for i := range cells {
			cells[i] = f.Value
		}
		if err := t.Set(table.NewColumn(f.Name, cells)); err != nil {
			return nil, fmt.Errorf("stamp %s on %s: %w", f.Name, sourceName(s, pos), err)
		}
	}
	return t, nil
}

func sourceName(s Source, index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("source %d", index)
}

// concat stacks one column across sources. parts[i] is nil when source i
// lacks the column.
func concat(name string, parts []*table.Column, tables []*table.Table, sources []Source) (*table.Column, error) {
	kind, err := mergedKind(name, parts, sources)
	if err != nil {
		return nil, err
	}
	var values []any
	for i, p := range parts {
		if p == nil {
			values = append(values, make([]any, tables[i].Rows())...)
			continue
		}
		values = append(values, p.Values...)
	}
	switch kind {
	case table.KindCategorical:
		cats, ordered := alignedCategories(parts)
		return table.NewCategorical(name, values, cats, ordered), nil
	case "":
		return table.NewColumn(name, values), nil
	default:
		return &table.Column{Name: name, Kind: kind, Values: values}, nil
	}
}

// mergedKind decides the kind of the stacked column. All-missing parts are
// compatible with anything.
func mergedKind(name string, parts []*table.Column, sources []Source) (table.Kind, error) {
	var (
		kind  table.Kind
		first int
	)
	categorical := false
	for i, p := range parts {
		if p == nil || p.AllMissing() && !p.IsCategorical() {
			continue
		}
		k := p.Kind
		switch {
		case k == table.KindCategorical:
			categorical = true
			continue
		case k == table.KindOpaque:
			return table.KindOpaque, nil
		case kind == "":
			kind, first = k, i
		case kind != k:
			return "", domain.ErrConcatenation(name, "%s in %s but %s in %s",
				kind, sourceName(sources[first], first), k, sourceName(sources[i], i))
		}
	}
	if categorical {
		if kind != "" && kind != table.KindText {
			return "", domain.ErrConcatenation(name, "categorical in one source but %s in %s", kind, sourceName(sources[first], first))
		}
		return table.KindCategorical, nil
	}
	return kind, nil
}

// alignedCategories takes the first categorical part's labels and order and
// appends labels seen only later, from later domains first and then from
// plain text cells.
func alignedCategories(parts []*table.Column) ([]string, bool) {
	var (
		cats    []string
		ordered bool
		found   bool
	)
	have := map[string]bool{}
	add := func(label string) {
		if !have[label] {
			have[label] = true
			cats = append(cats, label)
		}
	}
	for _, p := range parts {
		if p == nil || !p.IsCategorical() {
			continue
		}
		if !found {
			ordered = p.Ordered
			found = true
		}
		for _, l := range p.Categories {
			add(l)
		}
	}
	for _, p := range parts {
		if p == nil || p.IsCategorical() {
			continue
		}
		for _, l := range p.DistinctLabels() {
			add(l)
		}
	}
	return cats, ordered
}
