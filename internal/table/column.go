// Package table holds the column-oriented raw and typed tables the engine works on.
package table

import (
	"sort"
	"time"
)

// Kind is the logical type of a column.
type Kind string

const (
	KindText        Kind = "text"
	KindNumeric     Kind = "numeric"
	KindDatetime    Kind = "datetime"
	KindBoolean     Kind = "boolean"
	KindCategorical Kind = "categorical"
	KindOpaque      Kind = "opaque"
)

// Column is a named vector of cells. A nil cell is missing. Categorical
// columns hold string labels that are members of Categories.
type Column struct {
	Name       string
	Kind       Kind
	Values     []any
	Categories []string
	Ordered    bool
}

// NewColumn builds a column from arbitrary Go values, normalizing every cell
// and inferring the kind from the non-missing cells.
func NewColumn(name string, values []any) *Column {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = Normalize(v)
	}
	return &Column{Name: name, Kind: DetectKind(out), Values: out}
}

// NewCategorical builds a categorical column. Labels not in categories become missing.
func NewCategorical(name string, values []any, categories []string, ordered bool) *Column {
	c, _, _ := Categorize(&Column{Name: name, Kind: KindText, Values: values}, categories, ordered)
	return c
}

// DetectKind infers a kind from normalized cells. Columns with mixed or no
// non-missing cells are text.
func DetectKind(values []any) Kind {
	kind := Kind("")
	for _, v := range values {
		var k Kind
		switch v.(type) {
		case nil:
			continue
		case float64:
			k = KindNumeric
		case bool:
			k = KindBoolean
		case time.Time:
			k = KindDatetime
		case string:
			k = KindText
		default:
			k = KindOpaque
		}
		if kind == "" {
			kind = k
		} else if kind != k {
			return KindOpaque
		}
	}
	if kind == "" {
		return KindText
	}
	return kind
}

// Len returns the number of rows.
func (c *Column) Len() int { return len(c.Values) }

// Missing counts missing cells.
func (c *Column) Missing() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// AllMissing reports whether the column has no usable cells.
func (c *Column) AllMissing() bool { return c.Missing() == len(c.Values) }

// IsCategorical reports whether the column carries a category domain.
func (c *Column) IsCategorical() bool { return c.Kind == KindCategorical }

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	out := *c
	out.Values = append([]any(nil), c.Values...)
	if c.Categories != nil {
		out.Categories = append([]string(nil), c.Categories...)
	}
	return &out
}

// Renamed returns a copy of the column under a new name.
func (c *Column) Renamed(name string) *Column {
	out := c.Clone()
	out.Name = name
	return out
}

// Distinct returns non-missing cells in order of first appearance.
func (c *Column) Distinct() []any {
	seen := map[string]bool{}
	var out []any
	for _, v := range c.Values {
		if v == nil {
			continue
		}
		key := FormatValue(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// DistinctLabels returns the formatted distinct values in order of first appearance.
func (c *Column) DistinctLabels() []string {
	vals := c.Distinct()
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = FormatValue(v)
	}
	return out
}

// AllNumeric reports whether every non-missing cell is a number and there is at least one.
func (c *Column) AllNumeric() bool {
	seen := false
	for _, v := range c.Values {
		if v == nil {
			continue
		}
		if !isNumber(v) {
			return false
		}
		seen = true
	}
	return seen
}

// SortedNumericLabels returns distinct numeric cells sorted ascending, formatted as labels.
func (c *Column) SortedNumericLabels() []string {
	vals := c.Distinct()
	nums := make([]float64, 0, len(vals))
	for _, v := range vals {
		if f, ok := v.(float64); ok {
			nums = append(nums, f)
		}
	}
	sort.Float64s(nums)
	out := make([]string, len(nums))
	for i, f := range nums {
		out[i] = FormatValue(f)
	}
	return out
}

// Categorize converts c to a categorical column over labels. Cells whose label
// is not listed become missing; newMissing counts them and uncovered lists the
// distinct unlisted labels in order of first appearance.
func Categorize(c *Column, labels []string, ordered bool) (out *Column, newMissing int, uncovered []string) {
	allowed := make(map[string]bool, len(labels))
	for _, l := range labels {
		allowed[l] = true
	}
	seen := map[string]bool{}
	values := make([]any, len(c.Values))
	for i, v := range c.Values {
		if v == nil {
			continue
		}
		label := FormatValue(v)
		if allowed[label] {
			values[i] = label
			continue
		}
		newMissing++
		if !seen[label] {
			seen[label] = true
			uncovered = append(uncovered, label)
		}
	}
	return &Column{
		Name:       c.Name,
		Kind:       KindCategorical,
		Values:     values,
		Categories: append([]string{}, labels...),
		Ordered:    ordered,
	}, newMissing, uncovered
}

// Remap replaces cells whose formatted value is a key of mapping. Unmapped
// cells pass through. Categorical domains are renamed alongside their cells;
// labels that collapse onto an existing label are merged.
func Remap(c *Column, mapping map[string]any) *Column {
	out := c.Clone()
	if len(mapping) == 0 {
		return out
	}
	for i, v := range out.Values {
		if v == nil {
			continue
		}
		if to, ok := mapping[FormatValue(v)]; ok {
			out.Values[i] = Normalize(to)
		}
	}
	if out.Kind != KindCategorical {
		out.Kind = DetectKind(out.Values)
		return out
	}
	seen := map[string]bool{}
	cats := make([]string, 0, len(out.Categories))
	for _, label := range out.Categories {
		if to, ok := mapping[label]; ok {
			if to == nil {
				continue
			}
			label = FormatValue(Normalize(to))
		}
		if !seen[label] {
			seen[label] = true
			cats = append(cats, label)
		}
	}
	out.Categories = cats
	for i, v := range out.Values {
		if v != nil {
			out.Values[i] = FormatValue(v)
		}
	}
	return out
}

// ToNumeric parses every cell as a number; unparseable cells become missing.
func ToNumeric(c *Column) *Column {
	values := make([]any, len(c.Values))
	for i, v := range c.Values {
		if f, ok := ToFloat(v); ok {
			values[i] = f
		}
	}
	return &Column{Name: c.Name, Kind: KindNumeric, Values: values}
}

// ToDatetime parses every cell as a datetime; unparseable cells become missing.
func ToDatetime(c *Column) *Column {
	values := make([]any, len(c.Values))
	for i, v := range c.Values {
		if t, ok := ToTime(v); ok {
			values[i] = t
		}
	}
	return &Column{Name: c.Name, Kind: KindDatetime, Values: values}
}
