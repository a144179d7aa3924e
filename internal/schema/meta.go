package schema

// ColumnRef is a declared column with its group and effective descriptor.
type ColumnRef struct {
	Group string
	Spec  ColumnSpec
	// Desc is the group scale merged with the column descriptor.
	Desc   *Descriptor
	Hidden bool
}

// Columns returns every declared column in document order.
func (d *Document) Columns() []ColumnRef {
	var out []ColumnRef
	for _, g := range d.Structure {
		for _, c := range g.Columns {
			desc := Merge(g.Scale, c.Desc)
			out = append(out, ColumnRef{
				Group:  g.Name,
				Spec:   c,
				Desc:   desc,
				Hidden: g.Hidden || desc.IsHidden(),
			})
		}
	}
	return out
}

// ColumnMeta maps every group and column name to its effective descriptor.
// Groups map to their scale (an empty descriptor when none is declared).
func (d *Document) ColumnMeta() map[string]*Descriptor {
	out := map[string]*Descriptor{}
	for _, g := range d.Structure {
		out[g.Name] = Merge(g.Scale, nil)
		for _, c := range g.Columns {
			out[c.Name] = Merge(g.Scale, c.Desc)
		}
	}
	return out
}

// GroupColumns maps each group name to its member column names.
func (d *Document) GroupColumns() map[string][]string {
	out := make(map[string][]string, len(d.Structure))
	for _, g := range d.Structure {
		names := make([]string, 0, len(g.Columns))
		for _, c := range g.Columns {
			names = append(names, c.Name)
		}
		out[g.Name] = names
	}
	return out
}

// GroupNames returns group names in declaration order.
func (d *Document) GroupNames() []string {
	out := make([]string, 0, len(d.Structure))
	for _, g := range d.Structure {
		out = append(out, g.Name)
	}
	return out
}

// ColumnNames returns canonical column names in declaration order.
func (d *Document) ColumnNames() []string {
	var out []string
	for _, g := range d.Structure {
		for _, c := range g.Columns {
			out = append(out, c.Name)
		}
	}
	return out
}

// ExpandAliases replaces every group name in names with the group's columns.
func (d *Document) ExpandAliases(names []string) []string {
	return ExpandAliases(names, d.GroupColumns())
}

// ExpandAliases replaces every entry that is a key of aliases with its members.
func ExpandAliases(names []string, aliases map[string][]string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if members, ok := aliases[n]; ok {
			out = append(out, members...)
			continue
		}
		out = append(out, n)
	}
	return out
}

// SourceNames maps source column names to canonical names. When several
// columns read the same source the last declaration wins.
func (d *Document) SourceNames() map[string]string {
	out := map[string]string{}
	for _, g := range d.Structure {
		for _, c := range g.Columns {
			out[c.SourceName()] = c.Name
		}
	}
	return out
}
