// Package infer derives an annotation document from an unannotated raw table
// by typing each column and clustering categorical columns that share a
// value set into groups with a common scale.
package infer

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rrebane/salk-toolkit/internal/config"
	"github.com/rrebane/salk-toolkit/internal/schema"
	"github.com/rrebane/salk-toolkit/internal/table"
)

// MainGroup holds every column that does not share a scale with another.
const MainGroup = "main"

// DefaultMaxTextCardinality is the number of distinct values above which a
// text column is treated as free text rather than categorical.
const DefaultMaxTextCardinality = 100

// Options tune inference. Zero values take the defaults.
type Options struct {
	// Threshold is the fraction of a cluster's value set a column must
	// contain to join it.
	Threshold float64
	// MaxCategories is the cardinality above which a scale is written as "infer".
	MaxCategories int
	// MaxTextCardinality separates categorical text from free text.
	MaxTextCardinality int
	// Translate, when set, localizes category values and column names. The
	// data is untouched: values get a translate map, names a source mapping.
	Translate func(string) string
	// Labels are human-readable column labels surfaced by the reader.
	Labels map[string]string
	// File is recorded as the document's data file.
	File   string
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Threshold <= 0 {
		o.Threshold = config.DefaultClusterThreshold
	}
	if o.MaxCategories <= 0 {
		o.MaxCategories = config.DefaultMaxCategories
	}
	if o.MaxTextCardinality <= 0 {
		o.MaxTextCardinality = DefaultMaxTextCardinality
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// columnClass is the type inference settled on for a raw column.
type columnClass int

const (
	classText columnClass = iota
	classCategorical
	classContinuous
	classDatetime
)

type profile struct {
	col    *table.Column
	class  columnClass
	labels []string // category labels, in domain or sorted order
}

type cluster struct {
	values  map[string]bool
	members []*profile
}

// Infer builds a document for raw. The result depends only on the table:
// clusters form greedily in column order and label lists are sorted unless
// the source carries its own categorical domain.
func Infer(raw *table.Table, opts Options) *schema.Document {
	opts.defaults()

	var profiles []*profile
	for _, c := range raw.Columns() {
		if c.AllMissing() {
			opts.Logger.Debug("skipping empty column", "column", c.Name)
			continue
		}
		profiles = append(profiles, classify(c, opts.MaxTextCardinality))
	}

	var clusters []*cluster
	for _, p := range profiles {
		if p.class != classCategorical {
			continue
		}
		if c := joinable(clusters, p.labels, opts.Threshold); c != nil {
			c.members = append(c.members, p)
			for _, l := range p.labels {
				c.values[l] = true
			}
			continue
		}
		values := make(map[string]bool, len(p.labels))
		for _, l := range p.labels {
			values[l] = true
		}
		clusters = append(clusters, &cluster{values: values, members: []*profile{p}})
	}

	grouped := map[*profile]bool{}
	var groups []schema.Group
	names := newNamer()
	for _, p := range profiles {
		names.reserve(p.col.Name)
	}
	for _, c := range clusters {
		if len(c.members) < 2 {
			continue
		}
		g := clusterGroup(c, names, opts)
		for _, m := range c.members {
			grouped[m] = true
		}
		opts.Logger.Debug("inferred shared scale", "group", g.Name, "columns", len(g.Columns))
		groups = append(groups, g)
	}

	main := schema.Group{Name: names.group(MainGroup)}
	for _, p := range profiles {
		if grouped[p] {
			continue
		}
		main.Columns = append(main.Columns, columnSpec(p, descriptor(p, opts), opts))
	}
	if len(main.Columns) > 0 {
		groups = append([]schema.Group{main}, groups...)
	}

	return &schema.Document{File: opts.File, Structure: groups}
}

// classify types a column. Numbers are continuous, times are datetimes,
// source categoricals and booleans are categorical, and text is categorical
// while its cardinality stays under the free-text cutoff.
func classify(c *table.Column, maxText int) *profile {
	p := &profile{col: c}
	switch c.Kind {
	case table.KindNumeric:
		p.class = classContinuous
	case table.KindDatetime:
		p.class = classDatetime
	case table.KindCategorical:
		p.class = classCategorical
		if c.Ordered {
			p.labels = append([]string{}, c.Categories...)
		} else {
			p.labels = sortedLabels(c)
		}
	case table.KindBoolean:
		p.class = classCategorical
		p.labels = sortedLabels(c)
	case table.KindText:
		labels := sortedLabels(c)
		if len(labels) <= maxText {
			p.class = classCategorical
			p.labels = labels
		}
	}
	return p
}

func sortedLabels(c *table.Column) []string {
	labels := c.DistinctLabels()
	sort.Strings(labels)
	return labels
}

// joinable returns the first cluster whose accumulated value set is covered
// by more than threshold of its size by values.
func joinable(clusters []*cluster, values []string, threshold float64) *cluster {
	for _, c := range clusters {
		overlap := 0
		for _, v := range values {
			if c.values[v] {
				overlap++
			}
		}
		if float64(overlap) > threshold*float64(len(c.values)) {
			return c
		}
	}
	return nil
}

func clusterGroup(c *cluster, names *namer, opts Options) schema.Group {
	memberNames := make([]string, len(c.members))
	for i, m := range c.members {
		memberNames[i] = m.col.Name
	}
	scale := categoryDescriptor(clusterLabels(c), sharedOrdered(c), opts)
	g := schema.Group{Name: names.group(strings.Join(memberNames, "_")), Scale: scale}
	for _, m := range c.members {
		var desc *schema.Descriptor
		if label := opts.Labels[m.col.Name]; label != "" {
			desc = &schema.Descriptor{Label: label}
		}
		g.Columns = append(g.Columns, columnSpec(m, desc, opts))
	}
	return g
}

// clusterLabels keeps a domain every member shares; otherwise the union is sorted.
func clusterLabels(c *cluster) []string {
	first := c.members[0]
	if first.col.IsCategorical() && first.col.Ordered {
		shared := true
		for _, m := range c.members[1:] {
			if !m.col.IsCategorical() || !equalLabels(m.col.Categories, first.col.Categories) {
				shared = false
				break
			}
		}
		if shared {
			return append([]string{}, first.col.Categories...)
		}
	}
	out := make([]string, 0, len(c.values))
	for v := range c.values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func sharedOrdered(c *cluster) bool {
	for _, m := range c.members {
		if !m.col.IsCategorical() || !m.col.Ordered {
			return false
		}
	}
	return true
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func descriptor(p *profile, opts Options) *schema.Descriptor {
	var d *schema.Descriptor
	switch p.class {
	case classCategorical:
		d = categoryDescriptor(p.labels, p.col.IsCategorical() && p.col.Ordered, opts)
	case classContinuous:
		d = &schema.Descriptor{Continuous: boolPtr(true)}
	case classDatetime:
		d = &schema.Descriptor{Datetime: boolPtr(true)}
	}
	if label := opts.Labels[p.col.Name]; label != "" {
		if d == nil {
			d = &schema.Descriptor{}
		}
		d.Label = label
	}
	return d
}

// categoryDescriptor lists labels, or "infer" past the cap. With a Translate
// callback the listed labels are the translated ones and a translate map
// carries the change.
func categoryDescriptor(labels []string, ordered bool, opts Options) *schema.Descriptor {
	d := &schema.Descriptor{}
	if ordered {
		d.Ordered = boolPtr(true)
	}
	if len(labels) > opts.MaxCategories {
		d.Categories = &schema.Categories{Infer: true}
		return d
	}
	cats := make([]any, 0, len(labels))
	var pairs []any
	seen := map[string]bool{}
	for _, l := range labels {
		to := l
		if opts.Translate != nil {
			to = opts.Translate(l)
		}
		if to != l {
			pairs = append(pairs, l, to)
		}
		if !seen[to] {
			seen[to] = true
			cats = append(cats, to)
		}
	}
	d.Categories = &schema.Categories{Labels: cats}
	if len(pairs) > 0 {
		d.Translate = schema.NewTranslate(pairs...)
	}
	return d
}

func columnSpec(p *profile, desc *schema.Descriptor, opts Options) schema.ColumnSpec {
	spec := schema.ColumnSpec{Name: p.col.Name, Desc: desc}
	if opts.Translate != nil {
		if to := opts.Translate(p.col.Name); to != "" && to != p.col.Name {
			spec.Name, spec.Source = to, p.col.Name
		}
	}
	return spec
}

// namer keeps group names distinct from each other and from column names,
// so alias expansion stays unambiguous.
type namer struct {
	taken map[string]bool
}

func newNamer() *namer { return &namer{taken: map[string]bool{}} }

func (n *namer) reserve(name string) { n.taken[name] = true }

func (n *namer) group(base string) string {
	name := base
	for i := 1; n.taken[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	n.taken[name] = true
	return name
}

func boolPtr(b bool) *bool { return &b }
