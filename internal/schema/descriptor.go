package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/pb33f/ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/rrebane/salk-toolkit/internal/table"
)

// Descriptor is the per-column (or per-group scale) processing metadata.
// Pointer fields distinguish "not set" from false so that column keys can
// override scale keys by presence.
type Descriptor struct {
	Translate  *Translate
	Transform  string
	Categories *Categories
	Ordered    *bool
	Continuous *bool
	Datetime   *bool
	Label      string
	Generated  *bool
	Hidden     *bool
	// Extra keeps unrecognized keys (e.g. colors, likert) in document order.
	Extra *orderedmap.OrderedMap[string, any]
}

// IsOrdered reports the effective ordered flag.
func (d *Descriptor) IsOrdered() bool { return d != nil && d.Ordered != nil && *d.Ordered }

// IsContinuous reports the effective continuous flag.
func (d *Descriptor) IsContinuous() bool { return d != nil && d.Continuous != nil && *d.Continuous }

// IsDatetime reports the effective datetime flag.
func (d *Descriptor) IsDatetime() bool { return d != nil && d.Datetime != nil && *d.Datetime }

// IsGenerated reports whether the column may be absent from the source.
func (d *Descriptor) IsGenerated() bool { return d != nil && d.Generated != nil && *d.Generated }

// IsHidden reports the effective hidden flag.
func (d *Descriptor) IsHidden() bool { return d != nil && d.Hidden != nil && *d.Hidden }

// Merge layers over on top of base: every key set in over wins.
// Either argument may be nil; the result is always a fresh descriptor.
func Merge(base, over *Descriptor) *Descriptor {
	out := &Descriptor{}
	for _, d := range []*Descriptor{base, over} {
		if d == nil {
			continue
		}
		if d.Translate != nil {
			out.Translate = d.Translate
		}
		if d.Transform != "" {
			out.Transform = d.Transform
		}
		if d.Categories != nil {
			out.Categories = d.Categories
		}
		if d.Ordered != nil {
			out.Ordered = d.Ordered
		}
		if d.Continuous != nil {
			out.Continuous = d.Continuous
		}
		if d.Datetime != nil {
			out.Datetime = d.Datetime
		}
		if d.Label != "" {
			out.Label = d.Label
		}
		if d.Generated != nil {
			out.Generated = d.Generated
		}
		if d.Hidden != nil {
			out.Hidden = d.Hidden
		}
		if d.Extra != nil {
			if out.Extra == nil {
				out.Extra = orderedmap.New[string, any]()
			}
			for p := d.Extra.Oldest(); p != nil; p = p.Next() {
				out.Extra.Set(p.Key, p.Value)
			}
		}
	}
	return out
}

func (d *Descriptor) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: descriptor must be a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		var err error
		switch key {
		case "translate":
			d.Translate = &Translate{}
			err = d.Translate.UnmarshalYAML(val)
		case "transform":
			err = val.Decode(&d.Transform)
		case "categories":
			d.Categories = &Categories{}
			err = d.Categories.UnmarshalYAML(val)
		case "ordered":
			d.Ordered, err = decodeBool(val)
		case "continuous":
			d.Continuous, err = decodeBool(val)
		case "datetime":
			d.Datetime, err = decodeBool(val)
		case "label":
			err = val.Decode(&d.Label)
		case "generated":
			d.Generated, err = decodeBool(val)
		case "hidden":
			d.Hidden, err = decodeBool(val)
		default:
			var v any
			if err = val.Decode(&v); err == nil {
				if d.Extra == nil {
					d.Extra = orderedmap.New[string, any]()
				}
				d.Extra.Set(key, v)
			}
		}
		if err != nil {
			return fmt.Errorf("descriptor key %q: %w", key, err)
		}
	}
	return nil
}

func (d *Descriptor) MarshalJSON() ([]byte, error) {
	w := &objectWriter{}
	if d.Translate != nil {
		w.field("translate", d.Translate)
	}
	if d.Transform != "" {
		w.field("transform", d.Transform)
	}
	if d.Categories != nil {
		w.field("categories", d.Categories)
	}
	for _, f := range []struct {
		key string
		val *bool
	}{
		{"ordered", d.Ordered},
		{"continuous", d.Continuous},
		{"datetime", d.Datetime},
		{"generated", d.Generated},
		{"hidden", d.Hidden},
	} {
		if f.val != nil {
			w.field(f.key, *f.val)
		}
	}
	if d.Label != "" {
		w.field("label", d.Label)
	}
	w.ordered(d.Extra)
	return w.bytes()
}

func decodeBool(n *yaml.Node) (*bool, error) {
	var b bool
	if err := n.Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Translate is an ordered literal value -> value mapping. Keys are matched
// against the formatted cell value.
type Translate struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewTranslate builds a translate mapping from alternating key/value pairs.
func NewTranslate(pairs ...any) *Translate {
	t := &Translate{m: orderedmap.New[string, any]()}
	for i := 0; i+1 < len(pairs); i += 2 {
		t.m.Set(table.FormatValue(table.Normalize(pairs[i])), pairs[i+1])
	}
	return t
}

// Len returns the number of entries.
func (t *Translate) Len() int {
	if t == nil || t.m == nil {
		return 0
	}
	return t.m.Len()
}

// Get looks up the replacement for a key.
func (t *Translate) Get(key string) (any, bool) {
	if t == nil || t.m == nil {
		return nil, false
	}
	return t.m.Get(key)
}

// Keys returns keys in document order.
func (t *Translate) Keys() []string {
	var out []string
	if t == nil || t.m == nil {
		return out
	}
	for p := t.m.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// Mapping returns the entries as a plain map.
func (t *Translate) Mapping() map[string]any {
	out := map[string]any{}
	if t == nil || t.m == nil {
		return out
	}
	for p := t.m.Oldest(); p != nil; p = p.Next() {
		out[p.Key] = p.Value
	}
	return out
}

// ValueLabels returns the distinct formatted target values in order of first appearance.
func (t *Translate) ValueLabels() []string {
	var out []string
	if t == nil || t.m == nil {
		return out
	}
	seen := map[string]bool{}
	for p := t.m.Oldest(); p != nil; p = p.Next() {
		if p.Value == nil {
			continue
		}
		label := table.FormatValue(table.Normalize(p.Value))
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	return out
}

// Equal compares two mappings by content, ignoring order.
func (t *Translate) Equal(o *Translate) bool {
	if t.Len() != o.Len() {
		return false
	}
	for _, k := range t.Keys() {
		a, _ := t.Get(k)
		b, ok := o.Get(k)
		if !ok || table.FormatValue(table.Normalize(a)) != table.FormatValue(table.Normalize(b)) || (a == nil) != (b == nil) {
			return false
		}
	}
	return true
}

func (t *Translate) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: translate must be a mapping", n.Line)
	}
	t.m = orderedmap.New[string, any]()
	for i := 0; i+1 < len(n.Content); i += 2 {
		var v any
		if err := n.Content[i+1].Decode(&v); err != nil {
			return err
		}
		t.m.Set(n.Content[i].Value, v)
	}
	return nil
}

func (t *Translate) MarshalJSON() ([]byte, error) {
	w := &objectWriter{}
	w.ordered(t.m)
	return w.bytes()
}

// Categories is either an explicit label list or the literal "infer".
type Categories struct {
	Infer  bool
	Labels []any
}

// InferCategories is the `"infer"` marker.
const InferCategories = "infer"

// Strings returns the labels formatted the way cells are matched.
func (c *Categories) Strings() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.Labels))
	for i, l := range c.Labels {
		out[i] = table.FormatValue(table.Normalize(l))
	}
	return out
}

// IsList reports whether an explicit label list was given.
func (c *Categories) IsList() bool { return c != nil && !c.Infer }

// Equal compares two category settings.
func (c *Categories) Equal(o *Categories) bool {
	if c == nil || o == nil {
		return c == nil && o == nil
	}
	if c.Infer != o.Infer {
		return false
	}
	a, b := c.Strings(), o.Strings()
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

func (c *Categories) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value != InferCategories {
			return fmt.Errorf("line %d: categories must be a list or %q, got %q", n.Line, InferCategories, n.Value)
		}
		c.Infer = true
		return nil
	case yaml.SequenceNode:
		c.Labels = make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			var v any
			if err := item.Decode(&v); err != nil {
				return err
			}
			c.Labels = append(c.Labels, v)
		}
		return nil
	default:
		return fmt.Errorf("line %d: categories must be a list or %q", n.Line, InferCategories)
	}
}

func (c *Categories) MarshalJSON() ([]byte, error) {
	if c.Infer {
		return json.Marshal(InferCategories)
	}
	if c.Labels == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Labels)
}

// objectWriter emits a JSON object with keys in insertion order.
type objectWriter struct {
	buf bytes.Buffer
	n   int
	err error
}

func (w *objectWriter) field(key string, v any) {
	if w.err != nil {
		return
	}
	if w.n == 0 {
		w.buf.WriteByte('{')
	} else {
		w.buf.WriteByte(',')
	}
	w.n++
	k, _ := json.Marshal(key)
	w.buf.Write(k)
	w.buf.WriteByte(':')
	b, err := json.Marshal(v)
	if err != nil {
		w.err = fmt.Errorf("marshal %q: %w", key, err)
		return
	}
	w.buf.Write(b)
}

func (w *objectWriter) ordered(m *orderedmap.OrderedMap[string, any]) {
	if m == nil {
		return
	}
	for p := m.Oldest(); p != nil; p = p.Next() {
		w.field(p.Key, p.Value)
	}
}

func (w *objectWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.n == 0 {
		return []byte("{}"), nil
	}
	w.buf.WriteByte('}')
	return w.buf.Bytes(), nil
}
