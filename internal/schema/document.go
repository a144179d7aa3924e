// Package schema models the annotation document that drives the engine:
// groups of column specs with descriptors, source file references and
// document-level constants and derivations.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	orderedmap "github.com/pb33f/ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/rrebane/salk-toolkit/internal/domain"
)

// Document is a parsed annotation document with constants already substituted.
type Document struct {
	// Constants is the top-level constants block, kept for derivation bindings.
	Constants      *orderedmap.OrderedMap[string, any]
	ReadOpts       map[string]any
	File           string
	Files          []FileRef
	Structure      []Group
	Preprocessing  string
	Postprocessing string
	Extra          *orderedmap.OrderedMap[string, any]
}

// Group is a named, ordered collection of columns sharing an optional scale.
type Group struct {
	Name    string
	Scale   *Descriptor
	Hidden  bool
	Columns []ColumnSpec
	Extra   *orderedmap.OrderedMap[string, any]
}

// ColumnSpec declares one output column.
type ColumnSpec struct {
	Name string
	// Source is the raw column name when it differs from Name.
	Source string
	Desc   *Descriptor
}

// SourceName returns the raw column the spec reads from.
func (c ColumnSpec) SourceName() string {
	if c.Source != "" {
		return c.Source
	}
	return c.Name
}

// FileRef is one entry of `files`. Extra keys are literal columns stamped on
// every row read from the file.
type FileRef struct {
	File  string
	Opts  map[string]any
	Extra *orderedmap.OrderedMap[string, any]
}

// ConstantValues returns the constants as a plain map.
func (d *Document) ConstantValues() map[string]any {
	out := map[string]any{}
	if d.Constants == nil {
		return out
	}
	for p := d.Constants.Oldest(); p != nil; p = p.Next() {
		out[p.Key] = p.Value
	}
	return out
}

// Sources returns the declared source files. A lone `file` is returned as a
// single reference without extras.
func (d *Document) Sources() []FileRef {
	if len(d.Files) > 0 {
		return d.Files
	}
	if d.File != "" {
		return []FileRef{{File: d.File}}
	}
	return nil
}

// Load reads and parses a document from disk, picking the syntax from the extension.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	doc, err := Parse(data, FormatForPath(path))
	if err != nil {
		var pe *domain.SchemaParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return doc, nil
}

// Parse decodes a document, substitutes constants and validates the structure.
func Parse(data []byte, format Format) (*Document, error) {
	root, err := parseNode(data, format)
	if err != nil {
		return nil, domain.ErrSchemaParse("", "%v", err)
	}
	if root.Kind != yaml.MappingNode {
		return nil, domain.ErrSchemaParse("", "document must be an object")
	}
	doc := &Document{}
	if block := mappingValue(root, constantsKey); block != nil {
		if block.Kind != yaml.MappingNode {
			return nil, domain.ErrSchemaParse("", "constants must be an object")
		}
		if doc.Constants, err = orderedValues(block); err != nil {
			return nil, domain.ErrSchemaParse("", "constants: %v", err)
		}
	}
	if err := doc.decode(SubstituteConstants(root)); err != nil {
		return nil, domain.ErrSchemaParse("", "%v", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *Document) decode(n *yaml.Node) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		var err error
		switch key {
		case "read_opts":
			err = val.Decode(&d.ReadOpts)
		case "file":
			err = val.Decode(&d.File)
		case "files":
			d.Files, err = decodeFiles(val)
		case "structure":
			d.Structure, err = decodeStructure(val)
		case "preprocessing":
			d.Preprocessing, err = decodeCode(val)
		case "postprocessing":
			d.Postprocessing, err = decodeCode(val)
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
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// decodeCode accepts a string or a list of lines.
func decodeCode(n *yaml.Node) (string, error) {
	if n.Kind == yaml.SequenceNode {
		var lines []string
		if err := n.Decode(&lines); err != nil {
			return "", err
		}
		code := ""
		for _, l := range lines {
			code += l + "\n"
		}
		return code, nil
	}
	var s string
	err := n.Decode(&s)
	return s, err
}

func decodeFiles(n *yaml.Node) ([]FileRef, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: must be a list", n.Line)
	}
	out := make([]FileRef, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind == yaml.ScalarNode {
			out = append(out, FileRef{File: item.Value})
			continue
		}
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: file entry must be a path or an object", item.Line)
		}
		var ref FileRef
		for i := 0; i+1 < len(item.Content); i += 2 {
			key, val := item.Content[i].Value, item.Content[i+1]
			switch key {
			case "file":
				if err := val.Decode(&ref.File); err != nil {
					return nil, err
				}
			case "opts":
				if err := val.Decode(&ref.Opts); err != nil {
					return nil, err
				}
			default:
				var v any
				if err := val.Decode(&v); err != nil {
					return nil, err
				}
				if ref.Extra == nil {
					ref.Extra = orderedmap.New[string, any]()
				}
				ref.Extra.Set(key, v)
			}
		}
		if ref.File == "" {
			return nil, fmt.Errorf("line %d: file entry without `file`", item.Line)
		}
		out = append(out, ref)
	}
	return out, nil
}

func decodeStructure(n *yaml.Node) ([]Group, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: must be a list of groups", n.Line)
	}
	out := make([]Group, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: group must be an object", item.Line)
		}
		var g Group
		for i := 0; i+1 < len(item.Content); i += 2 {
			key, val := item.Content[i].Value, item.Content[i+1]
			var err error
			switch key {
			case "name":
				err = val.Decode(&g.Name)
			case "scale":
				g.Scale = &Descriptor{}
				err = g.Scale.UnmarshalYAML(val)
			case "hidden":
				err = val.Decode(&g.Hidden)
			case "columns":
				g.Columns, err = decodeColumns(val)
			default:
				var v any
				if err = val.Decode(&v); err == nil {
					if g.Extra == nil {
						g.Extra = orderedmap.New[string, any]()
					}
					g.Extra.Set(key, v)
				}
			}
			if err != nil {
				return nil, fmt.Errorf("group %q: %s: %w", g.Name, key, err)
			}
		}
		out = append(out, g)
	}
	return out, nil
}

// decodeColumns accepts "name", [name], [name, source], [name, {desc}] and
// [name, source, {desc}].
func decodeColumns(n *yaml.Node) ([]ColumnSpec, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: must be a list", n.Line)
	}
	out := make([]ColumnSpec, 0, len(n.Content))
	for _, item := range n.Content {
		var spec ColumnSpec
		switch item.Kind {
		case yaml.ScalarNode:
			spec.Name = item.Value
		case yaml.SequenceNode:
			parts := item.Content
			if len(parts) == 0 || len(parts) > 3 || parts[0].Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: column must be [name], [name, source], [name, descriptor] or [name, source, descriptor]", item.Line)
			}
			spec.Name = parts[0].Value
			for j, p := range parts[1:] {
				switch {
				case p.Kind == yaml.ScalarNode && j == 0:
					spec.Source = p.Value
				case p.Kind == yaml.MappingNode && j == len(parts)-2:
					spec.Desc = &Descriptor{}
					if err := spec.Desc.UnmarshalYAML(p); err != nil {
						return nil, fmt.Errorf("column %q: %w", spec.Name, err)
					}
				default:
					return nil, fmt.Errorf("line %d: malformed column %q", p.Line, spec.Name)
				}
			}
		default:
			return nil, fmt.Errorf("line %d: column must be a name or a list", item.Line)
		}
		if spec.Source == spec.Name {
			spec.Source = ""
		}
		out = append(out, spec)
	}
	return out, nil
}

func orderedValues(n *yaml.Node) (*orderedmap.OrderedMap[string, any], error) {
	out := orderedmap.New[string, any]()
	for i := 0; i+1 < len(n.Content); i += 2 {
		var v any
		if err := n.Content[i+1].Decode(&v); err != nil {
			return nil, err
		}
		out.Set(n.Content[i].Value, v)
	}
	return out, nil
}

// Validate checks structural rules the decoder cannot: unique canonical
// names and named groups.
func (d *Document) Validate() error {
	seen := map[string]string{}
	for gi, g := range d.Structure {
		if g.Name == "" {
			return domain.ErrSchemaParse("", "structure[%d]: group without a name", gi)
		}
		for _, c := range g.Columns {
			if c.Name == "" {
				return domain.ErrSchemaParse("", "group %q: column without a name", g.Name)
			}
			if prev, dup := seen[c.Name]; dup {
				return domain.ErrSchemaParse("", "column %q declared in both group %q and group %q", c.Name, prev, g.Name)
			}
			seen[c.Name] = g.Name
		}
	}
	return nil
}

// MarshalJSON writes the document with its keys in a stable order and
// column specs in their shortest tuple form.
func (d *Document) MarshalJSON() ([]byte, error) {
	w := &objectWriter{}
	if d.Constants != nil {
		w.field(constantsKey, orderedJSON{d.Constants})
	}
	if d.ReadOpts != nil {
		w.field("read_opts", d.ReadOpts)
	}
	if d.File != "" {
		w.field("file", d.File)
	}
	if len(d.Files) > 0 {
		w.field("files", d.Files)
	}
	if d.Preprocessing != "" {
		w.field("preprocessing", d.Preprocessing)
	}
	structure := d.Structure
	if structure == nil {
		structure = []Group{}
	}
	w.field("structure", structure)
	if d.Postprocessing != "" {
		w.field("postprocessing", d.Postprocessing)
	}
	w.ordered(d.Extra)
	return w.bytes()
}

// UnmarshalJSON accepts the same documents as Parse.
func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := Parse(data, FormatJSON)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

func (g Group) MarshalJSON() ([]byte, error) {
	w := &objectWriter{}
	w.field("name", g.Name)
	if g.Scale != nil {
		w.field("scale", g.Scale)
	}
	if g.Hidden {
		w.field("hidden", true)
	}
	cols := g.Columns
	if cols == nil {
		cols = []ColumnSpec{}
	}
	w.field("columns", cols)
	w.ordered(g.Extra)
	return w.bytes()
}

func (c ColumnSpec) MarshalJSON() ([]byte, error) {
	switch {
	case c.Source == "" && c.Desc == nil:
		return json.Marshal(c.Name)
	case c.Desc == nil:
		return json.Marshal([]any{c.Name, c.Source})
	case c.Source == "":
		return json.Marshal([]any{c.Name, c.Desc})
	default:
		return json.Marshal([]any{c.Name, c.Source, c.Desc})
	}
}

func (f FileRef) MarshalJSON() ([]byte, error) {
	if f.Opts == nil && f.Extra == nil {
		return json.Marshal(f.File)
	}
	w := &objectWriter{}
	w.field("file", f.File)
	if f.Opts != nil {
		w.field("opts", f.Opts)
	}
	w.ordered(f.Extra)
	return w.bytes()
}

type orderedJSON struct {
	m *orderedmap.OrderedMap[string, any]
}

func (o orderedJSON) MarshalJSON() ([]byte, error) {
	w := &objectWriter{}
	w.ordered(o.m)
	return w.bytes()
}

// Clone returns a deep copy via a JSON round trip.
func (d *Document) Clone() (*Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return Parse(data, FormatJSON)
}
