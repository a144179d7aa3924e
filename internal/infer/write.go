package infer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rrebane/salk-toolkit/internal/schema"
)

// WriteIfAbsent writes doc to path unless a file is already there. It
// reports whether it wrote and the path it considered, so callers can tell
// the user where an existing document lives. YAML paths get YAML output.
func WriteIfAbsent(path string, doc *schema.Document) (bool, string, error) {
	data, err := encode(doc, schema.FormatForPath(path))
	if err != nil {
		return false, path, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // caller-chosen output path
	if errors.Is(err, fs.ErrExist) {
		return false, path, nil
	}
	if err != nil {
		return false, path, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, path, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, path, fmt.Errorf("close %s: %w", path, err)
	}
	return true, path, nil
}

func encode(doc *schema.Document, format schema.Format) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if format != schema.FormatYAML {
		return append(data, '\n'), nil
	}
	// JSON is valid YAML; decoding into a node keeps key order.
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	restyle(&n)
	return yaml.Marshal(&n)
}

// restyle drops the flow and quoting styles the JSON parse left behind.
// Strings that would read back as another type are still quoted by the encoder.
func restyle(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style = 0
	}
	if n.Kind == yaml.ScalarNode {
		n.Style &^= yaml.DoubleQuotedStyle
	}
	for _, c := range n.Content {
		restyle(c)
	}
}
