// Package persist stores an annotated table and its schema document in one
// gzip-compressed Parquet file. The document travels in the file footer under
// MetaKey so it can be read without decoding any rows.
package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rrebane/salk-toolkit/internal/schema"
	"github.com/rrebane/salk-toolkit/internal/table"
)

// MetaKey is the footer key holding the JSON metadata envelope.
const MetaKey = "salk-toolkit-meta"

// ColumnInfo records what Parquet types cannot: the logical kind and, for
// categorical columns, the category list and order.
type ColumnInfo struct {
	Name       string     `json:"name"`
	Kind       table.Kind `json:"kind"`
	Categories []string   `json:"categories,omitempty"`
	Ordered    bool       `json:"ordered,omitempty"`
}

// Metadata is the envelope stored under MetaKey.
type Metadata struct {
	Data       *schema.Document `json:"data"`
	OldData    *schema.Document `json:"old_data,omitempty"`
	Model      json.RawMessage  `json:"model,omitempty"`
	Columns    []ColumnInfo     `json:"columns"`
	ArtifactID string           `json:"artifact_id"`
	CreatedAt  time.Time        `json:"created_at"`
}

// NewMetadata describes t under doc with a fresh artifact id.
func NewMetadata(doc *schema.Document, t *table.Table) *Metadata {
	return &Metadata{
		Data:       doc,
		Columns:    Describe(t),
		ArtifactID: uuid.NewString(),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

// Describe lists the column kinds and domains of t.
func Describe(t *table.Table) []ColumnInfo {
	out := make([]ColumnInfo, 0, t.Width())
	for _, c := range t.Columns() {
		ci := ColumnInfo{Name: c.Name, Kind: c.Kind}
		if c.IsCategorical() {
			ci.Categories = append([]string{}, c.Categories...)
			ci.Ordered = c.Ordered
		}
		out = append(out, ci)
	}
	return out
}

// Column returns the stored description of a column.
func (m *Metadata) Column(name string) (ColumnInfo, bool) {
	if m == nil {
		return ColumnInfo{}, false
	}
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

func decodeMetadata(raw string) (*Metadata, error) {
	var md Metadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MetaKey, err)
	}
	return &md, nil
}
