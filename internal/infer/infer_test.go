package infer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrebane/salk-toolkit/internal/schema"
	"github.com/rrebane/salk-toolkit/internal/table"
)

func surveyTable(t *testing.T) *table.Table {
	t.Helper()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tbl, err := table.FromMap(
		[]string{"gender", "q1", "q2", "q3", "q4", "age", "when", "comment", "empty"},
		map[string][]any{
			"gender":  {"m", "f", "f", "m"},
			"q1":      {"agree", "neutral", "disagree", "agree"},
			"q2":      {"disagree", "agree", "neutral", nil},
			"q3":      {"agree", "agree", "neutral", "disagree"},
			"q4":      {"agree", "other", nil, "other"},
			"age":     {21, 35, 48, nil},
			"when":    {day, day, day.AddDate(0, 0, 1), nil},
			"comment": {"great", "meh", "too long", "ok"},
			"empty":   {nil, nil, nil, nil},
		})
	require.NoError(t, err)
	return tbl
}

func marshal(t *testing.T, doc *schema.Document) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

func TestInfer_Structure(t *testing.T) {
	doc := Infer(surveyTable(t), Options{MaxTextCardinality: 3, File: "survey.csv"})

	assert.Equal(t, "survey.csv", doc.File)
	assert.Equal(t, []string{MainGroup, "q1_q2_q3"}, doc.GroupNames())
	assert.Equal(t, []string{"gender", "q4", "age", "when", "comment"}, doc.GroupColumns()[MainGroup])
	assert.NotContains(t, doc.ColumnNames(), "empty")

	meta := doc.ColumnMeta()
	assert.Equal(t, []string{"f", "m"}, meta["gender"].Categories.Strings())
	assert.True(t, meta["age"].IsContinuous())
	assert.True(t, meta["when"].IsDatetime())
	assert.Nil(t, meta["comment"].Categories, "high-cardinality text is free text")

	scale := meta["q1_q2_q3"]
	assert.Equal(t, []string{"agree", "disagree", "neutral"}, scale.Categories.Strings())
	assert.Equal(t, scale.Categories.Strings(), meta["q2"].Categories.Strings(), "members inherit the scale")

	_, err := schema.Parse([]byte(marshal(t, doc)), schema.FormatJSON)
	require.NoError(t, err, "inferred documents are valid documents")
}

func TestInfer_Idempotent(t *testing.T) {
	raw := surveyTable(t)
	first := marshal(t, Infer(raw, Options{}))
	second := marshal(t, Infer(raw.Clone(), Options{}))
	assert.Equal(t, first, second)
}

func TestInfer_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		want      []string
	}{
		{"default keeps q4 apart", 0, []string{MainGroup, "q1_q2_q3"}},
		{"loose threshold absorbs q4", 0.3, []string{MainGroup, "q1_q2_q3_q4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Infer(surveyTable(t), Options{Threshold: tt.threshold})
			assert.Equal(t, tt.want, doc.GroupNames())
		})
	}
}

func TestInfer_CategoryCap(t *testing.T) {
	doc := Infer(surveyTable(t), Options{MaxCategories: 2})
	meta := doc.ColumnMeta()
	assert.True(t, meta["q1_q2_q3"].Categories.Infer)
	assert.False(t, meta["gender"].Categories.Infer)
}

func TestInfer_SourceDomain(t *testing.T) {
	levels := []string{"low", "mid", "high"}
	raw, err := table.New(
		table.NewCategorical("a", []any{"low", "high"}, levels, true),
		table.NewCategorical("b", []any{"mid", "low"}, levels, true),
	)
	require.NoError(t, err)

	doc := Infer(raw, Options{})
	require.Equal(t, []string{"a_b"}, doc.GroupNames())
	scale := doc.Structure[0].Scale
	assert.Equal(t, levels, scale.Categories.Strings())
	assert.True(t, scale.IsOrdered())
}

func TestInfer_TranslateAndLabels(t *testing.T) {
	raw, err := table.FromMap([]string{"q1", "q2"}, map[string][]any{
		"q1": {"yes", "no"},
		"q2": {"no", "yes"},
	})
	require.NoError(t, err)

	doc := Infer(raw, Options{
		Translate: strings.ToUpper,
		Labels:    map[string]string{"q1": "Do you agree?"},
	})
	require.Len(t, doc.Structure, 1)
	g := doc.Structure[0]
	assert.Equal(t, "q1_q2", g.Name)
	assert.Equal(t, []string{"NO", "YES"}, g.Scale.Categories.Strings())
	to, ok := g.Scale.Translate.Get("yes")
	require.True(t, ok)
	assert.Equal(t, "YES", to)

	assert.Equal(t, "Q1", g.Columns[0].Name)
	assert.Equal(t, "q1", g.Columns[0].Source)
	assert.Equal(t, "Do you agree?", g.Columns[0].Desc.Label)
	assert.Nil(t, g.Columns[1].Desc)
}

func TestInfer_GroupNamesAvoidColumns(t *testing.T) {
	raw, err := table.FromMap([]string{"a", "b", "a_b", "main"}, map[string][]any{
		"a":    {"x", "y"},
		"b":    {"y", "x"},
		"a_b":  {1, 2},
		"main": {3, 4},
	})
	require.NoError(t, err)
	doc := Infer(raw, Options{})
	assert.Equal(t, []string{"main_1", "a_b_1"}, doc.GroupNames())
}

func TestWriteIfAbsent(t *testing.T) {
	doc := Infer(surveyTable(t), Options{File: "survey.csv"})

	for _, name := range []string{"meta.json", "meta.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			written, got, err := WriteIfAbsent(path, doc)
			require.NoError(t, err)
			assert.True(t, written)
			assert.Equal(t, path, got)

			loaded, err := schema.Load(path)
			require.NoError(t, err)
			assert.JSONEq(t, marshal(t, doc), marshal(t, loaded))

			before, err := os.ReadFile(path)
			require.NoError(t, err)
			other := Infer(surveyTable(t), Options{MaxCategories: 1})
			written, got, err = WriteIfAbsent(path, other)
			require.NoError(t, err)
			assert.False(t, written, "an existing document is never overwritten")
			assert.Equal(t, path, got)
			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}
