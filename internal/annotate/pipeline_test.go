package annotate

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrebane/salk-toolkit/internal/config"
	"github.com/rrebane/salk-toolkit/internal/domain"
	"github.com/rrebane/salk-toolkit/internal/source"
)

func testdataDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	return filepath.Join(filepath.Dir(filename), "testdata")
}

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p := NewPipeline(config.Default(), nil)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestReadAnnotated_MultiFile(t *testing.T) {
	p := newPipeline(t)
	out, err := p.ReadAnnotated(context.Background(), filepath.Join(testdataDir(t), "survey.json"))
	require.NoError(t, err)

	assert.Equal(t, []string{"gender", "age", "q1", "wave", "file_ind"}, out.Table.Names())
	assert.Equal(t, 5, out.Table.Rows())

	gender, _ := out.Table.Column("gender")
	assert.Equal(t, []string{"male", "female"}, gender.Categories)
	assert.Equal(t, []any{"male", "female", "male", "female", "female"}, gender.Values)

	age, _ := out.Table.Column("age")
	assert.Equal(t, []any{34.0, 51.0, nil, 40.0, 22.0}, age.Values)

	q1, _ := out.Table.Column("q1")
	assert.True(t, q1.Ordered)
	assert.Equal(t, []any{"agree", "disagree", "neutral", "agree", nil}, q1.Values)

	wave, _ := out.Table.Column("wave")
	assert.Equal(t, []string{"1", "2"}, wave.Categories)
	assert.Equal(t, []any{"1", "1", "1", "2", "2"}, wave.Values)

	fileInd, _ := out.Table.Column("file_ind")
	assert.Equal(t, []any{0.0, 0.0, 0.0, 1.0, 1.0}, fileInd.Values)

	uncovered := diagsOf(out.Report, domain.UncoveredCategoryWarning)
	require.Len(t, uncovered, 1)
	assert.Equal(t, "q1", uncovered[0].Column)
	assert.Equal(t, []string{"maybe"}, uncovered[0].Values)

	var hidden []string
	for _, c := range out.Report.Columns {
		if c.Hidden {
			hidden = append(hidden, c.Name)
		}
	}
	assert.Equal(t, []string{"wave", "file_ind"}, hidden)
}

func TestReadAnnotated_Nested(t *testing.T) {
	p := newPipeline(t)
	dir := testdataDir(t)
	out, err := p.ReadAnnotated(context.Background(), filepath.Join(dir, "nested.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"gender", "older", source.ProvenanceColumn}, out.Table.Names())
	gender, _ := out.Table.Column("gender")
	assert.Equal(t, []string{"male", "female"}, gender.Categories)

	older, _ := out.Table.Column("older")
	assert.Equal(t, []any{false, true, false, false, false}, older.Values)

	meta, _ := out.Table.Column(source.ProvenanceColumn)
	assert.Equal(t, filepath.Join(dir, "survey.json"), meta.Values[0])
}

func TestReadAnnotated_NestingLimit(t *testing.T) {
	p := newPipeline(t)
	_, err := p.ReadAnnotated(context.Background(), filepath.Join(testdataDir(t), "loop.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested deeper than")
}

func TestReadAnnotated_Errors(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	t.Run("missing document", func(t *testing.T) {
		_, err := p.ReadAnnotated(ctx, filepath.Join(testdataDir(t), "absent.json"))
		require.Error(t, err)
	})

	t.Run("document without sources", func(t *testing.T) {
		doc := filepath.Join(t.TempDir(), "meta.json")
		require.NoError(t, os.WriteFile(doc, []byte(`{"structure":[{"name":"g","columns":["a"]}]}`), 0o600))
		_, err := p.ReadAnnotated(ctx, doc)
		var pe *domain.SchemaParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, doc, pe.Path)
	})
}

func TestReadAnnotatedWith(t *testing.T) {
	p := newPipeline(t)
	doc := parseDoc(t, `{"structure":[{"name":"g","columns":[["q1",{"categories":"infer"}],"id"]}]}`)

	out, err := p.ReadAnnotatedWith(context.Background(), doc, filepath.Join(testdataDir(t), "wave1.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "id"}, out.Table.Names())
	q1, _ := out.Table.Column("q1")
	assert.Equal(t, []string{"agree", "disagree", "neutral"}, q1.Categories)
	assert.False(t, out.Table.Has("file_ind"), "a single source is not stamped")
}

func TestReadAnnotated_SingleFileExtraFields(t *testing.T) {
	p := newPipeline(t)
	out, err := p.ReadAnnotated(context.Background(), filepath.Join(testdataDir(t), "single.json"))
	require.NoError(t, err)

	assert.Equal(t, []string{"q1", "wave"}, out.Table.Names())
	assert.Empty(t, out.Report.Skipped)
	assert.Empty(t, diagsOf(out.Report, domain.MissingColumnWarning))
	wave, _ := out.Table.Column("wave")
	assert.Equal(t, []any{"w1", "w1", "w1"}, wave.Values)
}
