package source

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrebane/salk-toolkit/internal/domain"
	"github.com/rrebane/salk-toolkit/internal/persist"
	"github.com/rrebane/salk-toolkit/internal/schema"
	"github.com/rrebane/salk-toolkit/internal/table"
)

func testdataDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	return filepath.Join(filepath.Dir(filename), "testdata")
}

func newReader(t *testing.T) *Reader {
	t.Helper()
	r := NewReader(nil, nil)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"data.csv", FormatDelimited, false},
		{"DATA.TSV", FormatDelimited, false},
		{"s3://b/survey.sav", FormatSPSS, false},
		{"w.zsav", FormatSPSS, false},
		{"panel.dta", FormatStata, false},
		{"export.xlsx", FormatExcel, false},
		{"out.parquet", FormatParquet, false},
		{"nested/meta.yaml", FormatMeta, false},
		{"nested/meta.json", FormatMeta, false},
		{"legacy.sas7bdat", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := FormatOf(tt.in)
			if tt.wantErr {
				var unsupported *domain.UnsupportedFormatError
				require.ErrorAs(t, err, &unsupported)
				assert.Equal(t, tt.in, unsupported.Path)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRead_CSV(t *testing.T) {
	r := newReader(t)
	res, err := r.Read(context.Background(), filepath.Join(testdataDir(t), "wave1.csv"), nil)
	require.NoError(t, err)

	tbl := res.Table
	assert.Equal(t, []string{"id", "gender", "age", "q1"}, tbl.Names())
	assert.Equal(t, 3, tbl.Rows())
	age, _ := tbl.Column("age")
	assert.Equal(t, table.KindNumeric, age.Kind)
	assert.Equal(t, []any{34.0, 51.0, nil}, age.Values)
	q1, _ := tbl.Column("q1")
	assert.Equal(t, []any{"agree", "disagree", "neutral"}, q1.Values)
	assert.NotNil(t, res.Labels)
}

func TestRead_CSVOptions(t *testing.T) {
	r := newReader(t)
	res, err := r.Read(context.Background(), filepath.Join(testdataDir(t), "wave2_semicolon.csv"), Options{"sep": ";", "all_varchar": true})
	require.NoError(t, err)
	id, ok := res.Table.Column("id")
	require.True(t, ok)
	assert.Equal(t, []any{"10", "11"}, id.Values)
}

func TestRead_HeaderRows(t *testing.T) {
	r := newReader(t)
	res, err := r.Read(context.Background(), filepath.Join(testdataDir(t), "multi_header.csv"), Options{"header_rows": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "Q1_a", "Q1_b", "Q2_a"}, res.Table.Names())
	id, _ := res.Table.Column("id")
	assert.Equal(t, []any{1.0, 2.0}, id.Values)
	b, _ := res.Table.Column("Q1_b")
	assert.Equal(t, []any{"y", nil}, b.Values)
}

func TestRead_Errors(t *testing.T) {
	r := newReader(t)
	ctx := context.Background()

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := r.Read(ctx, "survey.sas7bdat", nil)
		var unsupported *domain.UnsupportedFormatError
		require.ErrorAs(t, err, &unsupported)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := r.Read(ctx, filepath.Join(t.TempDir(), "absent.csv"), nil)
		var readErr *domain.ReadError
		require.ErrorAs(t, err, &readErr)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("nested without pipeline", func(t *testing.T) {
		_, err := r.Read(ctx, "meta.json", nil)
		var readErr *domain.ReadError
		require.ErrorAs(t, err, &readErr)
	})
}

func TestRead_Nested(t *testing.T) {
	r := newReader(t)
	r.Nested = func(_ context.Context, location string) (*table.Table, error) {
		assert.Equal(t, "inner/meta.yaml", location)
		return table.New(table.NewCategorical("g", []any{"lo", "hi"}, []string{"lo", "hi"}, true))
	}
	res, err := r.Read(context.Background(), "inner/meta.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"g", ProvenanceColumn}, res.Table.Names())
	g, _ := res.Table.Column("g")
	assert.True(t, g.IsCategorical())
	assert.True(t, g.Ordered)
	src, _ := res.Table.Column(ProvenanceColumn)
	assert.Equal(t, []any{"inner/meta.yaml", "inner/meta.yaml"}, src.Values)
}

func TestRead_ParquetArtifact(t *testing.T) {
	doc, err := schema.Parse([]byte(`{"structure":[{"name":"main","columns":["g"]}]}`), schema.FormatJSON)
	require.NoError(t, err)
	tbl, err := table.New(table.NewCategorical("g", []any{"b", "a", nil}, []string{"b", "a"}, true))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "prev.parquet")
	require.NoError(t, persist.Save(path, tbl, persist.NewMetadata(doc, tbl), persist.Options{}))

	res, err := newReader(t).Read(context.Background(), path, nil)
	require.NoError(t, err)
	g, _ := res.Table.Column("g")
	assert.Equal(t, []string{"b", "a"}, g.Categories)
	assert.Equal(t, []any{"b", "a", nil}, g.Values)
}

type countingLoader struct {
	calls int
	table *table.Table
}

func (l *countingLoader) Load(_ context.Context, _ string) (*table.Table, *persist.Metadata, error) {
	l.calls++
	return l.table, nil, nil
}

func TestRead_ParquetUsesArtifactLoader(t *testing.T) {
	tbl, err := table.New(table.NewColumn("x", []any{1, 2}))
	require.NoError(t, err)
	loader := &countingLoader{table: tbl}
	r := newReader(t)
	r.Artifacts = loader

	res, err := r.Read(context.Background(), "cached.parquet", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
	assert.NotSame(t, tbl, res.Table, "cached tables are copied before use")
	assert.Equal(t, 2, res.Table.Rows())
}

func TestFlattenHeader(t *testing.T) {
	raw, err := table.FromMap([]string{"c0", "c1", "c2", "c3"}, map[string][]any{
		"c0": {"", "id", "1"},
		"c1": {"Q1", "a", "x"},
		"c2": {nil, "b", "y"},
		"c3": {"Q2", "a", "3.5"},
	})
	require.NoError(t, err)
	out, err := flattenHeader(raw, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "Q1_a", "Q1_b", "Q2_a"}, out.Names())
	q2, _ := out.Column("Q2_a")
	assert.Equal(t, []any{3.5}, q2.Values)

	_, err = flattenHeader(raw, 5)
	require.Error(t, err)
}

func TestFlattenHeader_DuplicateNames(t *testing.T) {
	raw, err := table.FromMap([]string{"c0", "c1", "c2"}, map[string][]any{
		"c0": {"Q", "a", "1"},
		"c1": {"", "a", "2"},
		"c2": {"", "", "3"},
	})
	require.NoError(t, err)
	out, err := flattenHeader(raw, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q_a", "Q_a_1", "Q"}, out.Names())
}

func TestParseEnumLabels(t *testing.T) {
	labels, ok := parseEnumLabels("ENUM('low', 'mid', 'it''s high')")
	require.True(t, ok)
	assert.Equal(t, []string{"low", "mid", "it's high"}, labels)

	_, ok = parseEnumLabels("VARCHAR")
	assert.False(t, ok)
}

func TestDuckParams(t *testing.T) {
	got, err := Options{"sep": ";", "header": true, "skip": 2, "ignored": "x"}.duckParams(csvParams...)
	require.NoError(t, err)
	assert.Equal(t, ", delim = ';', header = true, skip = 2", got)

	got, err = Options{}.duckParams(csvParams...)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Options{"delim": time.Now()}.duckParams(csvParams...)
	require.Error(t, err)
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestClassifyDuckDBError(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		notExist bool
		contains string
	}{
		{name: "no files", msg: "IO Error: No files found that match the pattern \"x.csv\"", notExist: true},
		{name: "extension", msg: "IO Error: Failed to download Extension \"read_stat\"", contains: "extension unavailable"},
		{name: "conversion", msg: "Conversion Error: Could not convert string 'x' to INT64", contains: "malformed input"},
		{name: "other", msg: "boom", contains: "duckdb: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyDuckDBError(&testError{msg: tt.msg})
			require.Error(t, err)
			assert.Equal(t, tt.notExist, errors.Is(err, fs.ErrNotExist))
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestStataColumn(t *testing.T) {
	t.Run("value labels in code order", func(t *testing.T) {
		c := stataColumn("sex", []float64{2, 1, 2, 9}, []bool{false, false, false, false}, map[int32]string{2: "female", 1: "male"})
		assert.True(t, c.IsCategorical())
		assert.True(t, c.Ordered)
		assert.Equal(t, []string{"male", "female", "9"}, c.Categories)
		assert.Equal(t, []any{"female", "male", "female", "9"}, c.Values)
	})

	t.Run("missing mask", func(t *testing.T) {
		c := stataColumn("age", []int32{30, 0, 41}, []bool{false, true, false}, nil)
		assert.Equal(t, table.KindNumeric, c.Kind)
		assert.Equal(t, []any{30.0, nil, 41.0}, c.Values)
	})

	t.Run("strings", func(t *testing.T) {
		c := stataColumn("city", []string{"Tartu", "Narva"}, nil, nil)
		assert.Equal(t, table.KindText, c.Kind)
	})
}
