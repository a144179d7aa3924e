package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrebane/salk-toolkit/internal/domain"
	"github.com/rrebane/salk-toolkit/internal/table"
)

func mustTable(t *testing.T, cols ...*table.Column) *table.Table {
	t.Helper()
	tbl, err := table.New(cols...)
	require.NoError(t, err)
	return tbl
}

func TestMerge_SingleSourceStampsExtraFields(t *testing.T) {
	src := mustTable(t, table.NewColumn("a", []any{1, 2}))
	out, err := Merge([]Source{{Name: "a.csv", Table: src, Extra: []Field{{Name: "wave", Value: "w1"}}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "wave"}, out.Names(), "no file index for a single source")
	wave, _ := out.Column("wave")
	assert.Equal(t, []any{"w1", "w1"}, wave.Values)
	assert.False(t, src.Has("wave"), "input table is not modified")

	out, err = Merge([]Source{{Table: src}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Names())
}

func TestMerge_AlignsCategoriesToFirstSource(t *testing.T) {
	first := mustTable(t,
		table.NewCategorical("opinion", []any{"low", "high", "mid"}, []string{"low", "mid", "high"}, true),
		table.NewColumn("age", []any{20, 30, 40}),
	)
	second := mustTable(t,
		table.NewCategorical("opinion", []any{"high", "unsure", "low", "mid"}, []string{"high", "mid", "low", "unsure"}, false),
		table.NewColumn("age", []any{50, nil, 60, 70}),
	)

	out, err := Merge([]Source{
		{Name: "w1.csv", Table: first, Extra: []Field{{Name: "wave", Value: "spring"}}},
		{Name: "w2.csv", Table: second, Extra: []Field{{Name: "wave", Value: "autumn"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, first.Rows()+second.Rows(), out.Rows())
	assert.Equal(t, []string{"opinion", "age", FileIndexColumn, "wave"}, out.Names())

	op, _ := out.Column("opinion")
	assert.True(t, op.IsCategorical())
	assert.True(t, op.Ordered)
	assert.Equal(t, []string{"low", "mid", "high", "unsure"}, op.Categories)
	assert.Equal(t, []any{"low", "high", "mid", "high", "unsure", "low", "mid"}, op.Values)

	idx, _ := out.Column(FileIndexColumn)
	assert.Equal(t, []any{0.0, 0.0, 0.0, 1.0, 1.0, 1.0, 1.0}, idx.Values)
	wave, _ := out.Column("wave")
	assert.Equal(t, "spring", wave.Values[0])
	assert.Equal(t, "autumn", wave.Values[6])
}

func TestMerge_FillsMissingColumns(t *testing.T) {
	first := mustTable(t, table.NewColumn("a", []any{1}), table.NewColumn("only1", []any{"x"}))
	second := mustTable(t, table.NewColumn("a", []any{2, 3}), table.NewColumn("only2", []any{true, false}))

	out, err := Merge([]Source{{Table: first}, {Table: second}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "only1", FileIndexColumn, "only2"}, out.Names())
	only1, _ := out.Column("only1")
	assert.Equal(t, []any{"x", nil, nil}, only1.Values)
	only2, _ := out.Column("only2")
	assert.Equal(t, table.KindBoolean, only2.Kind)
	assert.Equal(t, []any{nil, true, false}, only2.Values)
}

func TestMerge_TextJoinsCategorical(t *testing.T) {
	first := mustTable(t, table.NewCategorical("g", []any{"a"}, []string{"a", "b"}, false))
	second := mustTable(t, table.NewColumn("g", []any{"b", "c"}))

	out, err := Merge([]Source{{Table: first}, {Table: second}})
	require.NoError(t, err)
	g, _ := out.Column("g")
	assert.Equal(t, []string{"a", "b", "c"}, g.Categories)
}

func TestMerge_AllMissingIsCompatible(t *testing.T) {
	first := mustTable(t, table.NewColumn("n", []any{1.5}))
	second := mustTable(t, table.NewColumn("n", []any{nil, nil}))

	out, err := Merge([]Source{{Table: first}, {Table: second}})
	require.NoError(t, err)
	n, _ := out.Column("n")
	assert.Equal(t, table.KindNumeric, n.Kind)
	assert.Equal(t, []any{1.5, nil, nil}, n.Values)
}

func TestMerge_Errors(t *testing.T) {
	tests := []struct {
		name   string
		first  *table.Column
		second *table.Column
	}{
		{"numeric vs text", table.NewColumn("c", []any{1}), table.NewColumn("c", []any{"x"})},
		{"boolean vs numeric", table.NewColumn("c", []any{true}), table.NewColumn("c", []any{2})},
		{"categorical vs numeric", table.NewCategorical("c", []any{"a"}, []string{"a"}, false), table.NewColumn("c", []any{2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge([]Source{{Name: "one", Table: mustTable(t, tt.first)}, {Name: "two", Table: mustTable(t, tt.second)}})
			var concatErr *domain.ConcatenationError
			require.ErrorAs(t, err, &concatErr)
			assert.Equal(t, "c", concatErr.Column)
		})
	}

	_, err := Merge(nil)
	require.Error(t, err)
}
