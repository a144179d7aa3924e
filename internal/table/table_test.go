package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"integral float", 1.0, "1"},
		{"fraction", 2.5, "2.5"},
		{"int64", int64(7), "7"},
		{"string", "yes", "yes"},
		{"bool", true, "true"},
		{"nil", nil, ""},
		{"time", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-03-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestNewColumn_DetectsKind(t *testing.T) {
	assert.Equal(t, KindNumeric, NewColumn("a", []any{int64(1), nil, 2.5}).Kind)
	assert.Equal(t, KindText, NewColumn("b", []any{"x", nil}).Kind)
	assert.Equal(t, KindOpaque, NewColumn("c", []any{"x", 1.0}).Kind)
	assert.Equal(t, KindText, NewColumn("d", []any{nil, nil}).Kind)
}

func TestCategorize_CountsUncovered(t *testing.T) {
	col := NewColumn("x", []any{"low", "high", "mid", nil, "mid"})
	out, newMissing, uncovered := Categorize(col, []string{"low", "high"}, true)

	assert.Equal(t, KindCategorical, out.Kind)
	assert.True(t, out.Ordered)
	assert.Equal(t, []any{"low", "high", nil, nil, nil}, out.Values)
	assert.Equal(t, 2, newMissing)
	assert.Equal(t, []string{"mid"}, uncovered)
}

func TestCategorize_NumericCellsMatchLabels(t *testing.T) {
	col := NewColumn("n", []any{1.0, 2.0, 3.0})
	out, newMissing, _ := Categorize(col, []string{"1", "2"}, false)
	assert.Equal(t, []any{"1", "2", nil}, out.Values)
	assert.Equal(t, 1, newMissing)
}

func TestRemap(t *testing.T) {
	t.Run("text passes unmapped values through", func(t *testing.T) {
		col := NewColumn("a", []any{"1", "2", nil})
		out := Remap(col, map[string]any{"1": "yes"})
		assert.Equal(t, []any{"yes", "2", nil}, out.Values)
		assert.Equal(t, []any{"1", "2", nil}, col.Values, "input must not change")
	})

	t.Run("categorical renames domain and merges collisions", func(t *testing.T) {
		col := NewCategorical("a", []any{"yes", "no", "maybe"}, []string{"yes", "no", "maybe"}, true)
		out := Remap(col, map[string]any{"yes": "Y", "maybe": "no"})
		assert.Equal(t, []string{"Y", "no"}, out.Categories)
		assert.Equal(t, []any{"Y", "no", "no"}, out.Values)
		assert.True(t, out.Ordered)
	})
}

func TestCoercions(t *testing.T) {
	num := ToNumeric(NewColumn("n", []any{"1", "x", " 2.5 ", nil, "1,234"}))
	assert.Equal(t, []any{1.0, nil, 2.5, nil, nil}, num.Values)

	dt := ToDatetime(NewColumn("d", []any{"2024-01-02", "junk"}))
	require.NotNil(t, dt.Values[0])
	assert.Nil(t, dt.Values[1])
	assert.Equal(t, KindDatetime, dt.Kind)
}

func TestTable_AddAndRename(t *testing.T) {
	tbl, err := FromMap([]string{"a", "b"}, map[string][]any{
		"a": {1, 2},
		"b": {"x", "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Rows())

	err = tbl.Add(NewColumn("a", []any{1, 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	err = tbl.Add(NewColumn("c", []any{1}))
	require.Error(t, err)

	require.NoError(t, tbl.Rename(map[string]string{"a": "z"}))
	assert.Equal(t, []string{"z", "b"}, tbl.Names())
	require.Error(t, tbl.Rename(map[string]string{"z": "b"}))
}

func TestTable_SelectAndDrop(t *testing.T) {
	tbl, err := FromMap([]string{"a", "b", "c"}, map[string][]any{
		"a": {1}, "b": {2}, "c": {3},
	})
	require.NoError(t, err)

	sel := tbl.Select([]string{"c", "missing", "a"})
	assert.Equal(t, []string{"c", "a"}, sel.Names())

	tbl.Drop("b")
	assert.Equal(t, []string{"a", "c"}, tbl.Names())
	c, ok := tbl.Column("c")
	require.True(t, ok)
	assert.Equal(t, []any{3.0}, c.Values)
}

func TestBuilder(t *testing.T) {
	b := NewBuilder(2)
	require.NoError(t, b.Append(NewColumn("a", []any{1, 2})))

	_, ok := b.View().Column("a")
	assert.True(t, ok)
	require.Error(t, b.Append(NewColumn("a", []any{3, 4})))
	require.Error(t, b.Append(NewColumn("b", []any{3})))

	out := b.Build()
	assert.Equal(t, []string{"a"}, out.Names())
	require.Error(t, b.Append(NewColumn("c", []any{1, 2})))
}
