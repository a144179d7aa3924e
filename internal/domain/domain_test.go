package domain

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"parse with path", ErrSchemaParse("meta.json", "bad %s", "structure"), "parse schema meta.json: bad structure"},
		{"parse without path", &SchemaParseError{Message: "empty"}, "parse schema: empty"},
		{"unsupported", &UnsupportedFormatError{Path: "x.sas7bdat"}, "not a known file format: x.sas7bdat"},
		{"transform column", &TransformError{Column: "age", Stage: "transform", Err: errors.New("boom")}, `transform of column "age" failed: boom`},
		{"transform stage", &TransformError{Stage: "preprocessing", Err: errors.New("boom")}, "preprocessing failed: boom"},
		{"concatenation", ErrConcatenation("q1", "numeric vs %s", "text"), `cannot concatenate column "q1": numeric vs text`},
		{"conflict", &MigrationConflictError{Column: "g", Uncovered: []string{"a", "b"}}, `column "g": translate and categories changed inconsistently (values a, b not in new categories)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	readErr := &ReadError{Path: "a.csv", Err: fs.ErrNotExist}
	wrapped := fmt.Errorf("pipeline: %w", readErr)
	assert.True(t, errors.Is(wrapped, fs.ErrNotExist))

	var target *ReadError
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, "a.csv", target.Path)

	cause := errors.New("division by zero")
	assert.ErrorIs(t, &TransformError{Column: "x", Err: cause}, cause)
}

func TestDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	ds := &Diagnostics{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	ds.Addf(MissingColumnWarning, "q9", "column %s not found", "q9")
	ds.Add(Diagnostic{
		Kind:     UncoveredCategoryWarning,
		Column:   "gender",
		Message:  "2 entries not listed",
		Fraction: 0.5,
		Count:    2,
		Values:   []string{"x", "y"},
	})

	require.Len(t, ds.Items, 2)
	assert.Len(t, ds.Of(UncoveredCategoryWarning), 1)
	assert.Empty(t, ds.Of(EmptyColumnWarning))
	assert.Equal(t, "[missing-column] q9: column q9 not found", ds.Items[0].String())

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "kind=missing-column")
	assert.Contains(t, out, "fraction=0.5")
	assert.Contains(t, out, "values=x,y")
}
