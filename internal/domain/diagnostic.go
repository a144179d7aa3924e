package domain

import (
	"fmt"
	"log/slog"
	"strings"
)

// DiagnosticKind identifies a non-fatal issue found while processing a column.
type DiagnosticKind string

const (
	// MissingColumnWarning: the source column is absent and not marked generated.
	MissingColumnWarning DiagnosticKind = "missing-column"
	// EmptyColumnWarning: the source column has no non-missing values.
	EmptyColumnWarning DiagnosticKind = "empty-column"
	// OrderingAssumedWarning: ordered categories were inferred lexicographically.
	OrderingAssumedWarning DiagnosticKind = "ordering-assumed"
	// UncoveredCategoryWarning: values outside the category list became missing.
	UncoveredCategoryWarning DiagnosticKind = "uncovered-category"
	// TransformMismatchWarning: migration left a column stale because its transform changed.
	TransformMismatchWarning DiagnosticKind = "transform-mismatch"
)

// Diagnostic is a recoverable per-column finding.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Column  string         `json:"column"`
	Message string         `json:"message"`
	// Fraction and Values are only set for UncoveredCategoryWarning.
	Fraction float64  `json:"fraction,omitempty"`
	Count    int      `json:"count,omitempty"`
	Values   []string `json:"values,omitempty"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s: %s", d.Kind, d.Column, d.Message)
}

// Diagnostics collects findings and mirrors each one to a logger.
type Diagnostics struct {
	Logger *slog.Logger
	Items  []Diagnostic
}

// Add records d and logs it at warn level.
func (ds *Diagnostics) Add(d Diagnostic) {
	ds.Items = append(ds.Items, d)
	logger := ds.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", string(d.Kind), "column", d.Column}
	if d.Kind == UncoveredCategoryWarning {
		attrs = append(attrs, "fraction", d.Fraction, "values", strings.Join(d.Values, ","))
	}
	logger.Warn(d.Message, attrs...)
}

// Addf records a diagnostic with a formatted message.
func (ds *Diagnostics) Addf(kind DiagnosticKind, column, format string, args ...interface{}) {
	ds.Add(Diagnostic{Kind: kind, Column: column, Message: fmt.Sprintf(format, args...)})
}

// Of returns the recorded diagnostics of the given kind.
func (ds *Diagnostics) Of(kind DiagnosticKind) []Diagnostic {
	var out []Diagnostic
	for _, d := range ds.Items {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
