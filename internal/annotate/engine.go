// Package annotate turns a merged raw table into the typed table an
// annotation document describes, and wires readers, merger and engine into
// the read pipeline.
package annotate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rrebane/salk-toolkit/internal/domain"
	"github.com/rrebane/salk-toolkit/internal/expr"
	"github.com/rrebane/salk-toolkit/internal/schema"
	"github.com/rrebane/salk-toolkit/internal/table"
)

// CategorySource records how a column's category list was chosen.
type CategorySource string

const (
	CategoriesLiteral       CategorySource = "literal"
	CategoriesNumeric       CategorySource = "numeric"
	CategoriesSourceDomain  CategorySource = "source"
	CategoriesTranslate     CategorySource = "translate"
	CategoriesLexicographic CategorySource = "lexicographic"
)

// ColumnReport describes one produced column.
type ColumnReport struct {
	Name       string         `json:"name"`
	Group      string         `json:"group"`
	Source     string         `json:"source"`
	Kind       table.Kind     `json:"kind"`
	Categories []string       `json:"categories,omitempty"`
	Ordered    bool           `json:"ordered,omitempty"`
	Resolved   CategorySource `json:"resolved,omitempty"`
	Missing    int            `json:"missing"`
	Hidden     bool           `json:"hidden,omitempty"`
}

// Report is the outcome of one Process call besides the table.
type Report struct {
	Rows        int                 `json:"rows"`
	Columns     []ColumnReport      `json:"columns"`
	Skipped     []string            `json:"skipped,omitempty"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

// Engine executes annotation documents.
type Engine struct {
	runtime *expr.Runtime
	logger  *slog.Logger
}

// NewEngine creates an engine. A nil runtime gets default limits.
func NewEngine(rt *expr.Runtime, logger *slog.Logger) *Engine {
	if rt == nil {
		rt = expr.New(expr.Options{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{runtime: rt, logger: logger}
}

// Runtime returns the derivation runtime, for registering functions.
func (e *Engine) Runtime() *expr.Runtime { return e.runtime }

// Process builds the typed table for doc from raw. Columns are produced in
// declaration order; each transform sees the typed columns committed before
// it. Recoverable per-column problems become diagnostics; a failing
// derivation aborts the call with a TransformError. The returned document is
// the effective (constant-substituted) schema; category lists resolved from
// "infer" are reported, not written back.
func (e *Engine) Process(ctx context.Context, doc *schema.Document, raw *table.Table) (*table.Table, *schema.Document, *Report, error) {
	diags := &domain.Diagnostics{Logger: e.logger}
	report := &Report{}
	constants := doc.ConstantValues()

	if doc.Preprocessing != "" {
		pre, err := e.runtime.Exec("preprocessing", doc.Preprocessing, constants, raw)
		if err != nil {
			return nil, nil, nil, &domain.TransformError{Stage: "preprocessing", Err: err}
		}
		raw = pre
	}

	b := table.NewBuilder(raw.Rows())
	scope := expr.NewScope(constants, raw, b.View())

	for _, ref := range doc.Columns() {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}
		col, cr, err := e.column(scope, raw, ref, diags)
		if err != nil {
			return nil, nil, nil, err
		}
		if col == nil {
			report.Skipped = append(report.Skipped, ref.Spec.Name)
			continue
		}
		if err := b.Append(col); err != nil {
			return nil, nil, nil, fmt.Errorf("column %q: %w", ref.Spec.Name, err)
		}
		report.Columns = append(report.Columns, *cr)
	}

	typed := b.Build()
	if doc.Postprocessing != "" {
		post, err := e.runtime.Exec("postprocessing", doc.Postprocessing, constants, typed)
		if err != nil {
			return nil, nil, nil, &domain.TransformError{Stage: "postprocessing", Err: err}
		}
		typed = post
	}

	report.Rows = typed.Rows()
	report.Diagnostics = diags.Items
	return typed, doc, report, nil
}

// column runs the per-column steps. A nil column means the spec was skipped.
func (e *Engine) column(scope *expr.Scope, raw *table.Table, ref schema.ColumnRef, diags *domain.Diagnostics) (*table.Column, *ColumnReport, error) {
	name, srcName, desc := ref.Spec.Name, ref.Spec.SourceName(), ref.Desc

	src, ok := raw.Column(srcName)
	switch {
	case !ok && !desc.IsGenerated():
		diags.Addf(domain.MissingColumnWarning, name, "column %s not found", srcName)
		return nil, nil, nil
	case !ok:
		src = &table.Column{Name: srcName, Kind: table.KindText, Values: make([]any, raw.Rows())}
	case src.AllMissing():
		diags.Addf(domain.EmptyColumnWarning, name, "column %s is empty and thus ignored", srcName)
		return nil, nil, nil
	}

	s := src.Renamed(name)
	if desc.Translate != nil {
		s = table.Remap(s, desc.Translate.Mapping())
	}
	if desc.Transform != "" {
		out, err := e.runtime.Transform(scope, name, desc.Transform, s)
		if err != nil {
			return nil, nil, &domain.TransformError{Column: name, Stage: "transform", Err: err}
		}
		s = out
	}
	switch {
	case desc.IsDatetime():
		s = table.ToDatetime(s)
	case desc.IsContinuous():
		s = table.ToNumeric(s)
	}

	cr := &ColumnReport{Name: name, Group: ref.Group, Source: srcName, Hidden: ref.Hidden}
	if desc.Categories != nil {
		labels, how := e.resolveCategories(s, desc, diags)
		cat, newMissing, uncovered := table.Categorize(s, labels, desc.IsOrdered())
		if newMissing > 0 {
			frac := float64(newMissing) / float64(max(s.Len(), 1))
			diags.Add(domain.Diagnostic{
				Kind:     domain.UncoveredCategoryWarning,
				Column:   name,
				Message:  fmt.Sprintf("column %s has %d entries that were not listed in categories", name, newMissing),
				Fraction: frac,
				Count:    newMissing,
				Values:   uncovered,
			})
		}
		s = cat
		cr.Resolved = how
	}

	cr.Kind = s.Kind
	cr.Categories = s.Categories
	cr.Ordered = s.Ordered
	cr.Missing = s.Missing()
	return s, cr, nil
}

// resolveCategories picks the category list: a literal list as declared, or
// for "infer" the first that applies of sorted numeric values, the source's
// ordered domain, the translate targets (when they cover every observed
// value), and lexicographic order.
func (e *Engine) resolveCategories(s *table.Column, desc *schema.Descriptor, diags *domain.Diagnostics) ([]string, CategorySource) {
	if desc.Categories.IsList() {
		return desc.Categories.Strings(), CategoriesLiteral
	}
	if s.AllNumeric() {
		return s.SortedNumericLabels(), CategoriesNumeric
	}
	if s.IsCategorical() && s.Ordered {
		return append([]string{}, s.Categories...), CategoriesSourceDomain
	}
	observed := s.DistinctLabels()
	if desc.Translate != nil {
		targets := desc.Translate.ValueLabels()
		if covers(targets, observed) {
			return targets, CategoriesTranslate
		}
	}
	sort.Strings(observed)
	if desc.IsOrdered() {
		diags.Addf(domain.OrderingAssumedWarning, s.Name,
			"ordered categories for %s were inferred lexicographically: %v", s.Name, observed)
	}
	return observed, CategoriesLexicographic
}

func covers(labels, values []string) bool {
	if len(labels) == 0 {
		return false
	}
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	for _, v := range values {
		if !set[v] {
			return false
		}
	}
	return true
}
