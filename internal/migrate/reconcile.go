// Package migrate adapts a previously annotated table to a revised annotation
// document without re-reading its sources. It handles renames, translate
// edits and category changes; anything needing a re-derivation is left alone
// and reported.
package migrate

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/rrebane/salk-toolkit/internal/domain"
	"github.com/rrebane/salk-toolkit/internal/schema"
	"github.com/rrebane/salk-toolkit/internal/table"
)

// DefaultPassthrough are model output columns kept first regardless of the schema.
var DefaultPassthrough = []string{"draw", "obs_idx"}

// Options configure Reconcile.
type Options struct {
	// Passthrough columns are kept, in this order, before the schema's
	// columns. Nil means DefaultPassthrough.
	Passthrough []string
	Logger      *slog.Logger
}

// Reconcile rewrites tbl, annotated under old, to match next:
//  1. columns are renamed where both documents read the same source column;
//  2. columns whose transform changed are left as they are, with a warning;
//  3. translate edits are applied as a value remap delta;
//  4. category or ordered edits rebuild the domain when next lists categories;
//  5. columns are put in next's declaration order and the rest dropped.
//
// tbl is not modified. A column whose translate and category edits disagree
// (remapped values missing from the new list) fails the whole call with a
// MigrationConflictError. Columns missing from tbl are ignored.
func Reconcile(tbl *table.Table, old, next *schema.Document, opts Options) (*table.Table, *Plan, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	passthrough := opts.Passthrough
	if passthrough == nil {
		passthrough = DefaultPassthrough
	}
	diags := &domain.Diagnostics{Logger: logger}
	plan := &Plan{}
	out := tbl.Clone()

	renames := sharedMatches(old.SourceNames(), next.SourceNames())
	applied := map[string]string{}
	for _, from := range sortedKeys(renames) {
		if out.Has(from) {
			applied[from] = renames[from]
			plan.add(OpRename, renames[from], FieldDiff{Field: "name", OldValue: from, NewValue: renames[from]})
		}
	}
	if len(applied) > 0 {
		logger.Info("renaming columns", "columns", len(applied))
		if err := out.Rename(applied); err != nil {
			return nil, nil, fmt.Errorf("rename columns: %w", err)
		}
	}
	previous := make(map[string]string, len(applied))
	for from, to := range applied {
		previous[to] = from
	}

	oldMeta, newMeta := old.ColumnMeta(), next.ColumnMeta()
	for _, name := range next.ColumnNames() {
		col, ok := out.Column(name)
		if !ok {
			continue
		}
		oldName := name
		if p, ok := previous[name]; ok {
			oldName = p
		}
		od, ok := oldMeta[oldName]
		if !ok {
			continue
		}
		nd := newMeta[name]

		if od.Transform != nd.Transform {
			diags.Addf(domain.TransformMismatchWarning, name,
				"column %s has a different transformation, leaving it unchanged", name)
			plan.add(OpSkip, name, FieldDiff{Field: "transform", OldValue: od.Transform, NewValue: nd.Transform})
			continue
		}

		updated := col
		remap := changeMapping(od.Translate, nd.Translate)
		if len(remap) > 0 {
			updated = table.Remap(updated, remap)
			plan.add(OpRemap, name, remapDiffs(remap)...)
		}

		if !od.Categories.Equal(nd.Categories) || od.IsOrdered() != nd.IsOrdered() {
			if nd.Categories.IsList() {
				labels := nd.Categories.Strings()
				cat, newMissing, uncovered := table.Categorize(updated, labels, nd.IsOrdered())
				if lost := remapTargetsIn(remap, uncovered); len(lost) > 0 {
					return nil, nil, &domain.MigrationConflictError{Column: name, Uncovered: lost}
				}
				if newMissing > 0 {
					diags.Add(domain.Diagnostic{
						Kind:     domain.UncoveredCategoryWarning,
						Column:   name,
						Message:  fmt.Sprintf("column %s has %d entries that are not in the new categories", name, newMissing),
						Fraction: float64(newMissing) / float64(max(updated.Len(), 1)),
						Count:    newMissing,
						Values:   uncovered,
					})
				}
				plan.add(OpRecategorize, name,
					FieldDiff{Field: "categories", OldValue: strings.Join(col.Categories, ","), NewValue: strings.Join(labels, ",")},
					FieldDiff{Field: "ordered", OldValue: strconv.FormatBool(col.Ordered), NewValue: strconv.FormatBool(nd.IsOrdered())},
				)
				updated = cat
			}
		}

		if updated != col {
			if err := out.Set(updated); err != nil {
				return nil, nil, err
			}
		}
	}

	order := append(append([]string{}, passthrough...), next.ColumnNames()...)
	result := out.Select(order)
	for _, c := range out.Columns() {
		if !result.Has(c.Name) {
			plan.add(OpDrop, c.Name)
		}
	}
	plan.Columns = result.Names()
	plan.Diagnostics = diags.Items
	return result, plan, nil
}

// sharedMatches maps old canonical names to new ones for source columns both
// documents read under different names.
func sharedMatches(oldNames, newNames map[string]string) map[string]string {
	out := map[string]string{}
	for src, from := range oldNames {
		if to, ok := newNames[src]; ok && to != from {
			out[from] = to
		}
	}
	return out
}

// changeMapping computes the value remap that turns data translated with ot
// into data translated with nt: entries only in ot are undone, entries only in
// nt are applied and entries whose target changed are redirected.
func changeMapping(ot, nt *schema.Translate) map[string]any {
	out := map[string]any{}
	for _, k := range ot.Keys() {
		if _, ok := nt.Get(k); ok {
			continue
		}
		if v, _ := ot.Get(k); v != nil {
			out[label(v)] = k
		}
	}
	for _, k := range nt.Keys() {
		if _, ok := ot.Get(k); !ok {
			v, _ := nt.Get(k)
			out[k] = v
		}
	}
	for _, k := range ot.Keys() {
		nv, ok := nt.Get(k)
		if !ok {
			continue
		}
		ov, _ := ot.Get(k)
		if ov != nil && label(ov) != label(nv) {
			out[label(ov)] = nv
		}
	}
	return out
}

// remapTargetsIn returns the labels in uncovered that remap produces.
func remapTargetsIn(remap map[string]any, uncovered []string) []string {
	if len(remap) == 0 || len(uncovered) == 0 {
		return nil
	}
	targets := make(map[string]bool, len(remap))
	for _, v := range remap {
		targets[label(v)] = true
	}
	var out []string
	for _, u := range uncovered {
		if targets[u] {
			out = append(out, u)
		}
	}
	return out
}

func label(v any) string { return table.FormatValue(table.Normalize(v)) }

func remapDiffs(remap map[string]any) []FieldDiff {
	out := make([]FieldDiff, 0, len(remap))
	for _, from := range sortedKeys(remap) {
		out = append(out, FieldDiff{Field: "value", OldValue: from, NewValue: label(remap[from])})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
