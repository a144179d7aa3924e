package source

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/kshedden/datareader"

	"github.com/rrebane/salk-toolkit/internal/table"
)

// readStata reads a .dta file. Columns with value labels become ordered
// categoricals in code order; variable labels are returned as Labels.
func readStata(local string, _ Options) (*Result, error) {
	f, err := os.Open(local) //nolint:gosec // caller-chosen source path
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	rdr, err := datareader.NewStataReader(f)
	if err != nil {
		return nil, fmt.Errorf("open stata file: %w", err)
	}
	rdr.InsertCategoryLabels = false
	rdr.InsertStrls = true
	rdr.ConvertDates = true

	names := rdr.ColumnNames()
	labels := map[string]string{}
	for i, name := range names {
		if i < len(rdr.ColumnNamesLong) {
			if l := strings.TrimSpace(rdr.ColumnNamesLong[i]); l != "" && l != name {
				labels[name] = l
			}
		}
	}

	n := rdr.RowCount()
	cols := make([]*table.Column, 0, len(names))
	if n == 0 {
		for _, name := range names {
			cols = append(cols, table.NewColumn(name, []any{}))
		}
		t, err := table.New(cols...)
		return &Result{Table: t, Labels: labels}, err
	}

	series, err := rdr.Read(n)
	if err != nil {
		return nil, fmt.Errorf("read stata rows: %w", err)
	}
	for i, s := range series {
		var valueLabels map[int32]string
		if i < len(rdr.ValueLabelNames) {
			valueLabels = rdr.ValueLabels[rdr.ValueLabelNames[i]]
		}
		cols = append(cols, stataColumn(s.Name, s.Data(), s.Missing(), valueLabels))
	}
	t, err := table.New(cols...)
	if err != nil {
		return nil, err
	}
	return &Result{Table: t, Labels: labels}, nil
}

// stataColumn converts one series. data is a typed slice; missing may be nil.
func stataColumn(name string, data any, missing []bool, valueLabels map[int32]string) *table.Column {
	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice {
		return table.NewColumn(name, []any{})
	}
	cells := make([]any, rv.Len())
	for i := range cells {
		if i < len(missing) && missing[i] {
			continue
		}
		cells[i] = rv.Index(i).Interface()
	}
	col := table.NewColumn(name, cells)
	if len(valueLabels) == 0 || col.Kind != table.KindNumeric {
		return col
	}

	codes := make([]int32, 0, len(valueLabels))
	for code := range valueLabels {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	cats := make([]string, 0, len(codes))
	seen := map[string]bool{}
	for _, code := range codes {
		l := valueLabels[code]
		if !seen[l] {
			seen[l] = true
			cats = append(cats, l)
		}
	}
	// unlabelled codes keep their number as the label, after the labelled ones
	values := make([]any, len(col.Values))
	var extra []float64
	for i, v := range col.Values {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		if l, ok := valueLabels[int32(f)]; ok && float64(int32(f)) == f {
			values[i] = l
			continue
		}
		label := table.FormatValue(f)
		if !seen[label] {
			seen[label] = true
			extra = append(extra, f)
		}
		values[i] = label
	}
	sort.Float64s(extra)
	for _, f := range extra {
		cats = append(cats, table.FormatValue(f))
	}
	return table.NewCategorical(name, values, cats, true)
}
