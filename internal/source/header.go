package source

import (
	"fmt"
	"strings"

	"github.com/rrebane/salk-toolkit/internal/table"
)

// HeaderSeparator joins the levels of a multi-row header.
const HeaderSeparator = "_"

// flattenHeader turns the first levels rows of a headerless text table into
// column names. Blank cells in all but the last level repeat the cell to
// their left, the way merged spreadsheet cells read back. Remaining cells are
// converted to numbers when the whole column parses as numeric.
func flattenHeader(t *table.Table, levels int) (*table.Table, error) {
	if t.Rows() < levels {
		return nil, fmt.Errorf("header_rows is %d but the source has %d rows", levels, t.Rows())
	}
	cols := t.Columns()
	names := make([]string, len(cols))
	carry := make([]string, levels)
	for j, c := range cols {
		var parts []string
		for l := 0; l < levels; l++ {
			cell := strings.TrimSpace(table.FormatValue(c.Values[l]))
			if l < levels-1 {
				if cell == "" {
					cell = carry[l]
				} else {
					carry[l] = cell
					// a new upper label resets the levels below it
					for k := l + 1; k < levels; k++ {
						carry[k] = ""
					}
				}
			}
			if cell != "" {
				parts = append(parts, cell)
			}
		}
		names[j] = strings.Join(parts, HeaderSeparator)
		if names[j] == "" {
			names[j] = fmt.Sprintf("column%d", j)
		}
	}

	seen := map[string]int{}
	out := make([]*table.Column, len(cols))
	for j, c := range cols {
		name := names[j]
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s%s%d", name, HeaderSeparator, n)
		}
		seen[names[j]]++
		out[j] = sniffNumeric(table.NewColumn(name, c.Values[levels:]))
	}
	return table.New(out...)
}

// sniffNumeric converts a text column to numeric when every non-empty cell
// parses as a number. Empty strings become missing.
func sniffNumeric(c *table.Column) *table.Column {
	if c.Kind != table.KindText {
		return c
	}
	values := make([]any, len(c.Values))
	seen := false
	for i, v := range c.Values {
		s, _ := v.(string)
		if strings.TrimSpace(s) == "" {
			continue
		}
		f, ok := table.ToFloat(s)
		if !ok {
			return c
		}
		values[i] = f
		seen = true
	}
	if !seen {
		return c
	}
	return &table.Column{Name: c.Name, Kind: table.KindNumeric, Values: values}
}
