package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rrebane/salk-toolkit/internal/table"
)

// Options are reader options from a document's read_opts and a file entry's
// opts. Keys follow the names survey authors already use; aliases map them
// onto reader parameters.
type Options map[string]any

// MergeOptions overlays later option sets on earlier ones.
func MergeOptions(sets ...map[string]any) Options {
	out := Options{}
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

var optionAliases = map[string]string{
	"sep":        "delim",
	"delimiter":  "delim",
	"skiprows":   "skip",
	"sheet_name": "sheet",
}

func (o Options) canonical() Options {
	out := Options{}
	for k, v := range o {
		if alias, ok := optionAliases[k]; ok {
			k = alias
		}
		out[k] = v
	}
	return out
}

// HeaderRows returns how many leading rows form the column header.
func (o Options) HeaderRows() int {
	v, ok := o["header_rows"]
	if !ok {
		return 1
	}
	f, ok := table.ToFloat(v)
	if !ok || f < 1 {
		return 1
	}
	return int(f)
}

// duckParams renders the options a DuckDB table function accepts as named
// parameters. Unknown keys are ignored.
func (o Options) duckParams(allowed ...string) (string, error) {
	canon := o.canonical()
	keys := make([]string, 0, len(canon))
	for k := range canon {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	allow := map[string]bool{}
	for _, a := range allowed {
		allow[a] = true
	}
	var parts []string
	for _, k := range keys {
		if !allow[k] {
			continue
		}
		lit, err := literal(canon[k])
		if err != nil {
			return "", fmt.Errorf("read option %s: %w", k, err)
		}
		parts = append(parts, k+" = "+lit)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return ", " + strings.Join(parts, ", "), nil
}

func literal(v any) (string, error) {
	switch x := table.Normalize(v).(type) {
	case string:
		return quoteLiteral(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return table.FormatValue(x), nil
	default:
		return "", fmt.Errorf("unsupported value %v", v)
	}
}

// quoteLiteral quotes s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
