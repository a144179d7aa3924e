package source

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"math/big"
	"regexp"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"github.com/rrebane/salk-toolkit/internal/table"
)

var (
	csvParams   = []string{"delim", "header", "skip", "quote", "escape", "all_varchar", "encoding", "decimal_separator", "null_padding", "dateformat", "timestampformat", "nullstr"}
	excelParams = []string{"sheet", "header", "all_varchar", "range", "ignore_errors", "empty_as_varchar"}
	statParams  = []string{"encoding"}
)

func (r *Reader) conn() (*sql.DB, error) {
	r.once.Do(func() {
		r.db, r.dbErr = sql.Open("duckdb", "")
	})
	return r.db, r.dbErr
}

// loadExtension installs and loads a DuckDB extension once per reader.
func (r *Reader) loadExtension(ctx context.Context, name, install string) error {
	r.extMu.Lock()
	defer r.extMu.Unlock()
	if r.loaded[name] {
		return nil
	}
	db, err := r.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("%s; LOAD %s;", install, name)); err != nil {
		return fmt.Errorf("load duckdb extension %s: %w", name, err)
	}
	r.loaded[name] = true
	return nil
}

func (r *Reader) readDelimited(ctx context.Context, local string, opts Options) (*Result, error) {
	return r.readWithHeader(ctx, "read_csv", local, opts, csvParams)
}

func (r *Reader) readExcel(ctx context.Context, local string, opts Options) (*Result, error) {
	if err := r.loadExtension(ctx, "excel", "INSTALL excel"); err != nil {
		return nil, err
	}
	return r.readWithHeader(ctx, "read_xlsx", local, opts, excelParams)
}

func (r *Reader) readSPSS(ctx context.Context, local string, opts Options) (*Result, error) {
	if err := r.loadExtension(ctx, "read_stat", "INSTALL read_stat FROM community"); err != nil {
		return nil, err
	}
	params, err := opts.duckParams(statParams...)
	if err != nil {
		return nil, err
	}
	t, err := r.query(ctx, fmt.Sprintf("read_stat(%s%s)", quoteLiteral(local), params))
	if err != nil {
		return nil, err
	}
	return &Result{Table: t}, nil
}

// readWithHeader reads through a DuckDB table function. With more than one
// header row, every cell is read as text without a header and the leading
// rows are flattened into column names.
func (r *Reader) readWithHeader(ctx context.Context, fn, local string, opts Options, allowed []string) (*Result, error) {
	levels := opts.HeaderRows()
	if levels > 1 {
		opts = MergeOptions(opts, map[string]any{"header": false, "all_varchar": true})
	}
	params, err := opts.duckParams(allowed...)
	if err != nil {
		return nil, err
	}
	t, err := r.query(ctx, fmt.Sprintf("%s(%s%s)", fn, quoteLiteral(local), params))
	if err != nil {
		return nil, err
	}
	if levels > 1 {
		if t, err = flattenHeader(t, levels); err != nil {
			return nil, err
		}
	}
	return &Result{Table: t}, nil
}

// query runs SELECT * FROM src and collects the rows into a table. ENUM
// columns (SPSS value labels) become ordered categoricals in code order.
func (r *Reader) query(ctx context.Context, src string) (*table.Table, error) {
	db, err := r.conn()
	if err != nil {
		return nil, err
	}
	enums, err := describeEnums(ctx, db, src)
	if err != nil {
		return nil, classifyDuckDBError(err)
	}
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+src)
	if err != nil {
		return nil, classifyDuckDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	data := make([][]any, len(names))
	for rows.Next() {
		cells := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range cells {
			data[i] = append(data[i], duckValue(v))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDuckDBError(err)
	}

	cols := make([]*table.Column, len(names))
	for i, name := range names {
		if data[i] == nil {
			data[i] = []any{}
		}
		if labels, ok := enums[name]; ok {
			cols[i] = table.NewCategorical(name, data[i], labels, true)
			continue
		}
		cols[i] = table.NewColumn(name, data[i])
	}
	return table.New(cols...)
}

func describeEnums(ctx context.Context, db *sql.DB, src string) (map[string][]string, error) {
	rows, err := db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+src)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := map[string][]string{}
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		name, _ := cells[0].(string)
		typ, _ := cells[1].(string)
		if labels, ok := parseEnumLabels(typ); ok {
			out[name] = labels
		}
	}
	return out, rows.Err()
}

var enumType = regexp.MustCompile(`^ENUM\((.*)\)$`)

// parseEnumLabels extracts the labels of a DuckDB type such as ENUM('a', 'b''c').
func parseEnumLabels(typ string) ([]string, bool) {
	m := enumType.FindStringSubmatch(strings.TrimSpace(typ))
	if m == nil {
		return nil, false
	}
	var (
		labels []string
		cur    strings.Builder
		in     bool
	)
	body := m[1]
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\'' && in && i+1 < len(body) && body[i+1] == '\'':
			cur.WriteByte('\'')
			i++
		case c == '\'':
			if in {
				labels = append(labels, cur.String())
				cur.Reset()
			}
			in = !in
		case in:
			cur.WriteByte(c)
		}
	}
	return labels, true
}

// duckValue converts driver values the table cannot normalize itself.
func duckValue(v any) any {
	switch x := v.(type) {
	case duckdb.Decimal:
		return x.Float64()
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case duckdb.UUID:
		return x.String()
	default:
		return v
	}
}

// classifyDuckDBError maps DuckDB reader failures onto error kinds callers
// can test for.
func classifyDuckDBError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "No files found"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "No such file"):
		return fmt.Errorf("%w: %s", fs.ErrNotExist, msg)
	case strings.Contains(msg, "Extension"),
		strings.Contains(msg, "extension"):
		return fmt.Errorf("duckdb extension unavailable: %s", msg)
	case strings.Contains(msg, "Conversion Error"),
		strings.Contains(msg, "Invalid Input Error"),
		strings.Contains(msg, "sniff"):
		return fmt.Errorf("malformed input: %s", msg)
	default:
		return fmt.Errorf("duckdb: %w", err)
	}
}
