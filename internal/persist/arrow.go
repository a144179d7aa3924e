package persist

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rrebane/salk-toolkit/internal/table"
)

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// arrowSchema maps column kinds to Parquet-friendly Arrow types. Categorical
// and opaque columns are stored as text; their kind comes back from Metadata.
func arrowSchema(t *table.Table) *arrow.Schema {
	fields := make([]arrow.Field, 0, t.Width())
	for _, c := range t.Columns() {
		fields = append(fields, arrow.Field{Name: c.Name, Type: arrowTypeForKind(c.Kind), Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func arrowTypeForKind(k table.Kind) arrow.DataType {
	switch k {
	case table.KindNumeric:
		return arrow.PrimitiveTypes.Float64
	case table.KindBoolean:
		return arrow.FixedWidthTypes.Boolean
	case table.KindDatetime:
		return timestampType
	default:
		return arrow.BinaryTypes.String
	}
}

// recordFromTable builds one record from rows [start, end).
func recordFromTable(sc *arrow.Schema, t *table.Table, start, end int, mem memory.Allocator) (arrow.Record, error) {
	cols := make([]arrow.Array, t.Width())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for i, c := range t.Columns() {
		arr, err := buildArray(c, start, end, mem)
		if err != nil {
			return nil, err
		}
		cols[i] = arr
	}
	return array.NewRecord(sc, cols, int64(end-start)), nil
}

func buildArray(c *table.Column, start, end int, mem memory.Allocator) (arrow.Array, error) {
	cells := c.Values[start:end]
	switch c.Kind {
	case table.KindNumeric:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, v := range cells {
			f, ok := v.(float64)
			if !ok {
				b.AppendNull()
				continue
			}
			b.Append(f)
		}
		return b.NewArray(), nil
	case table.KindBoolean:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range cells {
			x, ok := v.(bool)
			if !ok {
				b.AppendNull()
				continue
			}
			b.Append(x)
		}
		return b.NewArray(), nil
	case table.KindDatetime:
		b := array.NewTimestampBuilder(mem, timestampType)
		defer b.Release()
		for _, v := range cells {
			ts, ok := v.(time.Time)
			if !ok {
				b.AppendNull()
				continue
			}
			x, err := arrow.TimestampFromTime(ts, arrow.Microsecond)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", c.Name, err)
			}
			b.Append(x)
		}
		return b.NewArray(), nil
	default:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for _, v := range cells {
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(table.FormatValue(v))
		}
		return b.NewArray(), nil
	}
}

// tableFromRecord converts a record batch into a table, restoring kinds and
// category domains recorded in md. Columns md does not describe get a kind
// derived from their Arrow type.
func tableFromRecord(rec arrow.Record, md *Metadata) (*table.Table, error) {
	sc := rec.Schema()
	cols := make([]*table.Column, 0, rec.NumCols())
	for i := 0; i < int(rec.NumCols()); i++ {
		name := sc.Field(i).Name
		cells := cellsOf(rec.Column(i))
		cols = append(cols, restoreColumn(name, cells, rec.Column(i).DataType(), md))
	}
	if len(cols) == 0 {
		return table.Empty(int(rec.NumRows())), nil
	}
	return table.New(cols...)
}

func emptyTable(sc *arrow.Schema, md *Metadata) (*table.Table, error) {
	cols := make([]*table.Column, 0, sc.NumFields())
	for _, f := range sc.Fields() {
		cols = append(cols, restoreColumn(f.Name, []any{}, f.Type, md))
	}
	if len(cols) == 0 {
		return table.Empty(0), nil
	}
	return table.New(cols...)
}

func restoreColumn(name string, cells []any, dt arrow.DataType, md *Metadata) *table.Column {
	if ci, ok := md.Column(name); ok {
		switch ci.Kind {
		case table.KindCategorical:
			return table.NewCategorical(name, cells, ci.Categories, ci.Ordered)
		case table.KindOpaque, table.KindText:
			return &table.Column{Name: name, Kind: ci.Kind, Values: cells}
		}
	}
	if d, ok := dt.(*arrow.DictionaryType); ok {
		return &table.Column{Name: name, Kind: table.KindCategorical, Values: cells, Categories: distinctStrings(cells), Ordered: d.Ordered}
	}
	return &table.Column{Name: name, Kind: kindForArrow(dt), Values: cells}
}

func kindForArrow(dt arrow.DataType) table.Kind {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.STRING_VIEW:
		return table.KindText
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128, arrow.DECIMAL256:
		return table.KindNumeric
	case arrow.BOOL:
		return table.KindBoolean
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return table.KindDatetime
	default:
		return table.KindOpaque
	}
}

// cellsOf converts an Arrow array into normalized cells.
func cellsOf(arr arrow.Array) []any {
	n := arr.Len()
	out := make([]any, n)
	switch a := arr.(type) {
	case *array.String:
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = a.Value(i)
			}
		}
	case *array.LargeString:
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = a.Value(i)
			}
		}
	case *array.Float64:
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = table.Normalize(a.Value(i))
			}
		}
	case *array.Float32:
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = table.Normalize(a.Value(i))
			}
		}
	case *array.Int64:
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = float64(a.Value(i))
			}
		}
	case *array.Int32:
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = float64(a.Value(i))
			}
		}
	case *array.Boolean:
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = a.Value(i)
			}
		}
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = a.Value(i).ToTime(unit)
			}
		}
	case *array.Date32:
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = a.Value(i).ToTime()
			}
		}
	case *array.Dictionary:
		dict := cellsOf(a.Dictionary())
		for i := 0; i < n; i++ {
			if a.IsValid(i) {
				out[i] = table.FormatValue(dict[a.GetValueIndex(i)])
			}
		}
	default:
		for i := 0; i < n; i++ {
			if arr.IsValid(i) {
				out[i] = table.Normalize(arr.ValueStr(i))
			}
		}
		if kindForArrow(arr.DataType()) == table.KindNumeric {
			for i, v := range out {
				if f, ok := table.ToFloat(v); ok {
					out[i] = f
				}
			}
		}
	}
	return out
}

func distinctStrings(cells []any) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range cells {
		if v == nil {
			continue
		}
		s := table.FormatValue(v)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
