package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/rrebane/salk-toolkit/internal/table"
)

const defaultBatchSize = 64 * 1024

// Options tune reading and writing. The zero value is usable.
type Options struct {
	BatchSize int // rows per record batch
	Allocator memory.Allocator
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return defaultBatchSize
	}
	return o.BatchSize
}

func (o Options) allocator() memory.Allocator {
	if o.Allocator == nil {
		return memory.DefaultAllocator
	}
	return o.Allocator
}

// Save writes t with md embedded under MetaKey. The file is written next to
// path and renamed into place, so an existing artifact is never left half
// written. md.Columns is refreshed from t.
func Save(path string, t *table.Table, md *Metadata, opts Options) (err error) {
	if md == nil {
		return errors.New("persist: metadata is required")
	}
	md.Columns = Describe(t)
	envelope, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode %s: %w", MetaKey, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	sc := arrowSchema(t)
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Gzip),
		parquet.WithAllocator(opts.allocator()),
	)
	fw, err := pqarrow.NewFileWriter(sc, tmp, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("open parquet writer: %w", err)
	}
	if err := fw.AppendKeyValueMetadata(MetaKey, string(envelope)); err != nil {
		return fmt.Errorf("attach %s: %w", MetaKey, err)
	}
	step := opts.batchSize()
	for start := 0; start < t.Rows() || start == 0; start += step {
		end := min(start+step, t.Rows())
		rec, err := recordFromTable(sc, t, start, end, opts.allocator())
		if err != nil {
			return err
		}
		werr := fw.Write(rec)
		rec.Release()
		if werr != nil {
			return fmt.Errorf("write rows %d-%d: %w", start, end, werr)
		}
		if t.Rows() == 0 {
			break
		}
	}
	// FileWriter.Close closes the underlying file.
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadMetadata reads only the footer. A file without MetaKey yields nil
// metadata and a nil error.
func ReadMetadata(path string) (*Metadata, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer rdr.Close() //nolint:errcheck
	return metadataOf(rdr)
}

func metadataOf(rdr *file.Reader) (*Metadata, error) {
	raw := rdr.MetaData().KeyValueMetadata().FindValue(MetaKey)
	if raw == nil {
		return nil, nil
	}
	return decodeMetadata(*raw)
}

// Reader is a lazy handle over an artifact: metadata and column layout are
// available immediately, rows are decoded batch by batch.
type Reader struct {
	Metadata *Metadata
	Schema   *arrow.Schema

	f    *os.File
	pq   *file.Reader
	rr   pqarrow.RecordReader
	rows int64
}

// Open prepares a lazy read of path without decoding rows.
func Open(ctx context.Context, path string, opts Options) (*Reader, error) {
	f, err := os.Open(path) //nolint:gosec // caller-chosen artifact path
	if err != nil {
		return nil, err
	}
	pq, err := file.NewParquetReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	r := &Reader{f: f, pq: pq, rows: pq.NumRows()}
	if r.Metadata, err = metadataOf(pq); err != nil {
		_ = r.Close()
		return nil, err
	}
	fr, err := pqarrow.NewFileReader(pq, pqarrow.ArrowReadProperties{BatchSize: int64(opts.batchSize())}, opts.allocator())
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("read parquet schema %s: %w", path, err)
	}
	if r.Schema, err = fr.Schema(); err != nil {
		_ = r.Close()
		return nil, err
	}
	if r.rr, err = fr.GetRecordReader(ctx, nil, nil); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("read parquet rows %s: %w", path, err)
	}
	return r, nil
}

// NumRows returns the row count recorded in the footer.
func (r *Reader) NumRows() int64 { return r.rows }

// Names returns the stored column names.
func (r *Reader) Names() []string {
	out := make([]string, r.Schema.NumFields())
	for i, f := range r.Schema.Fields() {
		out[i] = f.Name
	}
	return out
}

// Next decodes the next batch of rows. It returns io.EOF after the last batch.
func (r *Reader) Next() (*table.Table, error) {
	if !r.rr.Next() {
		if err := r.rr.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, io.EOF
	}
	return tableFromRecord(r.rr.Record(), r.Metadata)
}

// Collect decodes all remaining batches into one table.
func (r *Reader) Collect() (*table.Table, error) {
	var parts []*table.Table
	for {
		t, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, t)
	}
	if len(parts) == 0 {
		return emptyTable(r.Schema, r.Metadata)
	}
	return concatBatches(parts)
}

// Close releases the record reader and the file.
func (r *Reader) Close() error {
	if r.rr != nil {
		r.rr.Release()
		r.rr = nil
	}
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Load reads an artifact eagerly.
func Load(ctx context.Context, path string, opts Options) (*table.Table, *Metadata, error) {
	r, err := Open(ctx, path, opts)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close() //nolint:errcheck
	t, err := r.Collect()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, r.Metadata, nil
}

func concatBatches(parts []*table.Table) (*table.Table, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}
	first := parts[0]
	cols := make([]*table.Column, first.Width())
	for i, c := range first.Columns() {
		cols[i] = c.Clone()
	}
	for _, p := range parts[1:] {
		for i, c := range p.Columns() {
			cols[i].Values = append(cols[i].Values, c.Values...)
		}
	}
	return table.New(cols...)
}
