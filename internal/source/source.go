// Package source reads physical data files into raw tables. The format is
// chosen by file extension; remote locations are downloaded first.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/rrebane/salk-toolkit/internal/domain"
	"github.com/rrebane/salk-toolkit/internal/persist"
	"github.com/rrebane/salk-toolkit/internal/storage"
	"github.com/rrebane/salk-toolkit/internal/table"
)

// Format identifies a reader.
type Format string

const (
	FormatDelimited Format = "delimited"
	FormatSPSS      Format = "spss"
	FormatStata     Format = "stata"
	FormatExcel     Format = "excel"
	FormatParquet   Format = "parquet"
	// FormatMeta is a nested annotation document whose output becomes this
	// source's rows.
	FormatMeta Format = "meta"
)

// ProvenanceColumn tags rows that came from a nested annotation document.
const ProvenanceColumn = "source_meta"

var extensions = map[string]Format{
	".csv":     FormatDelimited,
	".tsv":     FormatDelimited,
	".txt":     FormatDelimited,
	".sav":     FormatSPSS,
	".zsav":    FormatSPSS,
	".por":     FormatSPSS,
	".dta":     FormatStata,
	".xlsx":    FormatExcel,
	".parquet": FormatParquet,
	".json":    FormatMeta,
	".yaml":    FormatMeta,
	".yml":     FormatMeta,
}

// FormatOf picks the reader for a path or URI.
func FormatOf(location string) (Format, error) {
	ext := strings.ToLower(path.Ext(location))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", &domain.UnsupportedFormatError{Path: location}
}

// Result is a raw table plus optional human-readable column labels.
type Result struct {
	Table  *table.Table
	Labels map[string]string
}

// NestedFunc runs the annotation pipeline for a nested document.
type NestedFunc func(ctx context.Context, location string) (*table.Table, error)

// ArtifactLoader loads Parquet artifacts, possibly from a shared cache.
// Returned tables must not be modified.
type ArtifactLoader interface {
	Load(ctx context.Context, path string) (*table.Table, *persist.Metadata, error)
}

// Reader dispatches files to format readers. It owns an in-memory DuckDB
// connection, opened on first use.
type Reader struct {
	Resolver  *storage.Resolver
	Nested    NestedFunc
	Artifacts ArtifactLoader // used for local artifacts when set
	Logger    *slog.Logger
	BatchSize int

	once   sync.Once
	db     *sql.DB
	dbErr  error
	extMu  sync.Mutex
	loaded map[string]bool
}

// NewReader creates a reader. resolver may be nil when only local files are read.
func NewReader(resolver *storage.Resolver, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{Resolver: resolver, Logger: logger, loaded: map[string]bool{}}
}

// Close releases the DuckDB connection.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Read loads one source. opts are the document's read_opts merged with the
// file entry's opts.
func (r *Reader) Read(ctx context.Context, location string, opts Options) (*Result, error) {
	format, err := FormatOf(location)
	if err != nil {
		return nil, err
	}
	if format == FormatMeta {
		return r.readNested(ctx, location)
	}

	local := location
	if r.Resolver != nil {
		p, cleanup, err := r.Resolver.Localize(ctx, location)
		if err != nil {
			return nil, &domain.ReadError{Path: location, Err: err}
		}
		defer cleanup()
		local = p
	}

	r.Logger.Debug("reading source", "location", location, "format", string(format))
	var res *Result
	switch format {
	case FormatDelimited:
		res, err = r.readDelimited(ctx, local, opts)
	case FormatSPSS:
		res, err = r.readSPSS(ctx, local, opts)
	case FormatExcel:
		res, err = r.readExcel(ctx, local, opts)
	case FormatStata:
		res, err = readStata(local, opts)
	case FormatParquet:
		res, err = r.readParquet(ctx, local, r.Resolver == nil || !r.Resolver.Downloaded(local))
	}
	if err != nil {
		return nil, wrapRead(location, err)
	}
	if res.Labels == nil {
		res.Labels = map[string]string{}
	}
	return res, nil
}

func (r *Reader) readNested(ctx context.Context, location string) (*Result, error) {
	if r.Nested == nil {
		return nil, &domain.ReadError{Path: location, Err: fmt.Errorf("nested annotation documents are not enabled for this reader")}
	}
	t, err := r.Nested(ctx, location)
	if err != nil {
		return nil, err
	}
	t = t.Clone()
	cells := make([]any, t.Rows())
	for i := range cells {
		cells[i] = location
	}
	if err := t.Set(table.NewColumn(ProvenanceColumn, cells)); err != nil {
		return nil, err
	}
	return &Result{Table: t, Labels: map[string]string{}}, nil
}

// readParquet prefers the artifact reader, which restores categorical
// domains, and falls back to DuckDB for files it cannot decode.
func (r *Reader) readParquet(ctx context.Context, local string, cacheable bool) (*Result, error) {
	var (
		t   *table.Table
		md  *persist.Metadata
		err error
	)
	if cacheable && r.Artifacts != nil {
		t, md, err = r.Artifacts.Load(ctx, local)
		if err == nil {
			t = t.Clone()
		}
	} else {
		t, md, err = persist.Load(ctx, local, persist.Options{BatchSize: r.BatchSize})
	}
	if err == nil {
		if md == nil {
			r.Logger.Debug("parquet file carries no annotation metadata", "path", local)
		}
		return &Result{Table: t}, nil
	}
	r.Logger.Debug("artifact reader failed, falling back to duckdb", "path", local, "error", err)
	t, err = r.query(ctx, fmt.Sprintf("read_parquet(%s)", quoteLiteral(local)))
	if err != nil {
		return nil, err
	}
	return &Result{Table: t}, nil
}

func wrapRead(location string, err error) error {
	switch err.(type) {
	case *domain.ReadError, *domain.UnsupportedFormatError:
		return err
	}
	return &domain.ReadError{Path: location, Err: err}
}
