package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rrebane/salk-toolkit/internal/cache"
	"github.com/rrebane/salk-toolkit/internal/config"
	"github.com/rrebane/salk-toolkit/internal/domain"
	"github.com/rrebane/salk-toolkit/internal/expr"
	"github.com/rrebane/salk-toolkit/internal/merge"
	"github.com/rrebane/salk-toolkit/internal/persist"
	"github.com/rrebane/salk-toolkit/internal/schema"
	"github.com/rrebane/salk-toolkit/internal/source"
	"github.com/rrebane/salk-toolkit/internal/storage"
	"github.com/rrebane/salk-toolkit/internal/table"
)

// maxNesting bounds how deep annotation documents may reference each other.
const maxNesting = 8

// Output is the result of reading annotated data.
type Output struct {
	Table    *table.Table
	Document *schema.Document
	Report   *Report
	// Labels are the human-readable column labels readers surfaced.
	Labels map[string]string
}

// Pipeline reads sources, merges them and runs the engine.
type Pipeline struct {
	Engine   *Engine
	Reader   *source.Reader
	Resolver *storage.Resolver
	logger   *slog.Logger
}

// NewPipeline wires a pipeline from configuration.
func NewPipeline(cfg *config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	steps := cfg.StarlarkMaxSteps
	if steps == 0 {
		steps = ^uint64(0)
	}
	rt := expr.New(expr.Options{MaxSteps: steps, Timeout: cfg.StarlarkTimeout})
	resolver := storage.NewResolver(cfg, logger)
	reader := source.NewReader(resolver, logger)
	reader.BatchSize = cfg.BatchSize
	reader.Artifacts = cache.New(func(ctx context.Context, path string) (*table.Table, *persist.Metadata, error) {
		return persist.Load(ctx, path, persist.Options{BatchSize: cfg.BatchSize})
	}, cfg.CacheEntries, logger)

	p := &Pipeline{
		Engine:   NewEngine(rt, logger),
		Reader:   reader,
		Resolver: resolver,
		logger:   logger,
	}
	reader.Nested = p.nested
	return p
}

// Close releases reader resources.
func (p *Pipeline) Close() error { return p.Reader.Close() }

type depthKey struct{}

func (p *Pipeline) nested(ctx context.Context, location string) (*table.Table, error) {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= maxNesting {
		return nil, fmt.Errorf("annotation documents nested deeper than %d at %s", maxNesting, location)
	}
	out, err := p.ReadAnnotated(context.WithValue(ctx, depthKey{}, depth+1), location)
	if err != nil {
		return nil, err
	}
	return out.Table, nil
}

// LoadDocument loads an annotation document from a local path or URI.
func (p *Pipeline) LoadDocument(ctx context.Context, location string) (*schema.Document, error) {
	local, cleanup, err := p.Resolver.Localize(ctx, location)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	doc, err := schema.Load(local)
	if err != nil {
		var pe *domain.SchemaParseError
		if errors.As(err, &pe) {
			pe.Path = location
		}
		return nil, err
	}
	return doc, nil
}

// ReadAnnotated loads the document at metaLocation, reads every source it
// declares (relative to the document), merges them and processes the result.
func (p *Pipeline) ReadAnnotated(ctx context.Context, metaLocation string) (*Output, error) {
	doc, err := p.LoadDocument(ctx, metaLocation)
	if err != nil {
		return nil, err
	}
	refs := append([]schema.FileRef(nil), doc.Sources()...)
	if len(refs) == 0 {
		return nil, domain.ErrSchemaParse(metaLocation, "no file or files declared")
	}
	for i := range refs {
		refs[i].File = storage.Join(metaLocation, refs[i].File)
	}
	return p.run(ctx, doc, refs)
}

// ReadAnnotatedWith processes doc against dataFile instead of the files the
// document declares. It is meant for iterating on a document before it is
// saved next to its data.
func (p *Pipeline) ReadAnnotatedWith(ctx context.Context, doc *schema.Document, dataFile string) (*Output, error) {
	return p.run(ctx, doc, []schema.FileRef{{File: dataFile}})
}

func (p *Pipeline) run(ctx context.Context, doc *schema.Document, refs []schema.FileRef) (*Output, error) {
	// download remote data files together; nested documents resolve their
	// own relative paths and are read in place
	var remote []string
	for _, ref := range refs {
		if f, err := source.FormatOf(ref.File); err == nil && f != source.FormatMeta && storage.IsRemote(ref.File) {
			remote = append(remote, ref.File)
		}
	}
	local := map[string]string{}
	if len(remote) > 0 {
		var (
			cleanup func()
			err     error
		)
		local, cleanup, err = p.Resolver.Prefetch(ctx, remote)
		if err != nil {
			return nil, err
		}
		defer cleanup()
	}

	labels := map[string]string{}
	sources := make([]merge.Source, 0, len(refs))
	for _, ref := range refs {
		loc := ref.File
		if l, ok := local[loc]; ok {
			loc = l
		}
		res, err := p.Reader.Read(ctx, loc, source.MergeOptions(doc.ReadOpts, ref.Opts))
		if err != nil {
			return nil, err
		}
		for k, v := range res.Labels {
			labels[k] = v
		}
		sources = append(sources, merge.Source{Name: ref.File, Table: res.Table, Extra: extraFields(ref)})
	}

	raw, err := merge.Merge(sources)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("merged sources", "files", len(sources), "rows", raw.Rows(), "columns", raw.Width())

	typed, eff, report, err := p.Engine.Process(ctx, doc, raw)
	if err != nil {
		return nil, err
	}
	return &Output{Table: typed, Document: eff, Report: report, Labels: labels}, nil
}

func extraFields(ref schema.FileRef) []merge.Field {
	if ref.Extra == nil {
		return nil
	}
	out := make([]merge.Field, 0, ref.Extra.Len())
	for pair := ref.Extra.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, merge.Field{Name: pair.Key, Value: pair.Value})
	}
	return out
}
