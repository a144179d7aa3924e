// Package storage resolves source and artifact locations that live in object
// storage (S3-compatible, Google Cloud Storage, Azure Blob) to local files, and
// uploads finished artifacts back.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rrebane/salk-toolkit/internal/config"
)

// ObjectStore reads and writes objects addressed by URI.
type ObjectStore interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
	Upload(ctx context.Context, uri string, f *os.File) error
}

// Compile-time checks.
var (
	_ ObjectStore = (*S3Store)(nil)
	_ ObjectStore = (*GCSStore)(nil)
	_ ObjectStore = (*AzureStore)(nil)
)

// Scheme returns the backend a location belongs to: "s3", "gs", "azure", or
// "" for local paths.
func Scheme(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// single-letter schemes are Windows drive letters
		return ""
	}
	switch u.Scheme {
	case "s3":
		return "s3"
	case "gs":
		return "gs"
	case "az", "abfss":
		return "azure"
	case "https":
		if strings.Contains(u.Host, ".blob.core.windows.net") {
			return "azure"
		}
	}
	return ""
}

// IsRemote reports whether location is an object-storage URI.
func IsRemote(location string) bool { return Scheme(location) != "" }

// Join resolves ref against the directory of base. Absolute paths and URIs
// are returned unchanged.
func Join(base, ref string) string {
	if IsRemote(ref) || filepath.IsAbs(ref) {
		return ref
	}
	if IsRemote(base) {
		u, _ := url.Parse(base)
		u.Path = path.Join(path.Dir(u.Path), ref)
		return u.String()
	}
	return filepath.Join(filepath.Dir(base), ref)
}

// Resolver maps locations to local files, creating backend clients on first use.
type Resolver struct {
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.Mutex
	stores    map[string]ObjectStore
	downloads map[string]bool
}

// NewResolver creates a resolver using the storage credentials in cfg.
func NewResolver(cfg *config.Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, logger: logger, stores: map[string]ObjectStore{}, downloads: map[string]bool{}}
}

// WithStore installs a backend explicitly, replacing the configured one.
func (r *Resolver) WithStore(scheme string, s ObjectStore) *Resolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[scheme] = s
	return r
}

func (r *Resolver) store(ctx context.Context, scheme string) (ObjectStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[scheme]; ok {
		return s, nil
	}
	var (
		s   ObjectStore
		err error
	)
	switch scheme {
	case "s3":
		s, err = NewS3Store(&r.cfg.Storage)
	case "gs":
		s, err = NewGCSStore(ctx, &r.cfg.Storage)
	case "azure":
		s, err = NewAzureStore(&r.cfg.Storage)
	default:
		return nil, fmt.Errorf("no object store for scheme %q", scheme)
	}
	if err != nil {
		return nil, err
	}
	r.stores[scheme] = s
	return s, nil
}

// Localize returns a local path for location. Remote objects are downloaded
// into the configured temp directory, keeping their file extension so that
// format dispatch still works; cleanup removes the download. For local paths
// cleanup is a no-op.
func (r *Resolver) Localize(ctx context.Context, location string) (local string, cleanup func(), err error) {
	scheme := Scheme(location)
	if scheme == "" {
		return location, func() {}, nil
	}
	s, err := r.store(ctx, scheme)
	if err != nil {
		return "", nil, err
	}
	body, err := s.Open(ctx, location)
	if err != nil {
		return "", nil, err
	}
	defer body.Close() //nolint:errcheck

	f, err := os.CreateTemp(r.cfg.TempDir, "salk-*"+strings.ToLower(path.Ext(location)))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	r.mu.Lock()
	r.downloads[f.Name()] = true
	r.mu.Unlock()
	cleanup = func() {
		_ = os.Remove(f.Name())
		r.mu.Lock()
		delete(r.downloads, f.Name())
		r.mu.Unlock()
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("download %s: %w", location, err)
	}
	r.logger.Debug("downloaded remote source", "location", location, "bytes", n, "path", f.Name())
	return f.Name(), cleanup, nil
}

// Downloaded reports whether path is a temporary download made by Localize
// that has not been cleaned up yet.
func (r *Resolver) Downloaded(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.downloads[path]
}

// Prefetch localizes several locations concurrently. The returned map is
// keyed by the original location.
func (r *Resolver) Prefetch(ctx context.Context, locations []string) (map[string]string, func(), error) {
	var (
		mu       sync.Mutex
		local    = make(map[string]string, len(locations))
		cleanups []func()
	)
	cleanupAll := func() {
		for _, c := range cleanups {
			c()
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, loc := range locations {
		g.Go(func() error {
			p, cleanup, err := r.Localize(gctx, loc)
			if err != nil {
				return err
			}
			mu.Lock()
			local[loc] = p
			cleanups = append(cleanups, cleanup)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cleanupAll()
		return nil, nil, err
	}
	return local, cleanupAll, nil
}

// Publish copies a finished local file to location. Local destinations are
// renamed into place.
func (r *Resolver) Publish(ctx context.Context, localPath, location string) error {
	scheme := Scheme(location)
	if scheme == "" {
		if localPath == location {
			return nil
		}
		return os.Rename(localPath, location)
	}
	s, err := r.store(ctx, scheme)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath) //nolint:gosec // path is produced by the caller
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	if err := s.Upload(ctx, location, f); err != nil {
		return err
	}
	r.logger.Info("uploaded artifact", "location", location)
	return nil
}
