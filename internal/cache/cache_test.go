package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrebane/salk-toolkit/internal/persist"
	"github.com/rrebane/salk-toolkit/internal/schema"
	"github.com/rrebane/salk-toolkit/internal/table"
)

// countingLoader returns a one-column table holding the file's content.
func countingLoader(calls *atomic.Int32, delay time.Duration) LoadFunc {
	return func(_ context.Context, path string) (*table.Table, *persist.Metadata, error) {
		calls.Add(1)
		time.Sleep(delay)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		t, err := table.New(table.NewColumn("content", []any{string(data)}))
		return t, nil, err
	}
}

func writeFile(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func content(t *testing.T, tbl *table.Table) any {
	t.Helper()
	c, ok := tbl.Column("content")
	require.True(t, ok)
	return c.Values[0]
}

func TestLoad_CachesUntilFileChanges(t *testing.T) {
	var calls atomic.Int32
	c := New(countingLoader(&calls, 0), 0, nil)
	path := filepath.Join(t.TempDir(), "a.parquet")
	mod := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, path, "one", mod)

	ctx := context.Background()
	for range 3 {
		tbl, _, err := c.Load(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "one", content(t, tbl))
	}
	assert.Equal(t, int32(1), calls.Load())

	writeFile(t, path, "two!", mod.Add(time.Minute))
	tbl, _, err := c.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "two!", content(t, tbl))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestLoad_RelativeAndAbsoluteShareEntry(t *testing.T) {
	var calls atomic.Int32
	c := New(countingLoader(&calls, 0), 0, nil)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.parquet"), "x", time.Now())
	t.Chdir(dir)

	_, _, err := c.Load(context.Background(), "a.parquet")
	require.NoError(t, err)
	_, _, err = c.Load(context.Background(), filepath.Join(dir, "a.parquet"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoad_ConcurrentCallsShareOneRead(t *testing.T) {
	var calls atomic.Int32
	c := New(countingLoader(&calls, 50*time.Millisecond), 0, nil)
	path := filepath.Join(t.TempDir(), "a.parquet")
	writeFile(t, path, "x", time.Now())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Load(context.Background(), path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoad_Errors(t *testing.T) {
	c := New(func(context.Context, string) (*table.Table, *persist.Metadata, error) {
		return nil, nil, errors.New("corrupt")
	}, 0, nil)
	dir := t.TempDir()

	_, _, err := c.Load(context.Background(), filepath.Join(dir, "absent.parquet"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "bad.parquet")
	writeFile(t, path, "x", time.Now())
	_, _, err = c.Load(context.Background(), path)
	assert.EqualError(t, err, "corrupt")
	assert.Equal(t, 0, c.Len(), "failures are not cached")
}

func TestLoad_EvictsLeastRecentlyUsed(t *testing.T) {
	var calls atomic.Int32
	c := New(countingLoader(&calls, 0), 2, nil)
	dir := t.TempDir()
	ctx := context.Background()
	paths := make([]string, 3)
	for i, name := range []string{"a", "b", "c"} {
		paths[i] = filepath.Join(dir, name+".parquet")
		writeFile(t, paths[i], name, time.Now())
	}

	_, _, _ = c.Load(ctx, paths[0])
	_, _, _ = c.Load(ctx, paths[1])
	_, _, _ = c.Load(ctx, paths[0]) // a is now the most recent
	_, _, _ = c.Load(ctx, paths[2]) // evicts b
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int32(3), calls.Load())

	_, _, _ = c.Load(ctx, paths[0])
	assert.Equal(t, int32(3), calls.Load())
	_, _, _ = c.Load(ctx, paths[1])
	assert.Equal(t, int32(4), calls.Load())
}

func TestLoad_DefaultLoaderReadsArtifacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.parquet")
	doc, err := schema.Parse([]byte(`{"structure":[{"name":"g","columns":["x"]}]}`), schema.FormatJSON)
	require.NoError(t, err)
	tbl, err := table.New(table.NewColumn("x", []any{1, 2}))
	require.NoError(t, err)
	require.NoError(t, persist.Save(path, tbl, persist.NewMetadata(doc, tbl), persist.Options{}))

	c := New(nil, 0, nil)
	got, md, err := c.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Rows())
	require.NotNil(t, md)
	assert.Equal(t, []string{"x"}, md.Data.ColumnNames())

	c.Invalidate(path)
	assert.Equal(t, 0, c.Len())
}
