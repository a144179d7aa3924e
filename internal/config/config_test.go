package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEngineEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LOG_LEVEL", "SALK_CLUSTER_THRESHOLD", "SALK_MAX_CATEGORIES",
		"SALK_STARLARK_MAX_STEPS", "SALK_STARLARK_TIMEOUT", "SALK_BATCH_SIZE", "SALK_TEMP_DIR", "SALK_CACHE_ENTRIES",
		"S3_KEY_ID", "S3_SECRET", "S3_ENDPOINT", "S3_REGION",
		"GCS_KEY_FILE", "AZURE_ACCOUNT_NAME", "AZURE_ACCOUNT_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEngineEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.InDelta(t, 0.75, cfg.ClusterThreshold, 1e-9)
	assert.Equal(t, 50, cfg.MaxCategories)
	assert.Equal(t, uint64(10_000_000), cfg.StarlarkMaxSteps)
	assert.Equal(t, 30*time.Second, cfg.StarlarkTimeout)
	assert.Equal(t, os.TempDir(), cfg.TempDir)
	assert.Equal(t, 16, cfg.CacheEntries)
	assert.Nil(t, cfg.Storage.S3KeyID)
	assert.False(t, cfg.Storage.HasS3())
	assert.False(t, cfg.Storage.HasAzure())
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SALK_CLUSTER_THRESHOLD", "0.5")
	t.Setenv("SALK_MAX_CATEGORIES", "20")
	t.Setenv("SALK_STARLARK_MAX_STEPS", "1000")
	t.Setenv("SALK_STARLARK_TIMEOUT", "2s")
	t.Setenv("SALK_BATCH_SIZE", "128")
	t.Setenv("S3_KEY_ID", "testkey")
	t.Setenv("S3_SECRET", "testsecret")
	t.Setenv("S3_REGION", "eu-north-1")
	t.Setenv("AZURE_ACCOUNT_NAME", "acct")
	t.Setenv("AZURE_ACCOUNT_KEY", "a2V5")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.InDelta(t, 0.5, cfg.ClusterThreshold, 1e-9)
	assert.Equal(t, 20, cfg.MaxCategories)
	assert.Equal(t, uint64(1000), cfg.StarlarkMaxSteps)
	assert.Equal(t, 2*time.Second, cfg.StarlarkTimeout)
	assert.Equal(t, 128, cfg.BatchSize)
	assert.True(t, cfg.Storage.HasS3())
	require.NotNil(t, cfg.Storage.S3Region)
	assert.Equal(t, "eu-north-1", *cfg.Storage.S3Region)
	assert.True(t, cfg.Storage.HasAzure())
}

func TestLoadFromEnv_BadValuesWarn(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("SALK_MAX_CATEGORIES", "lots")
	t.Setenv("SALK_STARLARK_TIMEOUT", "soon")
	t.Setenv("S3_KEY_ID", "only-key")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCategories, cfg.MaxCategories)
	assert.Equal(t, DefaultStarlarkTimeout, cfg.StarlarkTimeout)
	assert.Len(t, cfg.Warnings, 3)
	assert.False(t, cfg.Storage.HasS3(), "partial S3 config should return false")
}

func TestLoadFromEnv_ThresholdOutOfRange(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("SALK_CLUSTER_THRESHOLD", "1.5")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SALK_CLUSTER_THRESHOLD")
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.in}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	content := "# comment\nSALK_TEST_KEY=test_value\nexport SALK_TEST_QUOTED='quoted value'\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))
	t.Cleanup(func() {
		_ = os.Unsetenv("SALK_TEST_KEY")
		_ = os.Unsetenv("SALK_TEST_QUOTED")
	})

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "test_value", os.Getenv("SALK_TEST_KEY"))
	assert.Equal(t, "quoted value", os.Getenv("SALK_TEST_QUOTED"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("SALK_TEST_PRECEDENCE", "from_env")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SALK_TEST_PRECEDENCE=from_file\n"), 0o644))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from_env", os.Getenv("SALK_TEST_PRECEDENCE"))
}
