// Package config handles engine configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for the engine knobs.
const (
	DefaultClusterThreshold = 0.75
	DefaultMaxCategories    = 50
	DefaultStarlarkMaxSteps = 10_000_000
	DefaultStarlarkTimeout  = 30 * time.Second
	DefaultBatchSize        = 64 * 1024
	DefaultCacheEntries     = 16
)

// StorageConfig holds credentials for remote source files. All fields are
// optional; a backend is only usable when its credentials are present.
type StorageConfig struct {
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string

	GCSKeyFile *string

	AzureAccountName *string
	AzureAccountKey  *string
}

// HasS3 returns true if the S3 key pair is set. Endpoint and region are optional.
func (s *StorageConfig) HasS3() bool {
	return s.S3KeyID != nil && s.S3Secret != nil
}

// HasAzure returns true if both Azure account fields are set.
func (s *StorageConfig) HasAzure() bool {
	return s.AzureAccountName != nil && s.AzureAccountKey != nil
}

// Config holds the configuration for the annotation engine and CLI.
type Config struct {
	LogLevel string // log level: debug, info, warn, error (default "info")

	// Inference
	ClusterThreshold float64 // containment fraction for joining a category cluster (default 0.75)
	MaxCategories    int     // above this many distinct values a scale uses "infer" (default 50)

	// Derivation runtime limits
	StarlarkMaxSteps uint64
	StarlarkTimeout  time.Duration

	BatchSize    int    // rows per record batch for lazy reads and writes
	CacheEntries int    // loaded artifacts kept in memory (default 16)
	TempDir      string // where remote sources are downloaded (default os.TempDir())

	Storage StorageConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns a configuration with every default applied and no credentials.
func Default() *Config {
	return &Config{
		LogLevel:         "info",
		ClusterThreshold: DefaultClusterThreshold,
		MaxCategories:    DefaultMaxCategories,
		StarlarkMaxSteps: DefaultStarlarkMaxSteps,
		StarlarkTimeout:  DefaultStarlarkTimeout,
		BatchSize:        DefaultBatchSize,
		CacheEntries:     DefaultCacheEntries,
		TempDir:          os.TempDir(),
	}
}

// LoadFromEnv loads configuration from environment variables.
// Unparseable values fall back to defaults with a warning.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SALK_TEMP_DIR"); v != "" {
		cfg.TempDir = v
	}

	if v := os.Getenv("SALK_CLUSTER_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		switch {
		case err != nil:
			cfg.warnf("SALK_CLUSTER_THRESHOLD=%q is not a number, using %v", v, DefaultClusterThreshold)
		case f <= 0 || f > 1:
			return nil, fmt.Errorf("SALK_CLUSTER_THRESHOLD must be in (0, 1], got %v", f)
		default:
			cfg.ClusterThreshold = f
		}
	}
	if v := os.Getenv("SALK_MAX_CATEGORIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxCategories = n
		} else {
			cfg.warnf("SALK_MAX_CATEGORIES=%q is not a positive integer, using %d", v, DefaultMaxCategories)
		}
	}
	if v := os.Getenv("SALK_STARLARK_MAX_STEPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.StarlarkMaxSteps = n
		} else {
			cfg.warnf("SALK_STARLARK_MAX_STEPS=%q is not an integer, using %d", v, DefaultStarlarkMaxSteps)
		}
	}
	if v := os.Getenv("SALK_STARLARK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StarlarkTimeout = d
		} else {
			cfg.warnf("SALK_STARLARK_TIMEOUT=%q is not a duration, using %s", v, DefaultStarlarkTimeout)
		}
	}
	if v := os.Getenv("SALK_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		} else {
			cfg.warnf("SALK_BATCH_SIZE=%q is not a positive integer, using %d", v, DefaultBatchSize)
		}
	}
	if v := os.Getenv("SALK_CACHE_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CacheEntries = n
		} else {
			cfg.warnf("SALK_CACHE_ENTRIES=%q is not a non-negative integer, using %d", v, DefaultCacheEntries)
		}
	}
	if cfg.StarlarkMaxSteps == 0 {
		cfg.Warnings = append(cfg.Warnings, "SALK_STARLARK_MAX_STEPS=0 disables the step limit for derivation expressions")
	}

	// Storage fields are optional, only set if present
	cfg.Storage = StorageConfig{
		S3KeyID:          optionalEnv("S3_KEY_ID"),
		S3Secret:         optionalEnv("S3_SECRET"),
		S3Endpoint:       optionalEnv("S3_ENDPOINT"),
		S3Region:         optionalEnv("S3_REGION"),
		GCSKeyFile:       optionalEnv("GCS_KEY_FILE"),
		AzureAccountName: optionalEnv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:  optionalEnv("AZURE_ACCOUNT_KEY"),
	}
	if (cfg.Storage.S3KeyID == nil) != (cfg.Storage.S3Secret == nil) {
		cfg.Warnings = append(cfg.Warnings, "only one of S3_KEY_ID and S3_SECRET is set, s3:// sources are unavailable")
	}

	return cfg, nil
}

func (c *Config) warnf(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func optionalEnv(key string) *string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return &v
	}
	return nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
