package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rrebane/salk-toolkit/internal/config"
)

// UserConfig represents ~/.salk/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile" json:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles" json:"profiles"`
}

// Profile represents a single named configuration profile. Storage fields
// apply only when the matching environment variable is unset.
type Profile struct {
	Output   string `yaml:"output,omitempty" json:"output,omitempty"`
	LogLevel string `yaml:"log-level,omitempty" json:"log-level,omitempty"`
	TempDir  string `yaml:"temp-dir,omitempty" json:"temp-dir,omitempty"`

	S3KeyID    string `yaml:"s3-key-id,omitempty" json:"s3-key-id,omitempty"`
	S3Secret   string `yaml:"s3-secret,omitempty" json:"s3-secret,omitempty"`
	S3Endpoint string `yaml:"s3-endpoint,omitempty" json:"s3-endpoint,omitempty"`
	S3Region   string `yaml:"s3-region,omitempty" json:"s3-region,omitempty"`

	GCSKeyFile string `yaml:"gcs-key-file,omitempty" json:"gcs-key-file,omitempty"`

	AzureAccountName string `yaml:"azure-account-name,omitempty" json:"azure-account-name,omitempty"`
	AzureAccountKey  string `yaml:"azure-account-key,omitempty" json:"azure-account-key,omitempty"`
}

// ActiveProfile returns the profile to use based on the override or
// current-profile. Only an explicitly requested profile must exist.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	if override != "" {
		p, ok := c.Profiles[override]
		if !ok {
			return Profile{}, fmt.Errorf("profile %q not found", override)
		}
		return p, nil
	}
	return c.Profiles[c.CurrentProfile], nil
}

// backends lists the remote storage schemes the profile has credentials for.
func (p Profile) backends() []string {
	var out []string
	if p.S3KeyID != "" && p.S3Secret != "" {
		out = append(out, "s3")
	}
	if p.GCSKeyFile != "" {
		out = append(out, "gcs")
	}
	if p.AzureAccountName != "" && p.AzureAccountKey != "" {
		out = append(out, "azure")
	}
	return out
}

// apply fills configuration the environment left unset.
func (p Profile) apply(cfg *config.Config) {
	if os.Getenv("LOG_LEVEL") == "" && p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if os.Getenv("SALK_TEMP_DIR") == "" && p.TempDir != "" {
		cfg.TempDir = p.TempDir
	}
	fill := func(dst **string, v string) {
		if *dst == nil && v != "" {
			*dst = &v
		}
	}
	s := &cfg.Storage
	fill(&s.S3KeyID, p.S3KeyID)
	fill(&s.S3Secret, p.S3Secret)
	fill(&s.S3Endpoint, p.S3Endpoint)
	fill(&s.S3Region, p.S3Region)
	fill(&s.GCSKeyFile, p.GCSKeyFile)
	fill(&s.AzureAccountName, p.AzureAccountName)
	fill(&s.AzureAccountKey, p.AzureAccountKey)
}

// ConfigDir returns the path to ~/.salk/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".salk")
}

// ConfigPath returns the path to ~/.salk/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads ~/.salk/config.yaml.
func LoadUserConfig() (*UserConfig, error) {
	path := ConfigPath()
	data, err := os.ReadFile(path) //nolint:gosec // fixed location under the home directory
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// SaveUserConfig writes ~/.salk/config.yaml.
func SaveUserConfig(cfg *UserConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}
