package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"short", "abc", "****"},
		{"exactly_10", "1234567890", "****"},
		{"long_secret", "wJalrXUtnFEMI/K7MDENG", "wJal****DENG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskSecret(tt.input))
		})
	}
}

func TestMaskConfig(t *testing.T) {
	cfg := &UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {
				S3KeyID:         "AKIAEXAMPLE",
				S3Secret:        "wJalrXUtnFEMI/K7MDENG",
				AzureAccountKey: "azure-account-key-value",
			},
		},
	}

	masked := maskConfig(cfg)

	assert.Equal(t, "AKIAEXAMPLE", masked.Profiles["default"].S3KeyID)
	assert.Equal(t, "wJal****DENG", masked.Profiles["default"].S3Secret)
	assert.Equal(t, "azur****alue", masked.Profiles["default"].AzureAccountKey)
	assert.Equal(t, "wJalrXUtnFEMI/K7MDENG", cfg.Profiles["default"].S3Secret, "original not mutated")
}

func TestConfigShow_TableOutput(t *testing.T) {
	isolate(t)
	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {Output: "table", S3KeyID: "id", S3Secret: "wJalrXUtnFEMI/K7MDENG"},
			"ci":      {Output: "json"},
		},
	}))

	output, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, output, "PROFILE")
	assert.Contains(t, output, "ACTIVE")
	assert.Contains(t, output, "STORAGE")
	assert.Contains(t, output, "s3")
	assert.NotContains(t, output, "wJalrXUtnFEMI", "secrets never reach the table")
}

func TestConfigShow_JSONMasks(t *testing.T) {
	isolate(t)
	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles:       map[string]Profile{"default": {S3Secret: "wJalrXUtnFEMI/K7MDENG"}},
	}))

	output, err := runCLI(t, "config", "show", "--output", "json")
	require.NoError(t, err)
	var got UserConfig
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, "wJal****DENG", got.Profiles["default"].S3Secret)

	output, err = runCLI(t, "config", "show", "--output", "json", "--reveal")
	require.NoError(t, err)
	assert.Contains(t, output, "wJalrXUtnFEMI/K7MDENG")
}

func TestConfigSetAndUseProfile(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "config", "set-profile", "--name", "ci", "--output", "json", "--s3-region", "eu-north-1")
	require.NoError(t, err)
	_, err = runCLI(t, "config", "set-profile", "--name", "ci", "--log-level", "debug")
	require.NoError(t, err)

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, Profile{Output: "json", LogLevel: "debug", S3Region: "eu-north-1"}, cfg.Profiles["ci"],
		"later calls only change the flags they set")

	_, err = runCLI(t, "config", "set-profile", "--name", "bad", "--output", "yaml")
	require.Error(t, err)

	_, err = runCLI(t, "config", "use-profile", "missing")
	require.EqualError(t, err, `profile "missing" not found`)

	output, err := runCLI(t, "config", "use-profile", "ci")
	require.NoError(t, err)
	assert.Contains(t, output, `Active profile set to "ci"`)

	output, err = runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, `"version": "dev"`, "the active ci profile selects json output")

	cfg, err = LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, "ci", cfg.CurrentProfile)
}
