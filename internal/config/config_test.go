package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/harvester/internal/config"
	"codeberg.org/mutker/harvester/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "harvester.toml")
	err := os.WriteFile(configPath, []byte(content), 0o600)
	require.NoError(t, err)

	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
app_id = "1234"
license_key = "abc"
beacon = "collector.example.com"
transaction_name = "checkout"
max_bytes = 1000
retry_delay = 15
log_level = "debug"
journal = true
journal_db = "/path/to/journal.db"

[intervals]
events = 10

[[obfuscate]]
regex = "secret-[0-9]+"
replacement = "XXX"
`)

	// Set environment variable to point to the test config file
	t.Setenv("HARVESTER_CONFIG", configPath)

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err)

	assert.Equal(t, "1234", cfg.AppID)
	assert.Equal(t, "abc", cfg.LicenseKey)
	assert.Equal(t, "collector.example.com", cfg.Beacon)
	assert.Equal(t, "checkout", cfg.TransactionName)
	assert.Equal(t, 1000, cfg.MaxBytes)
	assert.Equal(t, 15, cfg.RetryDelay)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Journal)
	assert.Equal(t, "/path/to/journal.db", cfg.JournalDB)
	assert.Equal(t, 10, cfg.Interval("events"))
	assert.Equal(t, 60, cfg.Interval("jserrors"), "defaults survive a partial intervals table")
	require.Len(t, cfg.Obfuscate, 1)
	assert.Equal(t, config.ObfuscationRule{Regex: "secret-[0-9]+", Replacement: "XXX"}, cfg.Obfuscate[0])
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HARVESTER_CONFIG", "")

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultBeacon, cfg.Beacon)
	assert.True(t, cfg.SSL)
	assert.True(t, cfg.CookiesEnabled)
	assert.True(t, cfg.XHRUsable)
	assert.True(t, cfg.BeaconSupported)
	assert.Equal(t, config.DefaultMaxBytes, cfg.MaxBytes)
	assert.Equal(t, config.DefaultTooManyRequestsDelay, cfg.TooManyRequestsDelay)
	assert.Equal(t, config.DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, 30, cfg.Interval("ins"))
	assert.False(t, cfg.Journal)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("HARVESTER_CONFIG", configPath)

	_, err := config.Load(config.WithArgs(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "invalid"
`)
	t.Setenv("HARVESTER_CONFIG", configPath)

	_, err := config.Load(config.WithArgs(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")
}

func TestInvalidObfuscationRule(t *testing.T) {
	configPath := writeConfig(t, `
[[obfuscate]]
regex = "("
`)
	t.Setenv("HARVESTER_CONFIG", configPath)

	_, err := config.Load(config.WithArgs(nil))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidRule))
}

func TestInvalidInterval(t *testing.T) {
	configPath := writeConfig(t, `
[intervals]
ins = 0
`)
	t.Setenv("HARVESTER_CONFIG", configPath)

	_, err := config.Load(config.WithArgs(nil))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))
}

func TestLogLevelFlag(t *testing.T) {
	t.Setenv("HARVESTER_CONFIG", "")

	cfg, err := config.Load(config.WithArgs([]string{"--log-level", "debug", "--max-bytes", "512"}))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
	assert.Equal(t, 512, cfg.MaxBytes)
}

func TestEnvOverridesFile(t *testing.T) {
	configPath := writeConfig(t, `
app_id = "from-file"
`)
	t.Setenv("HARVESTER_CONFIG", configPath)
	t.Setenv("HARVESTER_APP_ID", "from-env")

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AppID)
}
