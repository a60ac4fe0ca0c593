package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "threatfeed", cfg.App.Name)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 3, cfg.MaxConcurrentSources)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/threatfeed
max_concurrent_sources: 5
app:
  log_level: debug
  log_format: json
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/threatfeed", cfg.DataDir)
	assert.Equal(t, 5, cfg.MaxConcurrentSources)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	t.Setenv("THREATFEED_LOG_LEVEL", "warn")
	t.Setenv("THREATFEED_MAX_CONCURRENT_SOURCES", "7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.App.LogLevel)
	assert.Equal(t, 7, cfg.MaxConcurrentSources)
}

func TestLoadConfig_InvalidLogLevelFails(t *testing.T) {
	t.Setenv("THREATFEED_LOG_LEVEL", "not-a-level")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfig_ZeroConcurrencyOverrideIsIgnored(t *testing.T) {
	t.Setenv("THREATFEED_MAX_CONCURRENT_SOURCES", "0")
	cfg, err := LoadConfig("")
	require.NoError(t, err) // env override of 0 is ignored, default (3) applies
	assert.Equal(t, 3, cfg.MaxConcurrentSources)
}
