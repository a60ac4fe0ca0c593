package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dataDir string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: ` + dataDir + `
metrics:
  enabled: false
api:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeTestDescriptors(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	content := `
sources:
  - name: kev
    enabled: true
    type: static
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNew_WiresComponentsAndRunsCycle(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeTestConfig(t, dataDir)
	descriptorsPath := writeTestDescriptors(t)

	a, err := New(configPath, descriptorsPath)
	require.NoError(t, err)

	stats := a.RunCycle()
	assert.NotZero(t, stats.StartedAt)
	assert.Equal(t, 0, stats.TotalUnique, "the static stub source has no records by default")
}

func TestNew_MissingDescriptorsFileFails(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeTestConfig(t, dataDir)

	_, err := New(configPath, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
