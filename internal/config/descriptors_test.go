package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatfeed/pkg/record"
)

const sampleDescriptors = `
sources:
  - name: nvd
    enabled: true
    type: http
    base_url: https://services.nvd.nist.gov/rest/json/cves/2.0
    since_param: lastModStartDate
    api_key_ref: env:NVD_API_KEY
    api_key_param: apiKey
    strategy:
      merge_fields: true
      keep_highest_authority: true
      aggregate_scores: true
      preserve_all_sources: true
  - name: otx
    enabled: false
    type: http
    authority_weight: 15
`

func writeDescriptors(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDescriptors_ParsesSources(t *testing.T) {
	path := writeDescriptors(t, sampleDescriptors)
	d, err := LoadDescriptors(path)
	require.NoError(t, err)
	require.Len(t, d.Sources, 2)
	assert.Equal(t, "nvd", d.Sources[0].Name)
	assert.Equal(t, "env:NVD_API_KEY", d.Sources[0].APIKeyRef)
	require.NotNil(t, d.Sources[0].Strategy, "nvd carries its own merge strategy, per pipeline.py's per-source DuplicateStrategy")
	assert.True(t, d.Sources[0].Strategy.MergeFields)
	assert.Nil(t, d.Sources[1].Strategy, "a descriptor with no strategy block falls back to the orchestrator default")
}

func TestDescriptors_Enabled_FiltersDisabled(t *testing.T) {
	path := writeDescriptors(t, sampleDescriptors)
	d, err := LoadDescriptors(path)
	require.NoError(t, err)

	enabled := d.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "nvd", enabled[0].Name)
}

func TestApplyAuthorityOverrides_SetsAndClears(t *testing.T) {
	defer record.SetAuthorityOverrides(nil)

	path := writeDescriptors(t, sampleDescriptors)
	d, err := LoadDescriptors(path)
	require.NoError(t, err)

	ApplyAuthorityOverrides(d)
	assert.Equal(t, 15, record.AuthorityOf("otx"))

	ApplyAuthorityOverrides(&Descriptors{})
	assert.Equal(t, 7, record.AuthorityOf("otx"), "clearing descriptors reverts to compiled-in table")
}
