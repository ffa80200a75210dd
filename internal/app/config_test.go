package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "https://antifilter.network/download/ip.lst", cfg.Sources.IPListURL)
	assert.Contains(t, cfg.Sources.DomainListURL, "ruleset-domain-refilter_domains.json")
}

func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`configVersion: 0.1.0
app:
  blocklist:
    capacity: 65536
    backend: exec
  sources:
    ipListURL: https://lists.example.com/ips.txt
    fetchTimeout: 10s
  control:
    operatorID: 123456
exclusions:
  - name: keep
    type: wildcard
    rule: "*.example.org"
    enable: true
`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(65536), cfg.Blocklist.Capacity)
	assert.Equal(t, BackendExec, cfg.Blocklist.Backend)
	assert.Equal(t, "blocked_ips", cfg.Blocklist.SetName)
	assert.Equal(t, 10*time.Second, cfg.Sources.FetchTimeout)
	assert.Equal(t, int64(123456), cfg.Control.OperatorID)
	require.Len(t, cfg.Exclusions, 1)
	assert.True(t, cfg.Exclusions[0].IsMatch("cdn.example.org"))
}

func TestLoadConfig_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("configVersion: 2.0.0\n"), 0600))

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrConfigUnsupportedVersion)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Sources.DomainListURL = "https://lists.example.com/domains.json"

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Sources, loaded.Sources)
	assert.Equal(t, cfg.Blocklist, loaded.Blocklist)
}
