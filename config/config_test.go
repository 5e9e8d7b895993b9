package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiuytgh/leasecore/config"
)

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: no config file and no environment overrides
	// WHEN: loading
	// THEN: defaults apply and validate

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "./data/leasecore.db", cfg.Database.Path)
	assert.Equal(t, 24*time.Hour, cfg.DedupWindow())
	assert.Equal(t, 30*24*time.Hour, cfg.ExpiringHorizon())
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
notify:
  dedup_window_hours: 48
logger:
  level: debug
  format: console
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 48*time.Hour, cfg.DedupWindow())
	assert.Equal(t, "debug", cfg.Logger.Level)
	// Untouched knobs keep their defaults
	assert.Equal(t, "./data/leasecore.db", cfg.Database.Path)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
notify:
  dedup_window_hours: 0
`), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: verbose
`), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}
