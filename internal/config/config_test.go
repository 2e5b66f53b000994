package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "$", cfg.Discord.Prefix)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Store.FlushEvery)
	assert.Equal(t, 30*time.Second, cfg.Store.FlushInterval)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.Platform.LookupTimeout)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spike.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
discord:
  prefix: "!"
store:
  flush_every: 2
  flush_interval: 1m
log:
  level: debug
`), 0o644))
	t.Setenv("SPIKE_DISCORD_TOKEN", "secret")
	t.Setenv("SPIKE_STORE_FLUSH_EVERY", "9")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "!", cfg.Discord.Prefix)
	assert.Equal(t, "secret", cfg.Discord.Token)
	assert.Equal(t, 9, cfg.Store.FlushEvery)
	assert.Equal(t, time.Minute, cfg.Store.FlushInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Store.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SPIKE_LOG_LEVEL", "loud")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Store.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg.Database.URL = "postgres://localhost/spike"
	assert.NoError(t, cfg.Validate())
}
