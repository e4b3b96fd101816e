package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2500*time.Millisecond, cfg.Playback.Interval)
	assert.Equal(t, "", cfg.Catalog.DataFile)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("CORRIDORSIM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("CORRIDORSIM_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("CORRIDORSIM_AUTOPLAY_INTERVAL", "500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Playback.Interval)
	assert.Equal(t, 1000, cfg.Journal.MaxEntries)
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  http_addr: ":7070"
catalog:
  default_corridor: gbp-jpy
playback:
  interval: 1s
cache:
  enabled: true
  ttl: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	t.Setenv("CORRIDORSIM_CONFIG", path)
	t.Setenv("CORRIDORSIM_DATA_FILE", "/tmp/corridors.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.HTTPAddr)
	assert.Equal(t, "gbp-jpy", cfg.Catalog.DefaultCorridor)
	assert.Equal(t, time.Second, cfg.Playback.Interval)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "/tmp/corridors.yaml", cfg.Catalog.DataFile)
	// untouched sections keep their defaults
	assert.Equal(t, 1000, cfg.Server.MaxSessions)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestBadIntervalOverride(t *testing.T) {
	t.Setenv("CORRIDORSIM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("CORRIDORSIM_AUTOPLAY_INTERVAL", "soon")

	_, err := Load()
	assert.ErrorContains(t, err, "CORRIDORSIM_AUTOPLAY_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"no sessions", func(c *Config) { c.Server.MaxSessions = 0 }, "server.max_sessions"},
		{"zero interval", func(c *Config) { c.Playback.Interval = 0 }, "playback.interval"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"journal", func(c *Config) { c.Journal.MaxEntries = -1 }, "journal.max_entries"},
		{"tracing endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Endpoint = "" }, "tracing.endpoint"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "tracing.sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	cfg.Cache.Enabled = false
	cfg.Cache.TTL = 0
	assert.NoError(t, cfg.Validate())
}
