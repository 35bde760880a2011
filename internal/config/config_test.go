package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "agentboard.yaml", `
timezone: America/New_York
baseline: "2025-06-01"
live:
  ttl: 30s
  min_interval: 5s
capture:
  at: "23:30"
  policy: replace
store:
  kind: sqlite
  sqlite_path: /tmp/board.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, 30*time.Second, cfg.Live.TTL.Std())
	assert.Equal(t, 5*time.Second, cfg.Live.MinInterval.Std())
	assert.Equal(t, 60*time.Second, cfg.Live.RefreshInterval.Std(), "unset fields keep defaults")
	assert.Equal(t, "replace", cfg.Capture.Policy)
	assert.Equal(t, StoreSqlite, cfg.Store.Kind)

	base, err := cfg.BaselineTime()
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, "2025-06-01 00:00:00 -0400 EDT", base.String())
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "agentboard.toml", `
timezone = "Asia/Tokyo"

[detail]
ttl = "5m"
max = 50

[ranking]
leaderboard_url = "https://example.test/leaderboard"
max_retries = 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Asia/Tokyo", cfg.Timezone)
	assert.Equal(t, 5*time.Minute, cfg.Detail.TTL.Std())
	assert.Equal(t, 50, cfg.Detail.Max)
	assert.Equal(t, "https://example.test/leaderboard", cfg.Ranking.LeaderboardURL)
	assert.Equal(t, 2, cfg.Ranking.MaxRetries)
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "agentboard.json", `{}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "agentboard.yaml", "timezone: Europe/Berlin\n")
	t.Setenv("AGENTBOARD_TIMEZONE", "UTC")
	t.Setenv("AGENTBOARD_LIVE_TTL", "2m")
	t.Setenv("AGENTBOARD_DETAIL_MAX", "7")
	t.Setenv("AGENTBOARD_STORE", "postgres")
	t.Setenv("AGENTBOARD_POSTGRES_DSN", "postgres://localhost/agentboard")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 2*time.Minute, cfg.Live.TTL.Std())
	assert.Equal(t, 7, cfg.Detail.Max)
	assert.Equal(t, StorePostgres, cfg.Store.Kind)
}

func TestLoad_BadEnvDuration(t *testing.T) {
	t.Setenv("AGENTBOARD_ENRICH_DELAY", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "AGENTBOARD_ENRICH_DELAY")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad capture time", func(c *Config) { c.Capture.At = "25:00" }},
		{"bad policy", func(c *Config) { c.Capture.Policy = "merge" }},
		{"bad baseline", func(c *Config) { c.Baseline = "June 1st" }},
		{"negative interval", func(c *Config) { c.Live.MinInterval = Duration(-time.Second) }},
		{"zero ttl", func(c *Config) { c.Live.TTL = 0 }},
		{"postgres without dsn", func(c *Config) { c.Store.Kind = StorePostgres }},
		{"unknown store", func(c *Config) { c.Store.Kind = "redis" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
