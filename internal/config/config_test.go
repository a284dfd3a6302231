package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
exchange:
  active_source: gemini
  sources:
    - name: gemini
      enabled: true
      api_key: key
      api_secret: secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.Manager.TickInterval)
	assert.Equal(t, 4, cfg.Manager.Workers)
	assert.Equal(t, 30*time.Second, cfg.Manager.TickTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Breaker.Window)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Breaker.Cooldown)
	assert.Equal(t, 2*time.Hour, cfg.Breaker.MaxCooldown)
	assert.Equal(t, "data/helmsman.db", cfg.Store.Path)
	assert.Equal(t, "configs/strategies.yaml", cfg.Strategies.SchemaFile)

	src := cfg.Exchange.ResolveActiveSource()
	assert.Equal(t, "gemini", src.Name)
	assert.Equal(t, 15*time.Second, src.HTTPTimeout)
	assert.Equal(t, 3, src.MaxAttempts)
	assert.Equal(t, 5.0, src.RequestsPerSecond)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig+`
manager:
  tick_interval: 5s
  tick_timeout: 45s
breaker:
  cooldown: 2m
  max_cooldown: 1h
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Manager.TickInterval)
	assert.Equal(t, 45*time.Second, cfg.Manager.TickTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Breaker.Cooldown)
	assert.Equal(t, time.Hour, cfg.Breaker.MaxCooldown)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secrets.yaml", `
exchange:
  sources:
    - name: gemini
      enabled: true
      api_key: real-key
      api_secret: real-secret
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - secrets.yaml
app:
  log_level: debug
exchange:
  active_source: gemini
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "real-key", cfg.Exchange.ResolveActiveSource().APIKey)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no sources",
			content: "app:\n  log_level: info\n",
			wantErr: "exchange.sources",
		},
		{
			name: "unknown exchange",
			content: `
exchange:
  active_source: kraken
  sources:
    - name: kraken
      enabled: true
      api_key: k
      api_secret: s
`,
			wantErr: "not supported",
		},
		{
			name: "missing credentials",
			content: `
exchange:
  active_source: gemini
  sources:
    - name: gemini
      enabled: true
`,
			wantErr: "api_key",
		},
		{
			name:    "bad log level",
			content: minimalConfig + "app:\n  log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "workers out of range",
			content: minimalConfig + "manager:\n  workers: 100\n",
			wantErr: "manager.workers",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestExplicitZeroSurvivesDefaults(t *testing.T) {
	// An operator writing workers: 0 should see the validation error, not
	// a silently applied default.
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig+"manager:\n  workers: 0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manager.workers")
}
