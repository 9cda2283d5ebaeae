package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 8, cfg.Runtime.MaxParallelNodes)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  shutdown_timeout: 30s
database:
  driver: postgres
  dsn: "host=db user=flow dbname=flow"
runtime:
  max_parallel_nodes: 16
  dispatch_rate: 50
log:
  level: debug
  development: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 16, cfg.Runtime.MaxParallelNodes)
	assert.Equal(t, float64(50), cfg.Runtime.DispatchRate)
	assert.True(t, cfg.Log.Development)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 100, cfg.Database.MaxOpenConns)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
`)
	t.Setenv("DECISIONFLOW_SERVER_ADDR", ":7070")
	t.Setenv("DECISIONFLOW_DB_DSN", "override.db")
	t.Setenv("DECISIONFLOW_REDIS_ENABLED", "true")
	t.Setenv("DECISIONFLOW_MAX_PARALLEL_NODES", "32")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr, "environment wins over the file")
	assert.Equal(t, "override.db", cfg.Database.DSN)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 32, cfg.Runtime.MaxParallelNodes)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "unsupported driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "dsn is required",
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
			wantErr: "redis addr is required",
		},
		{
			name: "telemetry enabled without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.OTLPEndpoint = ""
			},
			wantErr: "otlp endpoint is required",
		},
		{
			name:    "negative parallelism",
			mutate:  func(c *Config) { c.Runtime.MaxParallelNodes = -1 },
			wantErr: "max_parallel_nodes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
