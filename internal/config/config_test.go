package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "forklift_hashes", cfg.Sync.HashWorkspace)
	assert.Equal(t, "forklift_scratch", cfg.Sync.ScratchWorkspace)
	assert.Equal(t, 4, cfg.Sync.Workers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"bad port", func(c *Config) { c.Database.Port = 0 }, "database.port"},
		{"port too high", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"missing database", func(c *Config) { c.Database.Database = "" }, "database.database"},
		{"missing user", func(c *Config) { c.Database.User = "" }, "database.user"},
		{"missing hash workspace", func(c *Config) { c.Sync.HashWorkspace = "" }, "hash_workspace"},
		{"missing scratch workspace", func(c *Config) { c.Sync.ScratchWorkspace = "" }, "scratch_workspace"},
		{"missing manifest", func(c *Config) { c.Sync.Manifest = "" }, "manifest"},
		{"zero workers", func(c *Config) { c.Sync.Workers = 0 }, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateFillsLoggingDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = ""
	cfg.Logging.Format = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  host: db.example.com
  port: 5433
  database: gisdata
  user: loader
sync:
  hash_workspace: hashes
  scratch_workspace: scratch
  manifest: /etc/forklift/pairs.yaml
  workers: 8
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "gisdata", cfg.Database.Database)
	assert.Equal(t, "hashes", cfg.Sync.HashWorkspace)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// sections absent from the file keep their defaults
	assert.Equal(t, 10, cfg.Database.MaxConnections)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_HOST", "override-host")
	t.Setenv("DATABASE_PORT", "6543")
	t.Setenv("DATABASE_PASSWORD", "hunter2")
	t.Setenv("PAIRS_MANIFEST", "/srv/pairs.yaml")
	t.Setenv("SYNC_WORKERS", "2")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "override-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "/srv/pairs.yaml", cfg.Sync.Manifest)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvironmentOverrideIgnoresBadNumbers(t *testing.T) {
	t.Setenv("DATABASE_PORT", "not-a-port")
	t.Setenv("SYNC_WORKERS", "many")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 4, cfg.Sync.Workers)
}
