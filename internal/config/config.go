package config

import (
	"errors"
)

// Config represents the synchronization engine configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig represents the PostgreSQL dataset store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// SyncConfig represents the synchronization run configuration
type SyncConfig struct {
	// HashWorkspace holds the per-pair hash index tables
	HashWorkspace string `mapstructure:"hash_workspace"`
	// ScratchWorkspace holds temporary reprojection datasets
	ScratchWorkspace string `mapstructure:"scratch_workspace"`
	// Manifest is the path to the YAML dataset pairs manifest
	Manifest string `mapstructure:"manifest"`
	// Workers bounds how many independent pairs run concurrently
	Workers int `mapstructure:"workers"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return errors.New("database.port must be between 1 and 65535")
	}
	if c.Database.Database == "" {
		return errors.New("database.database is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Sync.HashWorkspace == "" {
		return errors.New("sync.hash_workspace is required")
	}
	if c.Sync.ScratchWorkspace == "" {
		return errors.New("sync.scratch_workspace is required")
	}
	if c.Sync.Manifest == "" {
		return errors.New("sync.manifest is required")
	}
	if c.Sync.Workers <= 0 {
		return errors.New("sync.workers must be positive")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "forklift",
			User:           "forklift",
			Password:       "",
			MaxConnections: 10,
			MinConnections: 2,
		},
		Sync: SyncConfig{
			HashWorkspace:    "forklift_hashes",
			ScratchWorkspace: "forklift_scratch",
			Manifest:         "./pairs.yaml",
			Workers:          4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
