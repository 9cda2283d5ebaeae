// Package config defines the engine's configuration tree and its loader.
// Values come from an optional YAML file overridden by DECISIONFLOW_*
// environment variables; defaults make a bare binary runnable with SQLite
// and no Redis.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig covers the HTTP surface (metrics and health endpoints).
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	// Driver is one of sqlite, mysql, postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig configures the idempotency claim registry. Disabled falls back
// to the in-process registrar.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RuntimeConfig tunes the execution engine.
type RuntimeConfig struct {
	MaxParallelNodes int     `yaml:"max_parallel_nodes"`
	DispatchRate     float64 `yaml:"dispatch_rate"`
	DispatchBurst    int     `yaml:"dispatch_burst"`
}

// TelemetryConfig configures OpenTelemetry export. Disabled keeps the global
// providers noop.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LogConfig selects logger behavior.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches to the console encoder.
	Development bool `yaml:"development"`
}

// Default returns the runnable zero-dependency configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "decisionflow.db",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Runtime: RuntimeConfig{
			MaxParallelNodes: 8,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "decisionflow",
			OTLPEndpoint: "localhost:4317",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("otlp endpoint is required when telemetry is enabled")
	}
	if c.Runtime.MaxParallelNodes < 0 {
		return fmt.Errorf("max_parallel_nodes cannot be negative")
	}
	return nil
}
