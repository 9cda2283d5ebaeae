package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration: defaults, then the YAML file when path is
// non-empty, then DECISIONFLOW_* environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides config fields from the environment. Only the knobs that
// differ per deployment are exposed; everything else stays in the file.
func applyEnv(cfg *Config) {
	envString("DECISIONFLOW_SERVER_ADDR", &cfg.Server.Addr)
	envString("DECISIONFLOW_DB_DRIVER", &cfg.Database.Driver)
	envString("DECISIONFLOW_DB_DSN", &cfg.Database.DSN)
	envBool("DECISIONFLOW_REDIS_ENABLED", &cfg.Redis.Enabled)
	envString("DECISIONFLOW_REDIS_ADDR", &cfg.Redis.Addr)
	envString("DECISIONFLOW_REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("DECISIONFLOW_REDIS_DB", &cfg.Redis.DB)
	envInt("DECISIONFLOW_MAX_PARALLEL_NODES", &cfg.Runtime.MaxParallelNodes)
	envFloat("DECISIONFLOW_DISPATCH_RATE", &cfg.Runtime.DispatchRate)
	envBool("DECISIONFLOW_TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	envString("DECISIONFLOW_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	envString("DECISIONFLOW_LOG_LEVEL", &cfg.Log.Level)
	envBool("DECISIONFLOW_LOG_DEVELOPMENT", &cfg.Log.Development)
	envDuration("DECISIONFLOW_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
