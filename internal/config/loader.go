package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the config file at path (optional), merges CREDPOOL_* environment
// overrides on top, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	mergeEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeEnv(cfg *Config) {
	if v := os.Getenv("CREDPOOL_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("CREDPOOL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("CREDPOOL_MANAGEMENT_KEY"); v != "" {
		cfg.ManagementKey = v
	}
	if v := os.Getenv("CREDPOOL_MASTER_KEY"); v != "" {
		cfg.MasterKey = v
	}
	if v := os.Getenv("CREDPOOL_PROXY_URL"); v != "" {
		cfg.ProxyURL = v
	}
	if v := os.Getenv("CREDPOOL_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CREDPOOL_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CREDPOOL_REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("CREDPOOL_REDIS_PASSWORD"); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := os.Getenv("CREDPOOL_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.RedisDB = n
		}
	}
	if v := os.Getenv("CREDPOOL_MONGO_URI"); v != "" {
		cfg.Storage.MongoURI = v
	}
	if v := os.Getenv("CREDPOOL_MONGO_DATABASE"); v != "" {
		cfg.Storage.MongoDatabase = v
	}
	if v := os.Getenv("CREDPOOL_PROBE_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProbeTimeoutSec = n
		}
	}
	if v := os.Getenv("CREDPOOL_IMPORT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ImportConcurrency = n
		}
	}
	if v := os.Getenv("CREDPOOL_SWEEP_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepConcurrency = n
		}
	}
	if v := os.Getenv("CREDPOOL_SWEEP_COOLDOWN_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepCooldownMin = n
		}
	}
	if v := os.Getenv("CREDPOOL_SWEEP_INTERVAL_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepIntervalMin = n
		}
	}
	if v := os.Getenv("CREDPOOL_SWEEP_TIMEOUT_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepTimeoutMin = n
		}
	}
	if v := os.Getenv("CREDPOOL_PROBE_RATE_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ProbeRatePerSec = f
		}
	}
	if v := os.Getenv("CREDPOOL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CREDPOOL_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CREDPOOL_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}
