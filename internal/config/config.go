// Package config loads and watches the service configuration: a YAML file
// merged with CREDPOOL_* environment overrides, validated, and hot-reloaded
// for the tunables that are safe to change at runtime.
package config

import (
	"fmt"
	"strings"

	"credpool-go/internal/storage"
)

// Config is the full service configuration.
type Config struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	ManagementKey string `yaml:"management_key"`

	// MasterKey is the encryption master secret; at least 32 bytes.
	MasterKey string `yaml:"master_key"`

	Storage StorageConfig `yaml:"storage"`

	// ProxyURL routes provider probes through a forward proxy.
	ProxyURL string `yaml:"proxy_url"`

	ProbeTimeoutSec   int     `yaml:"probe_timeout_sec"`
	ImportConcurrency int     `yaml:"import_concurrency"`
	SweepConcurrency  int     `yaml:"sweep_concurrency"`
	SweepCooldownMin  int     `yaml:"sweep_cooldown_min"`
	SweepIntervalMin  int     `yaml:"sweep_interval_min"`
	SweepTimeoutMin   int     `yaml:"sweep_timeout_min"`
	ProbeRatePerSec   float64 `yaml:"probe_rate_per_sec"`

	// RequestRatePerSec caps management API requests per client.
	RequestRatePerSec float64 `yaml:"request_rate_per_sec"`
	RequestBurst      int     `yaml:"request_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"
	LogFile   string `yaml:"log_file"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              8317,
		Storage:           StorageConfig{Backend: "memory"},
		ProbeTimeoutSec:   15,
		ImportConcurrency: 5,
		SweepConcurrency:  5,
		SweepCooldownMin:  24 * 60,
		SweepIntervalMin:  60,
		SweepTimeoutMin:   30,
		RequestRatePerSec: 20,
		RequestBurst:      40,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if len(c.MasterKey) < 32 {
		return fmt.Errorf("master_key must be at least 32 bytes")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "", "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires postgres_dsn")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis backend requires redis_addr")
		}
	case "mongodb":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("mongodb backend requires mongo_uri")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.ImportConcurrency < 1 || c.SweepConcurrency < 1 {
		return fmt.Errorf("concurrency limits must be positive")
	}
	if c.SweepCooldownMin < 1 {
		return fmt.Errorf("sweep_cooldown_min must be positive")
	}
	if c.SweepTimeoutMin < 0 {
		return fmt.Errorf("sweep_timeout_min must not be negative")
	}
	return nil
}

// StorageSettings converts the YAML shape into the storage factory config.
func (c *Config) StorageSettings() storage.Config {
	return storage.Config{
		Backend:       strings.ToLower(c.Storage.Backend),
		PostgresDSN:   c.Storage.PostgresDSN,
		RedisAddr:     c.Storage.RedisAddr,
		RedisPassword: c.Storage.RedisPassword,
		RedisDB:       c.Storage.RedisDB,
		RedisPrefix:   c.Storage.RedisPrefix,
		MongoURI:      c.Storage.MongoURI,
		MongoDatabase: c.Storage.MongoDatabase,
	}
}
