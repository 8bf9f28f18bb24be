// Package config loads the engine configuration from YAML with environment
// variable overrides for deployment secrets.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the outreach engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Queue       QueueConfig       `yaml:"queue"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Webhooks    WebhooksConfig    `yaml:"webhooks"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection settings backing the delivery
// queue, distributed locks, and the shared capacity counters.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SweepConfig controls the campaign sweep worker.
type SweepConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// QueueConfig controls the delivery queue retention and recovery.
type QueueConfig struct {
	KeepCompleted        int `yaml:"keep_completed"`
	KeepFailed           int `yaml:"keep_failed"`
	ClaimTimeoutSeconds  int `yaml:"claim_timeout_seconds"`
	RecoveryIntervalSecs int `yaml:"recovery_interval_seconds"`
}

// MaintenanceConfig controls the account maintenance worker.
type MaintenanceConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

// WebhooksConfig controls outbound event notifications.
type WebhooksConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file if present first, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Sweep.IntervalSeconds == 0 {
		c.Sweep.IntervalSeconds = 30
	}
	if c.Queue.KeepCompleted == 0 {
		c.Queue.KeepCompleted = 1000
	}
	if c.Queue.KeepFailed == 0 {
		c.Queue.KeepFailed = 5000
	}
	if c.Queue.ClaimTimeoutSeconds == 0 {
		c.Queue.ClaimTimeoutSeconds = 300
	}
	if c.Queue.RecoveryIntervalSecs == 0 {
		c.Queue.RecoveryIntervalSecs = 120
	}
	if c.Maintenance.IntervalMinutes == 0 {
		c.Maintenance.IntervalMinutes = 5
	}
}

// SweepInterval returns the sweep cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalSeconds) * time.Second
}

// ClaimTimeout returns the queue visibility timeout as a duration.
func (c *Config) ClaimTimeout() time.Duration {
	return time.Duration(c.Queue.ClaimTimeoutSeconds) * time.Second
}

// RecoveryInterval returns the queue recovery cadence as a duration.
func (c *Config) RecoveryInterval() time.Duration {
	return time.Duration(c.Queue.RecoveryIntervalSecs) * time.Second
}

// MaintenanceInterval returns the account maintenance cadence as a duration.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Maintenance.IntervalMinutes) * time.Minute
}
