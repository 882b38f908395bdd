// Package config loads the service configuration from config/formflow.yaml
// with environment overrides, falling back to defaults when the file is
// absent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// UpstreamConfig configures the catalog/validation/fee API client.
type UpstreamConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// Timeout returns the configured client timeout.
func (c UpstreamConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RedisConfig configures the catalog cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig configures the submission audit store. An empty DSN
// falls back to the in-memory store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// PipelineConfig configures pipeline timing.
type PipelineConfig struct {
	DebounceDelayMS  int    `yaml:"debounce_delay_ms"`
	RefreshSchedule  string `yaml:"refresh_schedule"`
	EventBufferSize  int    `yaml:"event_buffer_size"`
}

// DebounceDelay returns the configured debounce delay.
func (c PipelineConfig) DebounceDelay() time.Duration {
	if c.DebounceDelayMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.DebounceDelayMS) * time.Millisecond
}

// RateLimitConfig configures per-session request limiting on the
// validation-heavy endpoints.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8090"},
		Upstream: UpstreamConfig{BaseURL: "http://localhost:9000", TimeoutMS: 30000},
		Pipeline: PipelineConfig{
			DebounceDelayMS: 500,
			RefreshSchedule: "@every 5m",
			EventBufferSize: 1000,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
	}
}

// Load reads config/formflow.yaml relative to the working directory.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "formflow.yaml"))
}

// LoadFromPath reads the configuration from a specific path and applies
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream.base_url is required")
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration or returns defaults (with env
// overrides) when the file is missing.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = Default()
		cfg.applyEnv()
	}
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FORMFLOW_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FORMFLOW_UPSTREAM_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("FORMFLOW_UPSTREAM_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv("FORMFLOW_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("FORMFLOW_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("FORMFLOW_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Pipeline.DebounceDelayMS = ms
		}
	}
	if v := os.Getenv("FORMFLOW_REFRESH_SCHEDULE"); v != "" {
		c.Pipeline.RefreshSchedule = v
	}
}
