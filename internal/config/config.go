package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Vendor  VendorConfig  `json:"vendor"`
	Poller  PollerConfig  `json:"poller"`
	Probe   ProbeConfig   `json:"probe"`
	API     APIConfig     `json:"api"`
	Storage StorageConfig `json:"storage"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

type VendorConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	APISecret      string `json:"api_secret"`
	APIKeyEnv      string `json:"api_key_env"`
	APISecretEnv   string `json:"api_secret_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type PollerConfig struct {
	IntervalSeconds int               `json:"interval_seconds"`
	ProxyNames      map[string]string `json:"proxy_names"`
	EnabledSensors  []string          `json:"enabled_sensors"`
}

type ProbeConfig struct {
	Enabled     bool   `json:"enabled"`
	Mode        string `json:"mode"` // "connect-only" or "full-http"
	TimeoutMs   int    `json:"timeout_ms"`
	Concurrency int    `json:"concurrency"`
	TestURL     string `json:"test_url"`
}

type APIConfig struct {
	Addr               string `json:"addr"`
	APIKeyEnv          string `json:"api_key_env"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	EnableAPIKeyAuth   bool   `json:"enable_api_key_auth"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit"`
}

type StorageConfig struct {
	Type string `json:"type"` // "file", "sqlite", "redis"
	Path string `json:"path"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Namespace string `json:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads configuration from JSON file
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Vendor.TimeoutSeconds == 0 {
		c.Vendor.TimeoutSeconds = 30
	}
	if c.Vendor.APIKey == "" && c.Vendor.APIKeyEnv != "" {
		c.Vendor.APIKey = os.Getenv(c.Vendor.APIKeyEnv)
	}
	if c.Vendor.APISecret == "" && c.Vendor.APISecretEnv != "" {
		c.Vendor.APISecret = os.Getenv(c.Vendor.APISecretEnv)
	}
	if c.Poller.IntervalSeconds == 0 {
		c.Poller.IntervalSeconds = 300
	}
	if c.Poller.ProxyNames == nil {
		c.Poller.ProxyNames = map[string]string{}
	}
	if c.Probe.Mode == "" {
		c.Probe.Mode = "connect-only"
	}
	if c.Probe.TimeoutMs == 0 {
		c.Probe.TimeoutMs = 10000
	}
	if c.Probe.Concurrency == 0 {
		c.Probe.Concurrency = 4
	}
	if c.Probe.TestURL == "" {
		c.Probe.TestURL = "https://www.google.com/generate_204"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8084"
	}
	if c.API.RateLimitPerMinute == 0 {
		c.API.RateLimitPerMinute = 600
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "/data/snapshot.json"
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "proxycheap"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Vendor.APIKey == "" || c.Vendor.APISecret == "" {
		return fmt.Errorf("vendor api_key and api_secret are required")
	}
	if c.Poller.IntervalSeconds < 60 || c.Poller.IntervalSeconds > 3600 {
		return fmt.Errorf("poller interval_seconds must be between 60 and 3600")
	}
	if c.Vendor.TimeoutSeconds < 1 || c.Vendor.TimeoutSeconds > 300 {
		return fmt.Errorf("vendor timeout_seconds must be between 1 and 300")
	}
	if c.Probe.Mode != "connect-only" && c.Probe.Mode != "full-http" {
		return fmt.Errorf("probe mode must be 'connect-only' or 'full-http'")
	}
	if c.Storage.Type != "file" && c.Storage.Type != "sqlite" && c.Storage.Type != "redis" {
		return fmt.Errorf("storage type must be 'file', 'sqlite', or 'redis'")
	}
	return nil
}
