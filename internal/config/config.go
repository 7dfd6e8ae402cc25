package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Hub    HubConfig    `yaml:"hub"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type HubConfig struct {
	// BatchInterval is the flush period for non-critical outbound events.
	BatchInterval time.Duration `yaml:"batch_interval"`
	// QueueCapacity is the per-client outbound queue depth.
	QueueCapacity int `yaml:"queue_capacity"`
	// MaxConnections caps total clients; 0 means unlimited.
	MaxConnections int `yaml:"max_connections"`
	// AllowedOrigins is an explicit Origin allow-list. Empty means
	// same-host plus localhost.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// PaidPlans are the plan tiers allowed to use collaboration.
	PaidPlans []string `yaml:"paid_plans"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Hub: HubConfig{
			BatchInterval:  150 * time.Millisecond,
			QueueCapacity:  256,
			MaxConnections: 0,
			PaidPlans:      []string{"pro", "enterprise"},
		},
	}
}

// Load reads path into a Config on top of the defaults, so a partial file
// only overrides what it names.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Hub.BatchInterval <= 0 {
		return fmt.Errorf("config: batch_interval must be positive, got %s", c.Hub.BatchInterval)
	}
	if c.Hub.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue_capacity must be positive, got %d", c.Hub.QueueCapacity)
	}
	if c.Hub.MaxConnections < 0 {
		return fmt.Errorf("config: max_connections must not be negative, got %d", c.Hub.MaxConnections)
	}
	if len(c.Hub.PaidPlans) == 0 {
		return fmt.Errorf("config: paid_plans must not be empty")
	}
	return nil
}
