package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/selectcast/selectcast/go/internal/registry"
)

// duration wraps time.Duration so YAML values like "90s" parse.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// Config is the server configuration file shape.
type Config struct {
	Catalog struct {
		Items []string `yaml:"items"`
	} `yaml:"catalog"`

	Registry struct {
		Capacity      int      `yaml:"capacity"`
		EvictAfter    duration `yaml:"evict_after"`
		SweepInterval duration `yaml:"sweep_interval"`
	} `yaml:"registry"`

	Relay struct {
		Enabled    bool   `yaml:"enabled"`
		URL        string `yaml:"url"`
		StreamName string `yaml:"stream_name"`
	} `yaml:"relay"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(config.Catalog.Items) == 0 {
		return nil, fmt.Errorf("config %s: catalog.items must not be empty", path)
	}

	return &config, nil
}

// registryConfig merges the file values over the registry defaults.
func (c *Config) registryConfig() registry.Config {
	cfg := registry.DefaultConfig()
	if c.Registry.Capacity > 0 {
		cfg.Capacity = c.Registry.Capacity
	}
	if c.Registry.EvictAfter > 0 {
		cfg.EvictAfter = time.Duration(c.Registry.EvictAfter)
	}
	if c.Registry.SweepInterval > 0 {
		cfg.SweepInterval = time.Duration(c.Registry.SweepInterval)
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
