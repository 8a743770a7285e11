// Package config provides configuration loading and management for Awardflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Awardflow configuration
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Index      IndexConfig      `yaml:"index"`
	Resolution ResolutionConfig `yaml:"resolution"`
	NATS       NATSConfig       `yaml:"nats"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// ModelConfig configures the completion service settings
type ModelConfig struct {
	// RegistryFile is an optional JSON file overriding the built-in
	// capability-to-model registry
	RegistryFile string `yaml:"registry_file"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// GatewayConfig configures the clause graph gateway
type GatewayConfig struct {
	// URL is the GraphQL gateway base URL
	URL string `yaml:"url"`
	// Timeout bounds a single gateway request
	Timeout time.Duration `yaml:"timeout"`
}

// IndexConfig configures the candidate-instrument index
type IndexConfig struct {
	// Path is the JSON index file mapping industries to instruments
	Path string `yaml:"path"`
}

// ResolutionConfig configures clause reference resolution
type ResolutionConfig struct {
	// Transitive follows references of referenced clauses until the set
	// stops growing; false resolves one hop only
	Transitive bool `yaml:"transitive"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
}

// HTTPConfig configures the enrichment API surface
type HTTPConfig struct {
	// Prefix is the path prefix all endpoints are served under
	Prefix string `yaml:"prefix"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			RegistryFile: "",
			Temperature:  0.2,
			Timeout:      5 * time.Minute,
		},
		Gateway: GatewayConfig{
			URL:     "http://localhost:8686",
			Timeout: 30 * time.Second,
		},
		Index: IndexConfig{
			Path: "awards.json",
		},
		Resolution: ResolutionConfig{
			Transitive: false,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		HTTP: HTTPConfig{
			Prefix: "/api/v1",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Index.Path == "" {
		return fmt.Errorf("index.path is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.HTTP.Prefix != "" && !strings.HasPrefix(c.HTTP.Prefix, "/") {
		return fmt.Errorf("http.prefix must start with /")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.RegistryFile != "" {
		c.Model.RegistryFile = other.Model.RegistryFile
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// Gateway
	if other.Gateway.URL != "" {
		c.Gateway.URL = other.Gateway.URL
	}
	if other.Gateway.Timeout != 0 {
		c.Gateway.Timeout = other.Gateway.Timeout
	}

	// Index
	if other.Index.Path != "" {
		c.Index.Path = other.Index.Path
	}

	// Resolution
	if other.Resolution.Transitive {
		c.Resolution.Transitive = true
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	// HTTP
	if other.HTTP.Prefix != "" {
		c.HTTP.Prefix = other.HTTP.Prefix
	}
}
