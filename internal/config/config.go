// Package config provides configuration management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"cloudcost-etl/internal/logging"
)

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Source contains cost source API configuration
	Source SourceConfig `json:"source"`

	// Database contains database configuration
	Database DatabaseConfig `json:"database"`

	// Pipeline contains pipeline behavior configuration
	Pipeline PipelineConfig `json:"pipeline"`

	// FX contains currency conversion rate overrides, keyed by
	// currency code with decimal rate-to-USD values (e.g. "EUR": "1.08")
	FX map[string]string `json:"fx,omitempty"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// SourceConfig contains cost source API settings
type SourceConfig struct {
	// BaseURL is the base URL of the cost API
	BaseURL string `json:"base_url"`

	// TimeoutSeconds is the per-request timeout
	TimeoutSeconds int `json:"timeout_seconds"`

	// MaxRetries is the retry budget for transient source failures
	MaxRetries int `json:"max_retries"`

	// InitialBackoffMillis is the first retry delay; subsequent
	// delays grow exponentially
	InitialBackoffMillis int `json:"initial_backoff_millis"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	// URL is the Postgres connection string
	URL string `json:"url"`
}

// PipelineConfig contains pipeline behavior settings
type PipelineConfig struct {
	// RejectionThreshold is the maximum tolerated rejection rate in
	// Transform before the run is aborted (0.10 = 10%)
	RejectionThreshold float64 `json:"rejection_threshold"`

	// SampleLimit is how many rejected rows to keep as diagnostics
	SampleLimit int `json:"sample_limit"`
}

// Default returns a default configuration
func Default() *Config {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://localhost:5432/cloudcost?sslmode=disable"
	}

	apiURL := os.Getenv("COST_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:5001"
	}

	return &Config{
		Version: "1.0",
		Source: SourceConfig{
			BaseURL:              apiURL,
			TimeoutSeconds:       30,
			MaxRetries:           4,
			InitialBackoffMillis: 500,
		},
		Database: DatabaseConfig{
			URL: dbURL,
		},
		Pipeline: PipelineConfig{
			RejectionThreshold: 0.10,
			SampleLimit:        5,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
