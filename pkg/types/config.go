package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns a configuration with usable defaults for a
// single-node agency.
func DefaultConfig(id string) *Config {
	return &Config{
		ID:         id,
		Size:       1,
		Active:     []string{id},
		Pool:       map[string]string{id: "http://127.0.0.1:8529"},
		MinPing:    1.0,
		MaxPing:    5.0,
		JobTimeout: time.Hour,
		DataDir:    "/var/lib/quorum",
		BindAddr:   "127.0.0.1:8529",
	}
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = time.Hour
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
