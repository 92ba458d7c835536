package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// TomlDatabase holds datastore configuration
type TomlDatabase struct {
	Path string `toml:"path"`
}

// TomlServer holds HTTP server configuration
type TomlServer struct {
	Host string `toml:"host,omitempty"`
	Port int    `toml:"port"`
}

// TomlFetch holds outbound HTTP client configuration
type TomlFetch struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
	MaxRetries     int    `toml:"max_retries"`
}

// TomlRefresh holds background poller configuration
type TomlRefresh struct {
	IntervalMinutes int  `toml:"interval_minutes"`
	Workers         int  `toml:"workers"`
	Overwrite       bool `toml:"overwrite"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Database TomlDatabase `toml:"database"`
	Server   TomlServer   `toml:"server"`
	Fetch    TomlFetch    `toml:"fetch"`
	Refresh  TomlRefresh  `toml:"refresh"`
}

// Default returns the configuration used when no file is given.
func Default() *TomlConfig {
	return &TomlConfig{
		Database: TomlDatabase{Path: "feed-api.db"},
		Server:   TomlServer{Port: 3000},
		Fetch: TomlFetch{
			TimeoutSeconds: 30,
			UserAgent:      "feed-api/1.0",
			MaxRetries:     3,
		},
		Refresh: TomlRefresh{
			IntervalMinutes: 15,
			Workers:         4,
			Overwrite:       true,
		},
	}
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Default()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}
