// Package config loads the application configuration from a YAML file
// with embedded defaults and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all memri configuration.
type Config struct {
	Pod      PodConfig      `yaml:"pod"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server"`
	CVU      CVUConfig      `yaml:"cvu"`
	Logging  LoggingConfig  `yaml:"logging"`

	// DateFormat is the Go reference layout used when expressions
	// stringify dates.
	DateFormat string `yaml:"date_format"`
}

// PodConfig configures the remote pod connection.
type PodConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// DatabaseConfig configures the local store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig configures the background sync engine.
type SyncConfig struct {
	PollInterval string `yaml:"poll_interval"`
	BatchSize    int    `yaml:"batch_size"`
}

// ServerConfig configures the wire surface the UI connects to.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// CVUConfig configures view-definition loading.
type CVUConfig struct {
	// Paths are extra directories of .cvu files watched for live
	// reload on top of the bundled defaults.
	Paths []string `yaml:"paths"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	File  string `yaml:"file"`  // empty means stderr
}

// DefaultConfig returns the built-in defaults used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Pod: PodConfig{
			URL: "http://localhost:3030",
		},
		Database: DatabaseConfig{
			Path: "memri.db",
		},
		Sync: SyncConfig{
			PollInterval: "10s",
			BatchSize:    100,
		},
		Server: ServerConfig{
			Addr: ":8088",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		DateFormat: "2006/01/02 15:04",
	}
}

// Load reads configuration from a YAML file. A missing file returns the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration back out as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// PollInterval parses the sync poll interval, falling back to 10s.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Sync.PollInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEMRI_POD_URL"); v != "" {
		c.Pod.URL = v
	}
	if v := os.Getenv("MEMRI_POD_API_KEY"); v != "" {
		c.Pod.APIKey = v
	}
	if v := os.Getenv("MEMRI_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
}
