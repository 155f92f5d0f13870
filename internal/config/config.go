// Package config loads and validates the hot-reload configuration from
// lumen.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/lumen-dev/lumen/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "lumen.json"

	// DefaultDebounceMs is the default quiescence window in milliseconds.
	DefaultDebounceMs = 150

	// DefaultPort is the default dev server port.
	DefaultPort = 9876

	// DefaultHeartbeatMs is the default heartbeat interval in milliseconds.
	DefaultHeartbeatMs = 10000

	// DefaultHost is the default dev server host.
	DefaultHost = "localhost"
)

// Config is the complete lumen.json configuration. It is immutable once
// handed to the runtime.
type Config struct {
	// WatchRoots are the directories watched recursively for source edits.
	// Required; the runtime fails to start when a root cannot be watched.
	WatchRoots []string `json:"watch_roots"`

	// DebounceMs is the quiescence window before a change batch flushes.
	DebounceMs int `json:"debounce_ms,omitempty"`

	// Port is the dev server port for live instance connections.
	Port int `json:"ws_port,omitempty"`

	// Host is the dev server bind host.
	Host string `json:"host,omitempty"`

	// HeartbeatMs is the interval between heartbeat pings per connection.
	HeartbeatMs int `json:"heartbeat_interval_ms,omitempty"`

	// StatePreservation controls whether live state carries across reloads.
	// Absent means enabled.
	StatePreservation *bool `json:"state_preservation,omitempty"`

	// Ignore are extra path patterns the watcher skips.
	Ignore []string `json:"ignore,omitempty"`

	// configPath stores the path the config was loaded from.
	configPath string
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E502").WithDetail(path).Wrap(err)
		}
		return nil, errors.New("E501").Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E501").WithDetail("invalid JSON in " + path).Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromWorkingDir loads lumen.json from the current directory.
func LoadFromWorkingDir() (*Config, error) {
	return Load(ConfigFileName)
}

// Default returns a configuration with default values and the given roots.
func Default(roots ...string) *Config {
	cfg := &Config{WatchRoots: roots}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in zero-valued fields.
func (c *Config) applyDefaults() {
	if c.DebounceMs <= 0 {
		c.DebounceMs = DefaultDebounceMs
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.HeartbeatMs <= 0 {
		c.HeartbeatMs = DefaultHeartbeatMs
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.WatchRoots) == 0 {
		return errors.New("E501").WithDetail("watch_roots is required and must not be empty")
	}
	for _, root := range c.WatchRoots {
		if root == "" {
			return errors.New("E501").WithDetail("watch_roots entries must not be empty")
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("E501").WithDetail("ws_port must be between 1 and 65535")
	}
	return nil
}

// Debounce returns the quiescence window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatMs) * time.Millisecond
}

// PreserveState reports whether state preservation is enabled.
func (c *Config) PreserveState() bool {
	return c.StatePreservation == nil || *c.StatePreservation
}

// Dir returns the directory the config was loaded from.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return "."
	}
	return filepath.Dir(c.configPath)
}
