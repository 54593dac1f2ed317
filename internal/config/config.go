package config

import "context"

// Package config provides configuration management for the pharmaflow
// backend.
//
// Responsibilities:
//   - Load configuration from a YAML file and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for tunable settings
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (PHARMAFLOW_* prefix)
//   2. YAML config file (default: ./pharmaflow.yaml)
//   3. Built-in defaults

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port int
		// AllowedOrigins lists origins permitted by CORS and the
		// monitor WebSocket. ["*"] allows any origin (development only).
		AllowedOrigins []string
		ReadTimeout    int // seconds
		WriteTimeout   int // seconds
	}

	// Database configuration
	Database struct {
		Path string // SQLite file path, ":memory:" for tests
	}

	// Analysis configuration
	Analysis struct {
		DefaultLimit    int     // measurements pulled per provider query
		MaxLimit        int     // hard cap on provider queries
		ParetoThreshold float64 // cumulative share defining the key few
		MinSPCPoints    int     // points required before SPC runs
	}

	// Monitor configuration
	Monitor struct {
		WindowSize   int // recent points per parameter
		PushInterval int // websocket push period, seconds
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string // "json" | "text"
		File       string // empty disables the rotating file sink
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with the default
// config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("./pharmaflow.yaml")
}
