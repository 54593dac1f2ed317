package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.ReadTimeout < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.read_timeout",
			Message: fmt.Sprintf("read_timeout must be at least 1 second, got %d", c.Server.ReadTimeout),
		})
	}

	if c.Server.WriteTimeout < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.write_timeout",
			Message: fmt.Sprintf("write_timeout must be at least 1 second, got %d", c.Server.WriteTimeout),
		})
	}

	if c.Database.Path == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.path",
			Message: "database path is required",
		})
	}

	if c.Analysis.DefaultLimit < 1 {
		errs = append(errs, &ValidationError{
			Field:   "analysis.default_limit",
			Message: fmt.Sprintf("default_limit must be at least 1, got %d", c.Analysis.DefaultLimit),
		})
	}

	if c.Analysis.MaxLimit < c.Analysis.DefaultLimit {
		errs = append(errs, &ValidationError{
			Field:   "analysis.max_limit",
			Message: fmt.Sprintf("max_limit (%d) must not be below default_limit (%d)", c.Analysis.MaxLimit, c.Analysis.DefaultLimit),
		})
	}

	if c.Analysis.ParetoThreshold <= 0 || c.Analysis.ParetoThreshold > 1 {
		errs = append(errs, &ValidationError{
			Field:   "analysis.pareto_threshold",
			Message: fmt.Sprintf("pareto_threshold must be in (0, 1], got %g", c.Analysis.ParetoThreshold),
		})
	}

	if c.Analysis.MinSPCPoints < 2 {
		errs = append(errs, &ValidationError{
			Field:   "analysis.min_spc_points",
			Message: fmt.Sprintf("min_spc_points must be at least 2, got %d", c.Analysis.MinSPCPoints),
		})
	}

	if c.Monitor.WindowSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "monitor.window_size",
			Message: fmt.Sprintf("window_size must be at least 1, got %d", c.Monitor.WindowSize),
		})
	}

	if c.Monitor.PushInterval < 1 {
		errs = append(errs, &ValidationError{
			Field:   "monitor.push_interval",
			Message: fmt.Sprintf("push_interval must be at least 1 second, got %d", c.Monitor.PushInterval),
		})
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	return errs
}
