package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8000
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.ReadTimeout = 15
	cfg.Server.WriteTimeout = 30

	// Database defaults
	cfg.Database.Path = "./pharmaflow.db"

	// Analysis defaults
	cfg.Analysis.DefaultLimit = 100
	cfg.Analysis.MaxLimit = 200
	cfg.Analysis.ParetoThreshold = 0.8
	cfg.Analysis.MinSPCPoints = 2

	// Monitor defaults
	cfg.Monitor.WindowSize = 20
	cfg.Monitor.PushInterval = 5

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28

	return cfg
}
