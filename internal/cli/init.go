// Package cli provides common initialization utilities shared by the
// mealtrack binaries.
package cli

import (
	"os"

	"github.com/joho/godotenv"

	"mealtrack/internal/config"
	"mealtrack/internal/kv/sqlite"
	"mealtrack/internal/log"
)

// SetupLogger initializes structured logging from the environment and
// sets it as the default logger.
func SetupLogger(component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(os.Getenv("LOG_LEVEL")),
		Format:    os.Getenv("LOG_FORMAT"),
		Component: component,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite initializes a SQLite store with the given path.
// Returns the store or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *sqlite.Store {
	store, err := sqlite.New(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite store", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return store
}
