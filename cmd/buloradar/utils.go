package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pevans/buloradar/config"
	"github.com/pevans/buloradar/logging"
	"go.uber.org/zap"
)

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration parses a duration from environment variable or returns default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvInt parses an int from environment variable or returns default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// loadConfig reads BULORADAR_CONFIG, or ~/.buloradar/config.yaml when unset,
// then applies environment overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := os.Getenv("BULORADAR_CONFIG"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefaultFile()
	}
	if err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, cfg.Validate()
}

// applyEnv overrides file settings with BULORADAR_* variables.
func applyEnv(cfg *config.Config) {
	cfg.Classifier.Endpoint = getEnv("BULORADAR_CLASSIFIER_URL", cfg.Classifier.Endpoint)
	cfg.Classifier.Timeout = getEnvDuration("BULORADAR_CLASSIFIER_TIMEOUT", cfg.Classifier.Timeout)
	cfg.Pipeline.Concurrency = getEnvInt("BULORADAR_CONCURRENCY", cfg.Pipeline.Concurrency)
	cfg.Catalog.DSN = getEnv("BULORADAR_CATALOG_DSN", cfg.Catalog.DSN)
	cfg.Log.Level = getEnv("BULORADAR_LOG_LEVEL", cfg.Log.Level)
	cfg.API.Addr = getEnv("BULORADAR_API_ADDR", cfg.API.Addr)
}

// mustSetup loads config and builds the logger, exiting on failure.
func mustSetup() (*config.Config, *zap.Logger) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger
}

// truncate shortens s to n runes for table output.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
