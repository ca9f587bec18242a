// Package config provides configuration for the orchestrator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Mode selection, mirroring the generation backend factory.
const (
	EnvMode  = "FINSAGE_MODE"
	ModeMock = "MOCK"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Tool call handling
	ToolTimeout      time.Duration
	ToolRetryMax     int
	ToolRetryBackoff time.Duration
	SearchResultCap  int

	// Run-level timeout covering all turns. Expiry is fatal for the run.
	RunTimeout time.Duration

	// Web search backend. Empty means the offline reference fixture.
	WebSearchURL string

	// Generation backend. Mode MOCK uses the deterministic rule generator;
	// otherwise GeneratorURL names the remote generation service.
	Mode         string
	GeneratorURL string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:      getEnv("FINSAGE_DB", "file:finsage.db?cache=shared&mode=rwc"),
		ToolTimeout:      time.Duration(getEnvInt("TOOL_TIMEOUT_MS", 10000)) * time.Millisecond,
		ToolRetryMax:     getEnvInt("TOOL_RETRY_MAX", 2),
		ToolRetryBackoff: time.Duration(getEnvInt("TOOL_RETRY_BACKOFF_MS", 250)) * time.Millisecond,
		SearchResultCap:  getEnvInt("SEARCH_RESULT_CAP", 5),
		RunTimeout:       time.Duration(getEnvInt("RUN_TIMEOUT_MS", 120000)) * time.Millisecond,
		WebSearchURL:     getEnv("WEB_SEARCH_URL", ""),
		Mode:             getEnv(EnvMode, ModeMock),
		GeneratorURL:     getEnv("GENERATOR_URL", "http://localhost:8091"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
