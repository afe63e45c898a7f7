// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	CapacityPerCell int
	Responder       ResponderConfig
}

// ResponderConfig controls the LLM responder boundary. An empty URL
// selects the scripted responder, which needs no network access.
type ResponderConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8443"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/study.db"),
		CapacityPerCell: getEnvInt("CAPACITY_PER_CELL", 4),
		Responder: ResponderConfig{
			URL:     getEnv("RESPONDER_URL", ""),
			APIKey:  getEnv("RESPONDER_API_KEY", ""),
			Model:   getEnv("RESPONDER_MODEL", "gpt-4o-mini"),
			Timeout: time.Duration(getEnvInt("RESPONDER_TIMEOUT_MS", 30000)) * time.Millisecond,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.CapacityPerCell <= 0 {
		return fmt.Errorf("CAPACITY_PER_CELL must be > 0")
	}
	if c.Responder.URL != "" && c.Responder.Model == "" {
		return fmt.Errorf("RESPONDER_MODEL cannot be empty when RESPONDER_URL is set")
	}
	if c.Responder.Timeout <= 0 {
		return fmt.Errorf("RESPONDER_TIMEOUT_MS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
