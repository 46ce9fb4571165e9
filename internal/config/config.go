package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Sentinel service.
type Config struct {
	// Service addresses
	HTTPPort string
	NatsURL  string

	// Primary store (detectors, detections, alerts)
	DatabaseURL string

	// Reading source: where detector input data is read from.
	// "postgres" reuses the primary store, "mysql" connects to an
	// external warehouse via ReadingSourceDSN.
	ReadingSourceType string
	ReadingSourceDSN  string

	// Redis (deduplication locks and fingerprints)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Classifier scoring service
	ScorerBaseURL string

	// Task execution
	WorkerCount int

	// Alert publishing
	DefaultLanguage string
	AlertAPIs       []AlertAPIConfig
	AlertAPITimeout time.Duration
}

// AlertAPIConfig describes one downstream alert API target.
type AlertAPIConfig struct {
	Name    string
	BaseURL string
	APIKey  string
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	// Try multiple .env locations
	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded config from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Printf("No .env file found, using environment variables")
	}

	config := &Config{
		// Service addresses with defaults
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
		NatsURL:  getEnvOrDefault("NATS_URL", "nats://localhost:4222"),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),

		ReadingSourceType: getEnvOrDefault("READING_SOURCE_TYPE", "postgres"),
		ReadingSourceDSN:  getEnvOrDefault("READING_SOURCE_DSN", ""),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       parseIntOrDefault("REDIS_DB", 0),

		ScorerBaseURL: getEnvOrDefault("SCORER_BASE_URL", ""),

		WorkerCount: parseIntOrDefault("WORKER_COUNT", 4),

		DefaultLanguage: getEnvOrDefault("DEFAULT_LANGUAGE", "en"),
		AlertAPITimeout: time.Duration(parseIntOrDefault("ALERT_API_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	config.AlertAPIs = parseAlertAPIs()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// parseAlertAPIs reads ALERT_APIS as a comma-separated list of names and,
// for each name, ALERT_API_<NAME>_URL and ALERT_API_<NAME>_KEY.
func parseAlertAPIs() []AlertAPIConfig {
	raw := os.Getenv("ALERT_APIS")
	if raw == "" {
		return nil
	}

	var apis []AlertAPIConfig
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		baseURL := os.Getenv("ALERT_API_" + envName + "_URL")
		if baseURL == "" {
			log.Printf("Alert API %s listed but ALERT_API_%s_URL not set, skipping", name, envName)
			continue
		}
		apis = append(apis, AlertAPIConfig{
			Name:    name,
			BaseURL: baseURL,
			APIKey:  os.Getenv("ALERT_API_" + envName + "_KEY"),
		})
	}
	return apis
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT is required")
	}

	switch c.ReadingSourceType {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("READING_SOURCE_TYPE must be postgres or mysql, got %q", c.ReadingSourceType)
	}

	if c.ReadingSourceType == "mysql" && c.ReadingSourceDSN == "" {
		return fmt.Errorf("READING_SOURCE_DSN is required when READING_SOURCE_TYPE is mysql")
	}

	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}

	return nil
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
