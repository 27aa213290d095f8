package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Public domain used when registering the webhook subscription
	Domain string

	// Database configuration
	DatabasePath string

	// Strava API configuration
	StravaClientID     string
	StravaClientSecret string
	StravaVerifyToken  string

	// Provider endpoints (overridable in tests)
	ProviderBaseURL  string
	ProviderTokenURL string
	ProviderTimeout  time.Duration

	// Query gateway configuration
	QueryTimeout time.Duration

	// Internal API configuration
	InternalAPIKey string

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Logging configuration
	LogLevel string
}

// Load reads configuration from environment variables
// It fails fast if required variables are missing
func Load() (*Config, error) {
	cfg := &Config{
		// Optional values with defaults
		Host:             getEnv("HOST", "localhost"),
		Port:             getEnvInt("PORT", 4201),
		Domain:           getEnv("DOMAIN", ""),
		DatabasePath:     getEnv("DATABASE_PATH", "./data.db"),
		ProviderBaseURL:  getEnv("STRAVA_API_BASE_URL", "https://www.strava.com/api/v3"),
		ProviderTokenURL: getEnv("STRAVA_TOKEN_URL", "https://www.strava.com/oauth/token"),
		ProviderTimeout:  time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,
		QueryTimeout:     time.Duration(getEnvInt("QUERY_TIMEOUT_SECONDS", 10)) * time.Second,
		MetricsEnabled:   getEnv("METRICS_ENABLED", "false") == "true",
		MetricsHost:      getEnv("METRICS_HOST", "localhost"),
		MetricsPort:      getEnvInt("METRICS_PORT", 4202),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	// Required values
	var missingVars []string

	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	if cfg.StravaClientID == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_ID")
	}

	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	if cfg.StravaClientSecret == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_SECRET")
	}

	cfg.StravaVerifyToken = os.Getenv("STRAVA_VERIFY_TOKEN")
	if cfg.StravaVerifyToken == "" {
		missingVars = append(missingVars, "STRAVA_VERIFY_TOKEN")
	}

	cfg.InternalAPIKey = os.Getenv("INTERNAL_API_KEY")
	if cfg.InternalAPIKey == "" {
		missingVars = append(missingVars, "INTERNAL_API_KEY")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
