// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Directory where model snapshots are persisted
	ModelDir string

	// Etherscan API settings
	EtherscanURL     string
	EtherscanAPIKey  string
	EtherscanAddress string

	// Detector settings
	Contamination float64
	RandomSeed    int64
	TreeCount     int
	SampleSize    int

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Timeouts and rate limiting
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load creates a new Config from environment variables. A .env file in the
// working directory is applied first when present.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env file not found, using process environment")
	}

	return Config{
		Port:             GetEnvOrDefault("PORT", "8080"),
		ModelDir:         GetEnvOrDefault("MODEL_DIR", "models"),
		EtherscanURL:     GetEnvOrDefault("ETHERSCAN_URL", "https://api.etherscan.io/api"),
		EtherscanAPIKey:  GetEnvOrDefault("ETHERSCAN_API_KEY", ""),
		EtherscanAddress: GetEnvOrDefault("ETHERSCAN_ADDRESS", ""),
		Contamination:    GetEnvAsFloat("CONTAMINATION", 0.01),
		RandomSeed:       int64(GetEnvAsInt("RANDOM_SEED", 42)),
		TreeCount:        GetEnvAsInt("TREE_COUNT", 100),
		SampleSize:       GetEnvAsInt("SAMPLE_SIZE", 256),
		OtelEndpoint:     GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		RequestTimeout:   GetEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		RateLimitRPS:     GetEnvAsFloat("RATE_LIMIT_RPS", 10.0),
		RateLimitBurst:   GetEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
