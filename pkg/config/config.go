// pkg/config/config.go
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Target store connection
	Endpoint string
	Project  string
	APIKey   string

	// Pipeline settings
	BatchSize             int
	CollectionConcurrency int
	RequestTimeout        time.Duration

	// Optional database sources
	Postgres  *PostgresConfig
	Snowflake *SnowflakeConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Endpoint:              getEnv("STORE_ENDPOINT", ""),
		Project:               getEnv("STORE_PROJECT", ""),
		APIKey:                getEnv("STORE_API_KEY", ""),
		BatchSize:             getEnvAsInt("BATCH_SIZE", 10),
		CollectionConcurrency: getEnvAsInt("COLLECTION_CONCURRENCY", 3),
		RequestTimeout:        time.Duration(getEnvAsInt("REQUEST_TIMEOUT_MS", 30000)) * time.Millisecond,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
	}

	// Database sources are optional; load them only when configured
	if os.Getenv("POSTGRES_HOST") != "" {
		pgConfig, err := LoadPostgresConfig()
		if err != nil {
			return nil, errors.New("failed to load PostgreSQL source configuration: " + err.Error())
		}
		cfg.Postgres = pgConfig
	}

	if os.Getenv("SNOWFLAKE_ACCOUNT") != "" {
		snowConfig, err := LoadSnowflakeConfig()
		if err != nil {
			return nil, errors.New("failed to load Snowflake source configuration: " + err.Error())
		}
		cfg.Snowflake = snowConfig
	}

	if cfg.BatchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}

	if cfg.CollectionConcurrency <= 0 {
		return nil, errors.New("collection concurrency must be positive")
	}

	return cfg, nil
}

// ValidateStore ensures the target store connection settings are present.
// Skipped for dry runs, which never touch the network.
func (c *Config) ValidateStore() error {
	if c.Endpoint == "" {
		return errors.New("STORE_ENDPOINT environment variable is required")
	}

	if c.Project == "" {
		return errors.New("STORE_PROJECT environment variable is required")
	}

	if c.APIKey == "" {
		return errors.New("STORE_API_KEY environment variable is required")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
