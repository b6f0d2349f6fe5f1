// pkg/config/source.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// PostgresConfig holds PostgreSQL source connection parameters
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Query timeout
	QueryTimeout time.Duration
}

// SnowflakeConfig holds Snowflake source connection parameters
type SnowflakeConfig struct {
	User          string
	Password      string
	Account       string
	Warehouse     string
	Database      string
	Schema        string
	Role          string
	Authenticator gosnowflake.AuthType

	// Query timeout
	QueryTimeout time.Duration
}

// LoadPostgresConfig loads PostgreSQL source configuration from environment variables
func LoadPostgresConfig() (*PostgresConfig, error) {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return nil, errors.New("POSTGRES_HOST environment variable is required")
	}

	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		return nil, errors.New("POSTGRES_USER environment variable is required")
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		return nil, errors.New("POSTGRES_PASSWORD environment variable is required")
	}

	database := os.Getenv("POSTGRES_DATABASE")
	if database == "" {
		return nil, errors.New("POSTGRES_DATABASE environment variable is required")
	}

	return &PostgresConfig{
		Host:            host,
		Port:            getEnvAsInt("POSTGRES_PORT", 5432),
		User:            user,
		Password:        password,
		Database:        database,
		SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		ConnMaxIdleTime: time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_MIN", 10)) * time.Minute,
		QueryTimeout:    time.Duration(getEnvAsInt("POSTGRES_QUERY_TIMEOUT_SEC", 60)) * time.Second,
	}, nil
}

// ConnectionString builds a PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LoadSnowflakeConfig loads Snowflake source configuration from environment variables
func LoadSnowflakeConfig() (*SnowflakeConfig, error) {
	user := os.Getenv("SNOWFLAKE_USER")
	if user == "" {
		return nil, errors.New("SNOWFLAKE_USER environment variable is required")
	}

	password := os.Getenv("SNOWFLAKE_PASSWORD")
	if password == "" {
		return nil, errors.New("SNOWFLAKE_PASSWORD environment variable is required")
	}

	account := os.Getenv("SNOWFLAKE_ACCOUNT")
	if account == "" {
		return nil, errors.New("SNOWFLAKE_ACCOUNT environment variable is required")
	}

	warehouse := os.Getenv("SNOWFLAKE_WAREHOUSE")
	if warehouse == "" {
		return nil, errors.New("SNOWFLAKE_WAREHOUSE environment variable is required")
	}

	// Convert authenticator string to proper type
	authString := getEnv("SNOWFLAKE_AUTHENTICATOR", "snowflake")
	var authenticator gosnowflake.AuthType
	switch authString {
	case "snowflake":
		authenticator = gosnowflake.AuthTypeSnowflake
	case "externalbrowser":
		authenticator = gosnowflake.AuthTypeExternalBrowser
	case "okta":
		authenticator = gosnowflake.AuthTypeOkta
	default:
		return nil, fmt.Errorf("unsupported SNOWFLAKE_AUTHENTICATOR value: %s", authString)
	}

	return &SnowflakeConfig{
		User:          user,
		Password:      password,
		Account:       account,
		Warehouse:     warehouse,
		Database:      getEnv("SNOWFLAKE_DATABASE", ""),
		Schema:        getEnv("SNOWFLAKE_SCHEMA", "PUBLIC"),
		Role:          getEnv("SNOWFLAKE_ROLE", ""),
		Authenticator: authenticator,
		QueryTimeout:  time.Duration(getEnvAsInt("SNOWFLAKE_QUERY_TIMEOUT_SEC", 120)) * time.Second,
	}, nil
}

// DSN builds a Snowflake connection string
func (c *SnowflakeConfig) DSN() (string, error) {
	return gosnowflake.DSN(&gosnowflake.Config{
		User:          c.User,
		Password:      c.Password,
		Account:       c.Account,
		Warehouse:     c.Warehouse,
		Database:      c.Database,
		Schema:        c.Schema,
		Role:          c.Role,
		Authenticator: c.Authenticator,
	})
}
