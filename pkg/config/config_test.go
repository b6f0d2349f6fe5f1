package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/config"
)

func clearSourceEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_HOST", "")
	t.Setenv("SNOWFLAKE_ACCOUNT", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	clearSourceEnv(t)
	t.Setenv("BATCH_SIZE", "")
	t.Setenv("COLLECTION_CONCURRENCY", "")
	t.Setenv("REQUEST_TIMEOUT_MS", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 3, cfg.CollectionConcurrency)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Nil(t, cfg.Postgres)
	assert.Nil(t, cfg.Snowflake)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	clearSourceEnv(t)
	t.Setenv("STORE_ENDPOINT", "https://store.example.com/v1")
	t.Setenv("STORE_PROJECT", "proj-1")
	t.Setenv("STORE_API_KEY", "secret")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("COLLECTION_CONCURRENCY", "5")
	t.Setenv("REQUEST_TIMEOUT_MS", "1500")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://store.example.com/v1", cfg.Endpoint)
	assert.Equal(t, "proj-1", cfg.Project)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 5, cfg.CollectionConcurrency)
	assert.Equal(t, 1500*time.Millisecond, cfg.RequestTimeout)
	assert.NoError(t, cfg.ValidateStore())
}

func TestLoadConfigRejectsNonPositiveBatchSize(t *testing.T) {
	clearSourceEnv(t)
	t.Setenv("BATCH_SIZE", "-1")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestValidateStoreRequiresConnectionSettings(t *testing.T) {
	cfg := &config.Config{}
	assert.Error(t, cfg.ValidateStore())

	cfg.Endpoint = "https://store.example.com/v1"
	assert.Error(t, cfg.ValidateStore())

	cfg.Project = "proj-1"
	assert.Error(t, cfg.ValidateStore())

	cfg.APIKey = "secret"
	assert.NoError(t, cfg.ValidateStore())
}
