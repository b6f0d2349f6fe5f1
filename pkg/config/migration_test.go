package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/config"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

const sampleMigration = `
databaseId: prod
buckets:
  - avatars
collections:
  - name: customers
    identity: true
    schema:
      - key: plan
        type: string
        required: true
    importDefs:
      - primaryKey: id
        source:
          path: data/customers.json
        attributes:
          - oldKey: PLAN
            targetKey: plan
            converters: [trim, lowercase]
  - name: orders
    importDefs:
      - primaryKey: id
        source:
          path: data/orders.json
        references:
          - sourceField: customer_id
            targetCollection: customers
            targetField: id
            setField: customer
      - kind: update
        primaryKey: id
        source:
          path: data/order_updates.json
`

func writeMigrationFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migration.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMigrationConfig(t *testing.T) {
	cfg, err := config.LoadMigrationConfig(writeMigrationFile(t, sampleMigration))
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.DatabaseID)
	assert.Equal(t, "users", cfg.IdentityCollection)
	assert.Equal(t, []string{"avatars"}, cfg.Buckets)
	assert.Equal(t, []string{"customers", "orders"}, cfg.CollectionNames())

	require.Len(t, cfg.Collections, 2)
	customers := cfg.Collections[0]
	assert.True(t, customers.Identity)
	require.Len(t, customers.Defs, 1)
	// Defaults filled in during validation
	assert.Equal(t, "customers", customers.Defs[0].Collection)
	assert.Equal(t, model.DefCreate, customers.Defs[0].Kind)
	assert.Equal(t, "file", customers.Defs[0].Source.Kind)
	assert.Equal(t, []string{"trim", "lowercase"}, customers.Defs[0].Attributes[0].Converters)

	orders := cfg.Collections[1]
	require.Len(t, orders.Defs, 2)
	assert.False(t, orders.Defs[0].IsUpdate())
	assert.True(t, orders.Defs[1].IsUpdate())
	require.Len(t, orders.Defs[0].References, 1)
	assert.Equal(t, "customers", orders.Defs[0].References[0].TargetCollection)
}

func TestLoadMigrationConfigMissingFile(t *testing.T) {
	_, err := config.LoadMigrationConfig("/nonexistent/migration.yaml")
	assert.Error(t, err)
}

func TestMigrationConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing databaseId",
			content: "collections:\n  - name: orders\n    importDefs:\n      - primaryKey: id\n        source: {path: x.json}\n",
		},
		{
			name:    "no collections",
			content: "databaseId: prod\n",
		},
		{
			name:    "duplicate collection names",
			content: "databaseId: prod\ncollections:\n  - name: orders\n    importDefs: []\n  - name: orders\n    importDefs: []\n",
		},
		{
			name:    "missing primaryKey",
			content: "databaseId: prod\ncollections:\n  - name: orders\n    importDefs:\n      - source: {path: x.json}\n",
		},
		{
			name:    "unknown def kind",
			content: "databaseId: prod\ncollections:\n  - name: orders\n    importDefs:\n      - kind: upsert\n        primaryKey: id\n        source: {path: x.json}\n",
		},
		{
			name:    "attribute without source",
			content: "databaseId: prod\ncollections:\n  - name: orders\n    importDefs:\n      - primaryKey: id\n        source: {path: x.json}\n        attributes:\n          - targetKey: plan\n",
		},
		{
			name:    "incomplete reference",
			content: "databaseId: prod\ncollections:\n  - name: orders\n    importDefs:\n      - primaryKey: id\n        source: {path: x.json}\n        references:\n          - sourceField: customer_id\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadMigrationConfig(writeMigrationFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}
