package importer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/config"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/importer"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/store"
)

func testConfig() *config.Config {
	return &config.Config{
		BatchSize:             4,
		CollectionConcurrency: 2,
		RequestTimeout:        5 * time.Second,
	}
}

func writeSourceFile(t *testing.T, rows []map[string]interface{}) string {
	t.Helper()

	data, err := json.Marshal(rows)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "source.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func newTestRunner(t *testing.T, mig *config.MigrationConfig, client store.Client) *importer.Runner {
	t.Helper()

	runner, err := importer.NewRunner(testConfig(), mig, client, zap.NewNop())
	require.NoError(t, err)
	return runner
}

func TestRunMigrationCreatesDocuments(t *testing.T) {
	path := writeSourceFile(t, []map[string]interface{}{
		{"id": "o-1", "total": 10.0},
		{"id": "o-2", "total": 20.0},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name: "orders",
				Defs: []model.ImportDef{
					{Collection: "orders", PrimaryKey: "id", Source: model.SourceRef{Path: path}},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, client.DocumentCount("prod", "orders"))
}

func TestRunMigrationRejectsDuplicateSourceID(t *testing.T) {
	path := writeSourceFile(t, []map[string]interface{}{
		{"id": "o-1", "total": 10.0},
		{"id": "o-1", "total": 99.0},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name: "orders",
				Defs: []model.ImportDef{
					{Collection: "orders", PrimaryKey: "id", Source: model.SourceRef{Path: path}},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	// The first occurrence wins; the duplicate is rejected, never merged
	// over the existing document.
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, client.DocumentCount("prod", "orders"))
}

func TestRunMigrationUpdatePassMergesFields(t *testing.T) {
	createPath := writeSourceFile(t, []map[string]interface{}{
		{"id": "o-1", "status": "pending", "note": "keep me"},
	})
	updatePath := writeSourceFile(t, []map[string]interface{}{
		{"id": "o-1", "status": "shipped", "note": ""},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name: "orders",
				Defs: []model.ImportDef{
					{Collection: "orders", PrimaryKey: "id", Source: model.SourceRef{Path: createPath}},
					{Collection: "orders", Kind: model.DefUpdate, PrimaryKey: "id", Source: model.SourceRef{Path: updatePath}},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Updated)
	require.Equal(t, 1, client.DocumentCount("prod", "orders"))

	docs, err := client.ListDocuments(context.Background(), "prod", "orders", model.Record{"id": "o-1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "shipped", docs[0].Data["status"])
	// The empty note in the update file must not destroy the old value
	assert.Equal(t, "keep me", docs[0].Data["note"])
}

func TestRunMigrationUpdateWithoutTargetSkips(t *testing.T) {
	updatePath := writeSourceFile(t, []map[string]interface{}{
		{"id": "missing-1", "status": "shipped"},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name: "orders",
				Defs: []model.ImportDef{
					{Collection: "orders", Kind: model.DefUpdate, PrimaryKey: "id", Source: model.SourceRef{Path: updatePath}},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, client.DocumentCount("prod", "orders"))
}

func TestRunMigrationDeduplicatesIdentities(t *testing.T) {
	path := writeSourceFile(t, []map[string]interface{}{
		{"id": "c-1", "email": "ada@example.com", "name": "Ada", "plan": "basic"},
		{"id": "c-2", "email": "ada@example.com", "name": "A. Lovelace", "plan": "pro"},
		{"id": "c-3", "email": "grace@example.com", "name": "Grace", "plan": "basic"},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name:     "customers",
				Identity: true,
				Defs: []model.ImportDef{
					{Collection: "customers", PrimaryKey: "id", Source: model.SourceRef{Path: path}},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Merged)
	assert.Equal(t, 2, client.DocumentCount("prod", "customers"))
	assert.Equal(t, 2, client.IdentityCount())
}

func TestRunMigrationConcurrentIdentityMergesKeepAllFields(t *testing.T) {
	// Many records for one entity, each carrying a different field, so
	// any lost merge shows up as a missing field on the single document.
	rows := make([]map[string]interface{}, 0, 40)
	for i := 0; i < 40; i++ {
		row := map[string]interface{}{
			"id":    fmt.Sprintf("c-%d", i),
			"email": "ada@example.com",
		}
		if i%2 == 0 {
			row["plan"] = "pro"
		} else {
			row["city"] = "London"
		}
		rows = append(rows, row)
	}
	path := writeSourceFile(t, rows)

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name:     "customers",
				Identity: true,
				Defs: []model.ImportDef{
					{Collection: "customers", PrimaryKey: "id", Source: model.SourceRef{Path: path}},
				},
			},
		},
	}

	cfg := testConfig()
	cfg.BatchSize = 16

	client := store.NewMemoryClient()
	runner, err := importer.NewRunner(cfg, mig, client, zap.NewNop())
	require.NoError(t, err)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 39, summary.Merged)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, client.IdentityCount())
	require.Equal(t, 1, client.DocumentCount("prod", "customers"))

	docs, err := client.ListDocuments(context.Background(), "prod", "customers", model.Record{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "pro", docs[0].Data["plan"])
	assert.Equal(t, "London", docs[0].Data["city"])
}

func TestRunMigrationIdentityFieldsLeaveDomainPayload(t *testing.T) {
	path := writeSourceFile(t, []map[string]interface{}{
		{"id": "c-1", "email": "ada@example.com", "name": "Ada", "plan": "basic"},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name:     "customers",
				Identity: true,
				Defs: []model.ImportDef{
					{Collection: "customers", PrimaryKey: "id", Source: model.SourceRef{Path: path}},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	_, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	docs, err := client.ListDocuments(context.Background(), "prod", "customers", model.Record{"id": "c-1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "basic", docs[0].Data["plan"])
	assert.NotContains(t, docs[0].Data, "email")
	assert.NotContains(t, docs[0].Data, "name")
}

func TestRunMigrationResolvesCrossCollectionReferences(t *testing.T) {
	customersPath := writeSourceFile(t, []map[string]interface{}{
		{"id": "c-1", "company": "Analytical Engines Ltd"},
	})
	ordersPath := writeSourceFile(t, []map[string]interface{}{
		{"id": "o-1", "customer_id": "c-1", "total": 10.0},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name: "customers",
				Defs: []model.ImportDef{
					{Collection: "customers", PrimaryKey: "id", Source: model.SourceRef{Path: customersPath}},
				},
			},
			{
				Name: "orders",
				Defs: []model.ImportDef{
					{
						Collection: "orders",
						PrimaryKey: "id",
						Source:     model.SourceRef{Path: ordersPath},
						References: []model.ReferenceMapping{
							{SourceField: "customer_id", TargetCollection: "customers", TargetField: "id", SetField: "customer"},
						},
					},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ResolvedRefs)
	assert.Equal(t, 0, summary.UnresolvedRefs)

	customers, err := client.ListDocuments(context.Background(), "prod", "customers", model.Record{"id": "c-1"})
	require.NoError(t, err)
	require.Len(t, customers, 1)

	orders, err := client.ListDocuments(context.Background(), "prod", "orders", model.Record{"id": "o-1"})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	customer, ok := orders[0].Data["customer"].(model.Record)
	require.True(t, ok)
	assert.Equal(t, "Analytical Engines Ltd", customer["company"])
}

func TestRunMigrationValidatesAgainstSchema(t *testing.T) {
	path := writeSourceFile(t, []map[string]interface{}{
		{"id": "o-1", "total": 10.0},
		{"id": "o-2"},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name: "orders",
				Schema: []model.AttributeSchema{
					{Key: "id", Type: "string", Required: true},
					{Key: "total", Type: "float", Required: true},
				},
				Defs: []model.ImportDef{
					{Collection: "orders", PrimaryKey: "id", Source: model.SourceRef{Path: path}},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, client.DocumentCount("prod", "orders"))
}

func TestRunMigrationMissingSourceFailsCollectionOnly(t *testing.T) {
	goodPath := writeSourceFile(t, []map[string]interface{}{
		{"id": "o-1"},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name: "broken",
				Defs: []model.ImportDef{
					{Collection: "broken", PrimaryKey: "id", Source: model.SourceRef{Path: "/nonexistent/source.json"}},
				},
			},
			{
				Name: "orders",
				Defs: []model.ImportDef{
					{Collection: "orders", PrimaryKey: "id", Source: model.SourceRef{Path: goodPath}},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, client.DocumentCount("prod", "orders"))

	failures := summary.AllFailures()
	require.NotEmpty(t, failures)
	assert.Equal(t, "broken", failures[0].Collection)

	// Operation bookkeeping mirrors each collection's outcome
	status, ok := client.OperationStatus("broken", "import")
	require.True(t, ok)
	assert.Equal(t, store.OperationFailed, status)

	status, ok = client.OperationStatus("orders", "import")
	require.True(t, ok)
	assert.Equal(t, store.OperationCompleted, status)
}

func TestRunMigrationAttachesFilesAfterCreate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c-1.png"), []byte("png-bytes"), 0644))

	path := writeSourceFile(t, []map[string]interface{}{
		{"id": "c-1", "plan": "basic"},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name: "customers",
				Defs: []model.ImportDef{
					{
						Collection: "customers",
						PrimaryKey: "id",
						Source:     model.SourceRef{Path: path},
						Attributes: []model.AttributeMapping{
							{OldKey: "id", TargetKey: "id"},
							{OldKey: "plan", TargetKey: "plan"},
							{TargetKey: "avatar", FileData: &model.FileAttach{Bucket: "avatars", Path: dir + "/{id}.png"}},
						},
					},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.DrainedActions)
	assert.Equal(t, 0, summary.PendingActions)

	docs, err := client.ListDocuments(context.Background(), "prod", "customers", model.Record{"id": "c-1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.NotEmpty(t, docs[0].Data["avatar"])
}

func TestRunMigrationRecordWithoutPrimaryKeyFails(t *testing.T) {
	path := writeSourceFile(t, []map[string]interface{}{
		{"total": 10.0},
	})

	mig := &config.MigrationConfig{
		DatabaseID:         "prod",
		IdentityCollection: "users",
		Collections: []config.CollectionConfig{
			{
				Name: "orders",
				Defs: []model.ImportDef{
					{Collection: "orders", PrimaryKey: "id", Source: model.SourceRef{Path: path}},
				},
			},
		},
	}

	client := store.NewMemoryClient()
	runner := newTestRunner(t, mig, client)

	summary, err := runner.RunMigration(context.Background(), "prod")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, client.DocumentCount("prod", "orders"))
}
