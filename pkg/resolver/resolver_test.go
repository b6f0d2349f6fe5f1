package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/resolver"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/staging"
)

func stageRecord(m *staging.ImportMap, collection string, def *model.ImportDef, raw model.Record, docID string) *staging.ImportRecord {
	rec := staging.NewImportRecord(def, raw, raw.Clone())
	if docID != "" {
		rec.SetDocID(docID)
	}
	m.PutRecord(collection, rec)
	return rec
}

func TestResolveScalarReference(t *testing.T) {
	imap := staging.NewImportMap(zap.NewNop())
	dedupe := staging.NewDeduper(zap.NewNop())

	customerDef := &model.ImportDef{Collection: "customers", PrimaryKey: "id"}
	stageRecord(imap, "customers", customerDef, model.Record{"id": "c-1"}, "cust-target-1")

	orderDef := &model.ImportDef{
		Collection: "orders",
		PrimaryKey: "id",
		References: []model.ReferenceMapping{
			{SourceField: "customer_id", TargetCollection: "customers", TargetField: "id", SetField: "customer"},
		},
	}
	order := stageRecord(imap, "orders", orderDef, model.Record{"id": "o-1", "customer_id": "c-1"}, "order-target-1")

	report := resolver.NewResolver(imap, dedupe, "users", zap.NewNop()).ResolveAll()

	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 0, report.Unresolved)
	// Single object, not an array: the mapping is not array-typed
	assert.Equal(t, model.Record{"id": "c-1"}, order.Final["customer"])
}

func TestResolveArrayReference(t *testing.T) {
	imap := staging.NewImportMap(zap.NewNop())
	dedupe := staging.NewDeduper(zap.NewNop())

	itemDef := &model.ImportDef{Collection: "items", PrimaryKey: "sku"}
	stageRecord(imap, "items", itemDef, model.Record{"sku": "sku-1"}, "item-1")
	stageRecord(imap, "items", itemDef, model.Record{"sku": "sku-2"}, "item-2")

	orderDef := &model.ImportDef{
		Collection: "orders",
		PrimaryKey: "id",
		References: []model.ReferenceMapping{
			{SourceField: "skus", TargetCollection: "items", TargetField: "sku", SetField: "items", Array: true},
		},
	}
	order := stageRecord(imap, "orders", orderDef,
		model.Record{"id": "o-1", "skus": []interface{}{"sku-1", "sku-2"}}, "order-1")

	report := resolver.NewResolver(imap, dedupe, "users", zap.NewNop()).ResolveAll()

	assert.Equal(t, 1, report.Resolved)
	matches, ok := order.Final["items"].([]interface{})
	require.True(t, ok)
	assert.ElementsMatch(t, []interface{}{
		model.Record{"sku": "sku-1"},
		model.Record{"sku": "sku-2"},
	}, matches)
}

func TestResolveRewritesMergedIdentityReferences(t *testing.T) {
	imap := staging.NewImportMap(zap.NewNop())
	dedupe := staging.NewDeduper(zap.NewNop())

	// Two source user records merged into one identity
	winner, _ := dedupe.Resolve("cand-1", "u-1", "ada@example.com", "")
	mergedID, merged := dedupe.Resolve("cand-2", "u-2", "ada@example.com", "")
	require.True(t, merged)
	require.Equal(t, winner, mergedID)

	identityRec := staging.NewImportRecord(nil, model.Record{"sourceId": "u-1"}, model.Record{})
	identityRec.SetDocID(winner)
	imap.PutRecord("users", identityRec)

	// The order references the merged-away source id u-2
	orderDef := &model.ImportDef{
		Collection: "orders",
		PrimaryKey: "id",
		References: []model.ReferenceMapping{
			{SourceField: "owner", TargetCollection: "users", TargetField: "sourceId", SetField: "owner"},
		},
	}
	order := stageRecord(imap, "orders", orderDef, model.Record{"id": "o-1", "owner": "u-2"}, "order-1")

	report := resolver.NewResolver(imap, dedupe, "users", zap.NewNop()).ResolveAll()

	assert.Equal(t, 1, report.Rewritten)
	assert.Equal(t, winner, order.Context["owner"])
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 0, report.Unresolved)
	assert.Equal(t, model.Record{}, order.Final["owner"])
}

func TestResolveSkipsRecordsWithoutDocumentID(t *testing.T) {
	imap := staging.NewImportMap(zap.NewNop())
	dedupe := staging.NewDeduper(zap.NewNop())

	customerDef := &model.ImportDef{Collection: "customers", PrimaryKey: "id"}
	// Never created in the store; must not be referenced
	stageRecord(imap, "customers", customerDef, model.Record{"id": "c-1"}, "")

	orderDef := &model.ImportDef{
		Collection: "orders",
		PrimaryKey: "id",
		References: []model.ReferenceMapping{
			{SourceField: "customer_id", TargetCollection: "customers", TargetField: "id", SetField: "customer"},
		},
	}
	order := stageRecord(imap, "orders", orderDef, model.Record{"id": "o-1", "customer_id": "c-1"}, "order-1")

	report := resolver.NewResolver(imap, dedupe, "users", zap.NewNop()).ResolveAll()

	assert.Equal(t, 1, report.Unresolved)
	assert.NotContains(t, order.Final, "customer")
}

func TestResolveAbsentValueIsNotAnError(t *testing.T) {
	imap := staging.NewImportMap(zap.NewNop())
	dedupe := staging.NewDeduper(zap.NewNop())

	orderDef := &model.ImportDef{
		Collection: "orders",
		PrimaryKey: "id",
		References: []model.ReferenceMapping{
			{SourceField: "customer_id", TargetCollection: "customers", TargetField: "id", SetField: "customer"},
		},
	}
	order := stageRecord(imap, "orders", orderDef, model.Record{"id": "o-1"}, "order-1")

	report := resolver.NewResolver(imap, dedupe, "users", zap.NewNop()).ResolveAll()

	assert.Equal(t, 0, report.Resolved)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Unresolved)
	assert.NotContains(t, order.Final, "customer")
}

func TestResolveNoMatchLeavesFieldUnset(t *testing.T) {
	imap := staging.NewImportMap(zap.NewNop())
	dedupe := staging.NewDeduper(zap.NewNop())

	customerDef := &model.ImportDef{Collection: "customers", PrimaryKey: "id"}
	stageRecord(imap, "customers", customerDef, model.Record{"id": "c-1"}, "cust-1")

	orderDef := &model.ImportDef{
		Collection: "orders",
		PrimaryKey: "id",
		References: []model.ReferenceMapping{
			{SourceField: "customer_id", TargetCollection: "customers", TargetField: "id", SetField: "customer"},
		},
	}
	order := stageRecord(imap, "orders", orderDef, model.Record{"id": "o-1", "customer_id": "c-999"}, "order-1")

	report := resolver.NewResolver(imap, dedupe, "users", zap.NewNop()).ResolveAll()

	assert.Equal(t, 1, report.Unresolved)
	assert.NotContains(t, order.Final, "customer")
}
