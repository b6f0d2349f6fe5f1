package importer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/config"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/resolver"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/source"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/staging"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/store"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/transform"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/validate"
)

// Runner drives a whole migration run for one target database: per
// collection it loads raw records, transforms them, deduplicates
// identities, creates and updates documents with bounded concurrency,
// then resolves cross-collection references in a single global pass and
// drains the deferred action queue.
//
// All staging state is owned by the Runner and discarded when the run
// ends; only the store's operation/batch bookkeeping survives.
type Runner struct {
	cfg         *config.Config
	mig         *config.MigrationConfig
	store       store.Client
	sources     *source.Factory
	imap        *staging.ImportMap
	ids         *staging.IDTables
	dedupe      *staging.Deduper
	transformer *transform.Transformer
	validator   *validate.Validator
	queue       *ActionQueue
	logger      *zap.Logger
}

// NewRunner creates a migration runner
func NewRunner(cfg *config.Config, mig *config.MigrationConfig, st store.Client, logger *zap.Logger) (*Runner, error) {
	if st == nil {
		return nil, fmt.Errorf("store client cannot be nil")
	}

	validator, err := validate.NewValidator(logger)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:         cfg,
		mig:         mig,
		store:       st,
		sources:     source.NewFactory(cfg, logger),
		imap:        staging.NewImportMap(logger),
		ids:         staging.NewIDTables(logger),
		dedupe:      staging.NewDeduper(logger),
		transformer: transform.NewTransformer(logger),
		validator:   validator,
		queue:       NewActionQueue(st, logger),
		logger:      logger,
	}, nil
}

// RunMigration migrates every configured collection into the target
// database. Safe to re-run after a partial failure: existing documents
// are skipped, and pending deferred actions are re-drained. It is not
// transactional; update passes may be re-attempted.
func (r *Runner) RunMigration(ctx context.Context, databaseID string) (*RunSummary, error) {
	r.logger.Info("Starting migration run",
		zap.String("databaseId", databaseID),
		zap.Int("collections", len(r.mig.Collections)))

	summary := NewRunSummary(databaseID)

	if err := r.seedIdentities(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed existing identities: %w", err)
	}

	for _, bucket := range r.mig.Buckets {
		if err := r.store.EnsureBucket(ctx, bucket); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket %s: %w", bucket, err)
		}
	}

	for _, coll := range r.mig.Collections {
		r.imap.SetSchema(coll.Name, coll.Schema)
	}

	// Create and update passes, a bounded number of collections at a
	// time. One collection's fatal error never stops the others.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.CollectionConcurrency)

	for i := range r.mig.Collections {
		coll := r.mig.Collections[i]
		g.Go(func() error {
			result := r.processCollection(gctx, databaseID, coll)
			mu.Lock()
			summary.AddCollection(result)
			mu.Unlock()
			return nil
		})
	}

	// Phase barrier: the resolver must see every collection fully staged
	if err := g.Wait(); err != nil {
		return summary, err
	}

	report := resolver.NewResolver(r.imap, r.dedupe, r.mig.IdentityCollection, r.logger).ResolveAll()
	summary.RewrittenRefs = report.Rewritten
	summary.ResolvedRefs = report.Resolved
	summary.SkippedRefs = report.Skipped
	summary.UnresolvedRefs = report.Unresolved

	r.flushResolved(ctx, databaseID)

	drained, pending := r.queue.Drain(ctx, r.mig.CollectionNames())
	summary.DrainedActions = drained
	summary.PendingActions = pending

	summary.Complete()

	r.logger.Info("Migration run completed",
		zap.String("databaseId", databaseID),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("merged", summary.Merged),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("unresolvedRefs", summary.UnresolvedRefs),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// seedIdentities registers already-existing identities so incoming
// records merge into them instead of creating duplicates.
func (r *Runner) seedIdentities(ctx context.Context) error {
	identities, err := r.store.ListIdentities(ctx)
	if err != nil {
		return err
	}

	for _, identity := range identities {
		r.dedupe.Seed(identity.ID, identity.Email, identity.Phone)
		r.imap.MarkAssigned(r.mig.IdentityCollection, identity.ID)
	}

	r.logger.Info("Seeded existing identities",
		zap.Int("count", len(identities)))

	return nil
}

// processCollection runs one collection's full state machine:
// PENDING -> CREATING -> UPDATING -> DONE. Missing operation metadata
// is fatal for the collection; everything else is per-record.
func (r *Runner) processCollection(ctx context.Context, databaseID string, coll config.CollectionConfig) *CollectionResult {
	result := NewCollectionResult(coll.Name)

	op, err := r.store.FindOrCreateOperation(ctx, coll.Name, "import")
	if err != nil {
		r.logger.Error("Missing operation metadata; aborting collection",
			zap.String("collection", coll.Name),
			zap.Error(err))
		result.Fail("operation", err)
		return result
	}

	var createDefs, updateDefs []*model.ImportDef
	for i := range coll.Defs {
		def := &coll.Defs[i]
		if def.IsUpdate() {
			updateDefs = append(updateDefs, def)
		} else {
			createDefs = append(createDefs, def)
		}
	}

	// Create pass
	r.setState(result, coll.Name, StateCreating)
	total := 0
	for _, def := range createDefs {
		records, err := r.loadRecords(ctx, def)
		if err != nil {
			r.logger.Error("Failed to load source records",
				zap.String("collection", coll.Name),
				zap.Error(err))
			result.Fail("source", err)
			continue
		}

		total += len(records)
		r.updateOperation(ctx, op.ID, model.Record{
			"status": store.OperationRunning,
			"total":  total,
		})

		r.processBatched(ctx, records, result, func(raw model.Record) ItemResult {
			return r.createRecord(ctx, databaseID, coll, def, raw)
		})
	}

	// Update pass, only after the create pass fully completed
	if len(updateDefs) > 0 {
		r.setState(result, coll.Name, StateUpdating)
		for _, def := range updateDefs {
			records, err := r.loadRecords(ctx, def)
			if err != nil {
				r.logger.Error("Failed to load source records",
					zap.String("collection", coll.Name),
					zap.Error(err))
				result.Fail("source", err)
				continue
			}

			r.processBatched(ctx, records, result, func(raw model.Record) ItemResult {
				return r.updateRecord(ctx, databaseID, coll, def, raw)
			})
		}
	}

	status := store.OperationCompleted
	if result.State == StateFailed {
		status = store.OperationFailed
	} else {
		result.Complete()
	}
	r.updateOperation(ctx, op.ID, model.Record{
		"status":   status,
		"progress": result.Processed(),
	})

	r.logger.Info("Collection processing finished",
		zap.String("collection", coll.Name),
		zap.String("state", string(result.State)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("merged", result.Merged),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))

	return result
}

// processBatched runs records through fn in bounded concurrent groups.
// A failure in one record never blocks or fails its siblings.
func (r *Runner) processBatched(ctx context.Context, records []model.Record, result *CollectionResult, fn func(model.Record) ItemResult) {
	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.BatchSize)

	for i := range records {
		raw := records[i]
		g.Go(func() error {
			item := fn(raw)
			if item.Err != nil {
				r.logger.Error("Record processing failed",
					zap.String("collection", result.Collection),
					zap.String("sourceId", item.SourceID),
					zap.String("stage", item.Stage),
					zap.Error(item.Err))
			}
			mu.Lock()
			result.Add(item)
			mu.Unlock()
			return nil
		})
	}

	// Barrier per pass: create completes before update starts
	_ = g.Wait()
}

// loadRecords opens and drains a definition's source
func (r *Runner) loadRecords(ctx context.Context, def *model.ImportDef) ([]model.Record, error) {
	src, err := r.sources.Open(ctx, def.Source)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return src.Load(ctx)
}

// createRecord processes one record of a create pass
func (r *Runner) createRecord(ctx context.Context, databaseID string, coll config.CollectionConfig, def *model.ImportDef, raw model.Record) ItemResult {
	sourceID := strings.TrimSpace(raw.GetString(def.PrimaryKey))
	if sourceID == "" {
		return failed(sourceID, "create", fmt.Errorf("record has no %q primary key value", def.PrimaryKey))
	}

	final, err := r.transformer.Apply(def, raw)
	if err != nil {
		return failed(sourceID, "transform", err)
	}

	if err := r.validator.ValidatePayload(coll.Schema, final); err != nil {
		r.logger.Error("Payload failed schema validation",
			zap.String("collection", coll.Name),
			zap.String("sourceId", sourceID),
			zap.Any("payload", final),
			zap.Error(err))
		return skipped(sourceID, "validate", err)
	}

	targetID := r.imap.AssignUniqueTargetID(coll.Name)
	wasMerged := false

	if coll.Identity {
		targetID, wasMerged = r.resolveIdentity(ctx, targetID, sourceID, final)
	}

	// Registration doubles as the duplicate check: a second create for
	// the same source id is rejected here, never overwriting the first.
	if err := r.ids.Register(coll.Name, sourceID, targetID); err != nil {
		return failed(sourceID, "create", err)
	}

	rec := staging.NewImportRecord(def, raw, final)
	rec.SetDocID(targetID)
	rec.Context["databaseId"] = databaseID
	rec.Context["collectionId"] = coll.Name

	if wasMerged {
		// Fold fields onto the already staged canonical record rather
		// than creating a second document for the same entity. When the
		// canonical record is not staged yet this one stages first and
		// its creator folds into it on arrival, so no fields are lost
		// either way.
		mergedFinal, existed := r.imap.StageRecord(coll.Name, rec)
		if existed {
			if _, err := r.store.UpdateDocument(ctx, databaseID, coll.Name, targetID, mergedFinal); err != nil {
				// The canonical document may not exist yet; its creator
				// writes the merged payload right after creating it.
				r.logger.Warn("Deferred merged-identity write",
					zap.String("collection", coll.Name),
					zap.String("targetId", targetID),
					zap.Error(err))
			}
		}
		r.enqueueActions(ctx, databaseID, coll.Name, targetID, def, raw)
		return merged(sourceID, targetID)
	}

	// Skip creation when a matching document already exists in the store
	var existing *store.Document
	if len(final) > 0 {
		existing, err = r.store.DocumentExists(ctx, databaseID, coll.Name, final)
		if err != nil {
			return failed(sourceID, "create", err)
		}
	}
	if existing != nil {
		r.ids.Remap(coll.Name, sourceID, existing.ID)
		rec.SetDocID(existing.ID)
		r.imap.MarkAssigned(coll.Name, existing.ID)
		r.imap.PutRecord(coll.Name, rec)
		r.enqueueActions(ctx, databaseID, coll.Name, existing.ID, def, raw)
		return ItemResult{SourceID: sourceID, TargetID: existing.ID, Action: ActionSkipped}
	}

	if _, err := r.store.CreateDocument(ctx, databaseID, coll.Name, targetID, final); err != nil {
		return failed(sourceID, "create", err)
	}

	mergedFinal, existed := r.imap.StageRecord(coll.Name, rec)
	if existed {
		// Concurrent identity merges staged their fields before this
		// record did; bring the created document up to the merged payload.
		if _, err := r.store.UpdateDocument(ctx, databaseID, coll.Name, targetID, mergedFinal); err != nil {
			return failed(sourceID, "create", err)
		}
	}
	r.enqueueActions(ctx, databaseID, coll.Name, targetID, def, raw)

	return created(sourceID, targetID)
}

// resolveIdentity folds an identity-bearing record into the dedup
// engine: the winning identity id becomes the record's document id, a
// fresh identity is created in the store, and identity-only fields are
// moved off the domain payload onto the identity stage.
func (r *Runner) resolveIdentity(ctx context.Context, candidateID, sourceID string, final model.Record) (string, bool) {
	email := strings.TrimSpace(strings.ToLower(final.GetString("email")))
	phone := strings.TrimSpace(final.GetString("phone"))
	name := final.GetString("name")

	targetID, wasMerged := r.dedupe.Resolve(candidateID, sourceID, email, phone)
	identityFields := staging.StripIdentityFields(final)

	if !wasMerged {
		if _, err := r.store.CreateIdentity(ctx, store.Identity{
			ID:    targetID,
			Email: email,
			Phone: phone,
			Name:  name,
		}); err != nil {
			// The domain document still gets created; the identity can
			// be reconciled on a later run.
			r.logger.Error("Failed to create identity",
				zap.String("sourceId", sourceID),
				zap.String("targetId", targetID),
				zap.Error(err))
		}

		identityRec := staging.NewImportRecord(nil, model.Record{"sourceId": sourceID}, identityFields)
		identityRec.SetDocID(targetID)
		r.imap.PutRecord(r.mig.IdentityCollection, identityRec)
	}

	return targetID, wasMerged
}

// updateRecord processes one record of an update pass
func (r *Runner) updateRecord(ctx context.Context, databaseID string, coll config.CollectionConfig, def *model.ImportDef, raw model.Record) ItemResult {
	sourceID := strings.TrimSpace(raw.GetString(def.PrimaryKey))

	located := r.locateForUpdate(coll.Name, def, raw, sourceID)
	if located == nil {
		return skipped(sourceID, "update",
			fmt.Errorf("no previously created record matches this update"))
	}

	final, err := r.transformer.Apply(def, raw)
	if err != nil {
		return failed(sourceID, "transform", err)
	}

	if err := r.validator.ValidatePayload(coll.Schema, final); err != nil {
		r.logger.Error("Payload failed schema validation",
			zap.String("collection", coll.Name),
			zap.String("sourceId", sourceID),
			zap.Any("payload", final),
			zap.Error(err))
		return skipped(sourceID, "validate", err)
	}

	// The find and the merge run atomically inside the import map, so
	// concurrent updates against the same staged record never lose fields.
	target, mergedFinal := r.imap.MergeInto(coll.Name, func(rec *staging.ImportRecord) bool {
		return rec == located
	}, final, raw)
	if target == nil {
		return skipped(sourceID, "update",
			fmt.Errorf("no previously created record matches this update"))
	}

	if _, err := r.store.UpdateDocument(ctx, databaseID, coll.Name, target.DocID(), mergedFinal); err != nil {
		return failed(sourceID, "update", err)
	}

	r.enqueueActions(ctx, databaseID, coll.Name, target.DocID(), def, raw)

	return updated(sourceID, target.DocID())
}

// locateForUpdate finds the staged record an update targets, by primary
// key or by the definition's alternate update mapping.
func (r *Runner) locateForUpdate(collection string, def *model.ImportDef, raw model.Record, sourceID string) *staging.ImportRecord {
	if def.UpdateMapping != nil {
		wanted := raw.GetString(def.UpdateMapping.SourceField)
		if wanted == "" {
			return nil
		}
		field := def.UpdateMapping.TargetField
		return r.imap.FindRecordBy(collection, func(rec *staging.ImportRecord) bool {
			return rec.DocID() != "" && rec.Context.GetString(field) == wanted
		})
	}

	if sourceID == "" {
		return nil
	}

	targetID, ok := r.ids.Lookup(collection, sourceID)
	if !ok {
		// An identity record may have merged away; its source id still
		// maps to the canonical entity.
		if canonical, found := r.dedupe.CanonicalFor(sourceID); found {
			targetID = canonical
		} else {
			return nil
		}
	}

	return r.imap.FindRecordBy(collection, func(rec *staging.ImportRecord) bool {
		return rec.DocID() == targetID
	})
}

// enqueueActions persists the definition's deferred file actions
func (r *Runner) enqueueActions(ctx context.Context, databaseID, collection, documentID string, def *model.ImportDef, raw model.Record) {
	for _, attr := range def.Attributes {
		if attr.FileData == nil {
			continue
		}

		action := Action{
			Kind:       ActionAttachFile,
			DatabaseID: databaseID,
			Collection: collection,
			DocumentID: documentID,
			Field:      attr.TargetKey,
			Bucket:     attr.FileData.Bucket,
			Path:       transform.ExpandTemplate(attr.FileData.Path, raw),
		}

		if err := r.queue.Enqueue(ctx, action); err != nil {
			r.logger.Error("Failed to enqueue deferred action",
				zap.String("collection", collection),
				zap.String("documentId", documentID),
				zap.Error(err))
		}
	}
}

// flushResolved writes resolved reference fields back to the store for
// every staged record that declares references.
func (r *Runner) flushResolved(ctx context.Context, databaseID string) {
	for _, coll := range r.mig.Collections {
		for _, rec := range r.imap.Records(coll.Name) {
			if rec.Def == nil || len(rec.Def.References) == 0 || rec.DocID() == "" {
				continue
			}
			if _, err := r.store.UpdateDocument(ctx, databaseID, coll.Name, rec.DocID(), rec.Final); err != nil {
				r.logger.Error("Failed to flush resolved references",
					zap.String("collection", coll.Name),
					zap.String("documentId", rec.DocID()),
					zap.Error(err))
			}
		}
	}
}

// setState transitions a collection's pipeline state with logging
func (r *Runner) setState(result *CollectionResult, collection string, state CollectionState) {
	result.State = state
	r.logger.Info("Collection state changed",
		zap.String("collection", collection),
		zap.String("state", string(state)))
}

// updateOperation patches operation bookkeeping, logging failures
func (r *Runner) updateOperation(ctx context.Context, operationID string, fields model.Record) {
	if err := r.store.UpdateOperation(ctx, operationID, fields); err != nil {
		r.logger.Error("Failed to update operation",
			zap.String("operationId", operationID),
			zap.Error(err))
	}
}
