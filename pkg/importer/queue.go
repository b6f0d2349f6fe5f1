package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/store"
)

// PostImportKind is the operation kind used for deferred actions
const PostImportKind = "post-import"

// ActionAttachFile uploads a file and writes its id onto a document
const ActionAttachFile = "attachFile"

// Action is one deferred side effect that requires its document to
// already exist. Actions are serialized into store batches so a restart
// discovers pending work instead of losing it.
type Action struct {
	Kind       string `json:"kind"`
	DatabaseID string `json:"databaseId"`
	Collection string `json:"collection"`
	DocumentID string `json:"documentId"`
	Field      string `json:"field"`
	Bucket     string `json:"bucket"`
	Path       string `json:"path"`
}

// ActionQueue is the durable, resumable queue of deferred actions,
// keyed by owning collection and persisted as operation/batch records.
type ActionQueue struct {
	store  store.Client
	logger *zap.Logger

	mu  sync.Mutex
	ops map[string]*store.Operation // collection -> post-import operation
}

// NewActionQueue creates a queue over the given store
func NewActionQueue(st store.Client, logger *zap.Logger) *ActionQueue {
	return &ActionQueue{
		store:  st,
		logger: logger,
		ops:    make(map[string]*store.Operation),
	}
}

// Enqueue persists a deferred action under its collection's operation
func (q *ActionQueue) Enqueue(ctx context.Context, action Action) error {
	op, err := q.operationFor(ctx, action.Collection)
	if err != nil {
		return fmt.Errorf("failed to resolve post-import operation: %w", err)
	}

	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to serialize action: %w", err)
	}

	if _, err := q.store.CreateBatch(ctx, op.ID, payload); err != nil {
		return fmt.Errorf("failed to persist action batch: %w", err)
	}

	q.logger.Debug("Enqueued deferred action",
		zap.String("collection", action.Collection),
		zap.String("kind", action.Kind),
		zap.String("documentId", action.DocumentID))

	return nil
}

func (q *ActionQueue) operationFor(ctx context.Context, collection string) (*store.Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op, ok := q.ops[collection]; ok {
		return op, nil
	}

	op, err := q.store.FindOrCreateOperation(ctx, collection, PostImportKind)
	if err != nil {
		return nil, err
	}
	q.ops[collection] = op
	return op, nil
}

// Drain fetches every collection's pending post-import operations,
// executes each batch's action, deletes completed batches and marks
// fully drained operations completed. A failing batch is logged and
// left in place for a future drain attempt; delivery is at-least-once.
func (q *ActionQueue) Drain(ctx context.Context, collections []string) (drained, pending int) {
	for _, collection := range collections {
		ops, err := q.store.ListPendingOperations(ctx, collection)
		if err != nil {
			q.logger.Error("Failed to list pending operations",
				zap.String("collection", collection),
				zap.Error(err))
			continue
		}

		for _, op := range ops {
			if op.Kind != PostImportKind {
				continue
			}

			batches, err := q.store.ListBatches(ctx, op.ID)
			if err != nil {
				q.logger.Error("Failed to list operation batches",
					zap.String("collection", collection),
					zap.String("operationId", op.ID),
					zap.Error(err))
				continue
			}

			remaining := 0
			for _, batch := range batches {
				var action Action
				if err := json.Unmarshal(batch.Payload, &action); err != nil {
					q.logger.Error("Unreadable action batch; leaving in place",
						zap.String("batchId", batch.ID),
						zap.Error(err))
					remaining++
					continue
				}

				if err := q.execute(ctx, action); err != nil {
					q.logger.Error("Deferred action failed; will retry on next drain",
						zap.String("collection", action.Collection),
						zap.String("kind", action.Kind),
						zap.String("documentId", action.DocumentID),
						zap.Error(err))
					remaining++
					continue
				}

				if err := q.store.DeleteBatch(ctx, batch.ID); err != nil {
					q.logger.Error("Failed to delete completed batch",
						zap.String("batchId", batch.ID),
						zap.Error(err))
					remaining++
					continue
				}
				drained++
			}

			pending += remaining
			if remaining == 0 {
				if err := q.store.UpdateOperation(ctx, op.ID, model.Record{"status": store.OperationCompleted}); err != nil {
					q.logger.Error("Failed to mark operation completed",
						zap.String("operationId", op.ID),
						zap.Error(err))
				}
			}
		}
	}

	q.logger.Info("Drained deferred actions",
		zap.Int("drained", drained),
		zap.Int("pending", pending))

	return drained, pending
}

// execute runs one deferred action. Actions are idempotent: re-running
// an attachFile overwrites the same document field.
func (q *ActionQueue) execute(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionAttachFile:
		data, err := os.ReadFile(action.Path)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", action.Path, err)
		}

		if err := q.store.EnsureBucket(ctx, action.Bucket); err != nil {
			return fmt.Errorf("failed to ensure bucket %s: %w", action.Bucket, err)
		}

		file, err := q.store.CreateFile(ctx, action.Bucket, uuid.New().String(), filepath.Base(action.Path), data)
		if err != nil {
			return fmt.Errorf("failed to upload file: %w", err)
		}

		payload := model.Record{action.Field: file.ID}
		if _, err := q.store.UpdateDocument(ctx, action.DatabaseID, action.Collection, action.DocumentID, payload); err != nil {
			return fmt.Errorf("failed to set file field: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}
