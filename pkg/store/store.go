package store

import (
	"context"
	"time"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// Document is a stored record in a target collection
type Document struct {
	ID           string       `json:"$id"`
	CollectionID string       `json:"$collectionId,omitempty"`
	DatabaseID   string       `json:"$databaseId,omitempty"`
	Data         model.Record `json:"data,omitempty"`
}

// Identity is a deduplicable user entity in the target store
type Identity struct {
	ID    string `json:"$id"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// File is an uploaded storage object
type File struct {
	ID       string `json:"$id"`
	BucketID string `json:"bucketId"`
	Name     string `json:"name"`
	Size     int64  `json:"sizeOriginal,omitempty"`
}

// Operation statuses
const (
	OperationPending   = "pending"
	OperationRunning   = "running"
	OperationCompleted = "completed"
	OperationFailed    = "failed"
)

// Operation is a durable bookkeeping record for one collection's
// processing, persisted in the store so a restart can discover pending
// work.
type Operation struct {
	ID         string    `json:"$id"`
	Collection string    `json:"collection"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Progress   int       `json:"progress"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

// Batch is one serialized payload attached to an operation
type Batch struct {
	ID          string `json:"$id"`
	OperationID string `json:"operationId"`
	Payload     []byte `json:"payload"`
}

// Client is the logical contract the migration core requires from the
// target document store. Implementations: HTTPClient against a live
// store, MemoryClient for dry runs and tests.
type Client interface {
	// Documents
	DocumentExists(ctx context.Context, databaseID, collectionID string, payload model.Record) (*Document, error)
	CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, payload model.Record) (*Document, error)
	UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, payload model.Record) (*Document, error)
	ListDocuments(ctx context.Context, databaseID, collectionID string, filter model.Record) ([]Document, error)
	DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error

	// Storage
	EnsureBucket(ctx context.Context, bucketID string) error
	CreateFile(ctx context.Context, bucketID, fileID, name string, data []byte) (*File, error)

	// Identities
	ListIdentities(ctx context.Context) ([]Identity, error)
	CreateIdentity(ctx context.Context, identity Identity) (*Identity, error)

	// Operation bookkeeping
	FindOrCreateOperation(ctx context.Context, collection, kind string) (*Operation, error)
	UpdateOperation(ctx context.Context, operationID string, fields model.Record) error
	ListPendingOperations(ctx context.Context, collection string) ([]Operation, error)
	CreateBatch(ctx context.Context, operationID string, payload []byte) (*Batch, error)
	ListBatches(ctx context.Context, operationID string) ([]Batch, error)
	DeleteBatch(ctx context.Context, batchID string) error
}
