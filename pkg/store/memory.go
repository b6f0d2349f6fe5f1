package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// MemoryClient is an in-process Client used for dry runs and tests.
// It mirrors the store's observable behavior (explicit ids, conflict on
// duplicate document ids, operation/batch bookkeeping) without network
// calls.
type MemoryClient struct {
	mu         sync.Mutex
	documents  map[string]map[string]map[string]Document // db -> collection -> id
	identities map[string]Identity
	files      map[string]File
	buckets    map[string]bool
	operations map[string]*Operation
	batches    map[string]Batch
}

// NewMemoryClient creates an empty in-memory store
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		documents:  make(map[string]map[string]map[string]Document),
		identities: make(map[string]Identity),
		files:      make(map[string]File),
		buckets:    make(map[string]bool),
		operations: make(map[string]*Operation),
		batches:    make(map[string]Batch),
	}
}

func (m *MemoryClient) collectionDocs(databaseID, collectionID string) map[string]Document {
	db, ok := m.documents[databaseID]
	if !ok {
		db = make(map[string]map[string]Document)
		m.documents[databaseID] = db
	}
	coll, ok := db[collectionID]
	if !ok {
		coll = make(map[string]Document)
		db[collectionID] = coll
	}
	return coll
}

func matchesFilter(doc Document, filter model.Record) bool {
	for key, value := range filter {
		if value == nil {
			continue
		}
		switch value.(type) {
		case map[string]interface{}, model.Record, []interface{}:
			continue
		}
		if doc.Data.GetString(key) != fmt.Sprintf("%v", value) {
			return false
		}
	}
	return true
}

// DocumentExists returns a document whose scalar fields match the payload
func (m *MemoryClient) DocumentExists(ctx context.Context, databaseID, collectionID string, payload model.Record) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range m.collectionDocs(databaseID, collectionID) {
		if matchesFilter(doc, payload) {
			found := doc
			return &found, nil
		}
	}
	return nil, nil
}

// CreateDocument stores a new document under an explicit id
func (m *MemoryClient) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, payload model.Record) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collectionDocs(databaseID, collectionID)
	if _, exists := docs[documentID]; exists {
		return nil, fmt.Errorf("document %s already exists in %s/%s", documentID, databaseID, collectionID)
	}

	doc := Document{
		ID:           documentID,
		CollectionID: collectionID,
		DatabaseID:   databaseID,
		Data:         payload.Clone(),
	}
	docs[documentID] = doc
	return &doc, nil
}

// UpdateDocument merges fields onto an existing document
func (m *MemoryClient) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, payload model.Record) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collectionDocs(databaseID, collectionID)
	doc, exists := docs[documentID]
	if !exists {
		return nil, fmt.Errorf("document %s not found in %s/%s", documentID, databaseID, collectionID)
	}

	for key, value := range payload {
		doc.Data[key] = value
	}
	docs[documentID] = doc
	return &doc, nil
}

// ListDocuments returns documents matching an equality filter
func (m *MemoryClient) ListDocuments(ctx context.Context, databaseID, collectionID string, filter model.Record) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Document, 0)
	for _, doc := range m.collectionDocs(databaseID, collectionID) {
		if matchesFilter(doc, filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// DeleteDocument removes a document
func (m *MemoryClient) DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collectionDocs(databaseID, collectionID)
	if _, exists := docs[documentID]; !exists {
		return fmt.Errorf("document %s not found in %s/%s", documentID, databaseID, collectionID)
	}
	delete(docs, documentID)
	return nil
}

// EnsureBucket registers a storage bucket
func (m *MemoryClient) EnsureBucket(ctx context.Context, bucketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucketID] = true
	return nil
}

// CreateFile stores file metadata
func (m *MemoryClient) CreateFile(ctx context.Context, bucketID, fileID, name string, data []byte) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file := File{
		ID:       fileID,
		BucketID: bucketID,
		Name:     name,
		Size:     int64(len(data)),
	}
	m.files[fileID] = file
	return &file, nil
}

// ListIdentities returns every stored identity
func (m *MemoryClient) ListIdentities(ctx context.Context) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Identity, 0, len(m.identities))
	for _, identity := range m.identities {
		out = append(out, identity)
	}
	return out, nil
}

// CreateIdentity stores a new identity
func (m *MemoryClient) CreateIdentity(ctx context.Context, identity Identity) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if identity.ID == "" {
		identity.ID = uuid.New().String()
	}
	if _, exists := m.identities[identity.ID]; exists {
		return nil, fmt.Errorf("identity %s already exists", identity.ID)
	}
	m.identities[identity.ID] = identity
	return &identity, nil
}

// FindOrCreateOperation returns a collection's pending operation,
// creating one when none exists.
func (m *MemoryClient) FindOrCreateOperation(ctx context.Context, collection, kind string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range m.operations {
		if op.Collection == collection && op.Kind == kind && op.Status == OperationPending {
			found := *op
			return &found, nil
		}
	}

	op := &Operation{
		ID:         uuid.New().String(),
		Collection: collection,
		Kind:       kind,
		Status:     OperationPending,
		CreatedAt:  time.Now().UTC(),
	}
	m.operations[op.ID] = op
	found := *op
	return &found, nil
}

// UpdateOperation patches operation fields
func (m *MemoryClient) UpdateOperation(ctx context.Context, operationID string, fields model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, exists := m.operations[operationID]
	if !exists {
		return fmt.Errorf("operation %s not found", operationID)
	}

	if status, ok := fields["status"].(string); ok {
		op.Status = status
	}
	if total, ok := fields["total"].(int); ok {
		op.Total = total
	}
	if progress, ok := fields["progress"].(int); ok {
		op.Progress = progress
	}
	return nil
}

// ListPendingOperations returns a collection's unfinished operations
func (m *MemoryClient) ListPendingOperations(ctx context.Context, collection string) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Operation, 0)
	for _, op := range m.operations {
		if op.Collection == collection && op.Status == OperationPending {
			out = append(out, *op)
		}
	}
	return out, nil
}

// CreateBatch attaches a payload to an operation
func (m *MemoryClient) CreateBatch(ctx context.Context, operationID string, payload []byte) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.operations[operationID]; !exists {
		return nil, fmt.Errorf("operation %s not found", operationID)
	}

	batch := Batch{
		ID:          uuid.New().String(),
		OperationID: operationID,
		Payload:     append([]byte(nil), payload...),
	}
	m.batches[batch.ID] = batch
	return &batch, nil
}

// ListBatches returns an operation's batches
func (m *MemoryClient) ListBatches(ctx context.Context, operationID string) ([]Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Batch, 0)
	for _, batch := range m.batches {
		if batch.OperationID == operationID {
			out = append(out, batch)
		}
	}
	return out, nil
}

// DeleteBatch removes a batch
func (m *MemoryClient) DeleteBatch(ctx context.Context, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[batchID]; !exists {
		return fmt.Errorf("batch %s not found", batchID)
	}
	delete(m.batches, batchID)
	return nil
}

// DocumentCount reports how many documents a collection holds
func (m *MemoryClient) DocumentCount(databaseID, collectionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collectionDocs(databaseID, collectionID))
}

// Document returns a stored document by id
func (m *MemoryClient) Document(databaseID, collectionID, documentID string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collectionDocs(databaseID, collectionID)[documentID]
	return doc, ok
}

// IdentityCount reports how many identities exist
func (m *MemoryClient) IdentityCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.identities)
}

// OperationStatus reports a collection's operation status
func (m *MemoryClient) OperationStatus(collection, kind string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range m.operations {
		if op.Collection == collection && op.Kind == kind {
			return op.Status, true
		}
	}
	return "", false
}

// BatchCount reports how many batches remain
func (m *MemoryClient) BatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
