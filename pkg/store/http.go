package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// Bookkeeping documents live in a reserved database so migration state
// never collides with migrated data.
const (
	opsDatabaseID        = "migrations"
	opsCollectionID      = "operations"
	batchesCollectionID  = "batches"
	identityListPageSize = 100
)

// HTTPClient talks to an Appwrite-compatible REST API. Transient
// failures (network errors, 429, 5xx) are retried with exponential
// backoff.
type HTTPClient struct {
	endpoint   string
	project    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
	logger     *zap.Logger
}

// NewHTTPClient creates a client for the given endpoint and project
func NewHTTPClient(endpoint, project, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		project:    project,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 4,
		logger:     logger,
	}
}

// apiError is a non-2xx response from the store
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("store API error %d: %s", e.Status, e.Message)
}

// retryable reports whether a request should be re-attempted
func retryable(err error) bool {
	if apiErr, ok := err.(*apiError); ok {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	// Network-level failures are retryable
	return true
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	operation := func() error {
		err := c.doOnce(ctx, method, path, query, body, out)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	return backoff.Retry(operation, policy)
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to encode request body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return backoff.Permanent(err)
	}

	req.Header.Set("X-Appwrite-Project", c.project)
	req.Header.Set("X-Appwrite-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := string(data)
		var wrapper struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &wrapper) == nil && wrapper.Message != "" {
			message = wrapper.Message
		}
		return &apiError{Status: resp.StatusCode, Message: message}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
	}

	return nil
}

// equalQueries builds equality filter expressions from a record
func equalQueries(filter model.Record) url.Values {
	query := url.Values{}
	for key, value := range filter {
		if value == nil {
			continue
		}
		switch value.(type) {
		case map[string]interface{}, model.Record, []interface{}:
			continue
		}
		query.Add("queries[]", fmt.Sprintf(`equal("%s", ["%v"])`, key, value))
	}
	return query
}

// documentEnvelope flattens store documents, whose attributes arrive at
// the top level alongside $-prefixed metadata.
type documentEnvelope map[string]interface{}

func (e documentEnvelope) toDocument() Document {
	doc := Document{Data: model.Record{}}
	for key, value := range e {
		switch key {
		case "$id":
			doc.ID = fmt.Sprintf("%v", value)
		case "$collectionId":
			doc.CollectionID = fmt.Sprintf("%v", value)
		case "$databaseId":
			doc.DatabaseID = fmt.Sprintf("%v", value)
		case "$createdAt", "$updatedAt", "$permissions", "$sequence":
			// Metadata; not part of the payload
		default:
			doc.Data[key] = value
		}
	}
	return doc
}

// DocumentExists looks up a document matching the candidate payload's
// scalar fields. Returns nil when no match exists.
func (c *HTTPClient) DocumentExists(ctx context.Context, databaseID, collectionID string, payload model.Record) (*Document, error) {
	query := equalQueries(payload)
	query.Add("queries[]", `limit(1)`)

	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents", databaseID, collectionID)
	var result struct {
		Total     int                `json:"total"`
		Documents []documentEnvelope `json:"documents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &result); err != nil {
		return nil, fmt.Errorf("document lookup failed: %w", err)
	}

	if len(result.Documents) == 0 {
		return nil, nil
	}
	doc := result.Documents[0].toDocument()
	return &doc, nil
}

// CreateDocument creates a document with an explicit id
func (c *HTTPClient) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, payload model.Record) (*Document, error) {
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents", databaseID, collectionID)
	body := map[string]interface{}{
		"documentId": documentID,
		"data":       payload,
	}

	var envelope documentEnvelope
	if err := c.doJSON(ctx, http.MethodPost, path, nil, body, &envelope); err != nil {
		return nil, fmt.Errorf("document create failed: %w", err)
	}
	doc := envelope.toDocument()
	return &doc, nil
}

// UpdateDocument patches a document's attributes
func (c *HTTPClient) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, payload model.Record) (*Document, error) {
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents/%s", databaseID, collectionID, documentID)
	body := map[string]interface{}{"data": payload}

	var envelope documentEnvelope
	if err := c.doJSON(ctx, http.MethodPatch, path, nil, body, &envelope); err != nil {
		return nil, fmt.Errorf("document update failed: %w", err)
	}
	doc := envelope.toDocument()
	return &doc, nil
}

// ListDocuments lists documents matching an equality filter
func (c *HTTPClient) ListDocuments(ctx context.Context, databaseID, collectionID string, filter model.Record) ([]Document, error) {
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents", databaseID, collectionID)

	var result struct {
		Total     int                `json:"total"`
		Documents []documentEnvelope `json:"documents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, equalQueries(filter), nil, &result); err != nil {
		return nil, fmt.Errorf("document list failed: %w", err)
	}

	docs := make([]Document, 0, len(result.Documents))
	for _, envelope := range result.Documents {
		docs = append(docs, envelope.toDocument())
	}
	return docs, nil
}

// DeleteDocument removes a document
func (c *HTTPClient) DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error {
	path := fmt.Sprintf("/v1/databases/%s/collections/%s/documents/%s", databaseID, collectionID, documentID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("document delete failed: %w", err)
	}
	return nil
}

// EnsureBucket creates a storage bucket if it does not already exist
func (c *HTTPClient) EnsureBucket(ctx context.Context, bucketID string) error {
	body := map[string]interface{}{
		"bucketId": bucketID,
		"name":     bucketID,
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/storage/buckets", nil, body, nil)
	if apiErr, ok := err.(*apiError); ok && apiErr.Status == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bucket create failed: %w", err)
	}
	return nil
}

// CreateFile uploads file bytes into a bucket
func (c *HTTPClient) CreateFile(ctx context.Context, bucketID, fileID, name string, data []byte) (*File, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("fileId", fileID); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/v1/storage/buckets/%s/files", c.endpoint, bucketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Appwrite-Project", c.project)
	req.Header.Set("X-Appwrite-Key", c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("file upload failed: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{Status: resp.StatusCode, Message: string(respData)}
	}

	var file File
	if err := json.Unmarshal(respData, &file); err != nil {
		return nil, fmt.Errorf("failed to decode file response: %w", err)
	}
	return &file, nil
}

// ListIdentities pages through every identity in the store
func (c *HTTPClient) ListIdentities(ctx context.Context) ([]Identity, error) {
	identities := make([]Identity, 0)
	offset := 0

	for {
		query := url.Values{}
		query.Add("queries[]", fmt.Sprintf("limit(%d)", identityListPageSize))
		query.Add("queries[]", fmt.Sprintf("offset(%d)", offset))

		var result struct {
			Total int        `json:"total"`
			Users []Identity `json:"users"`
		}
		if err := c.doJSON(ctx, http.MethodGet, "/v1/users", query, nil, &result); err != nil {
			return nil, fmt.Errorf("identity list failed: %w", err)
		}

		identities = append(identities, result.Users...)
		if len(result.Users) < identityListPageSize {
			return identities, nil
		}
		offset += identityListPageSize
	}
}

// CreateIdentity creates a new user identity
func (c *HTTPClient) CreateIdentity(ctx context.Context, identity Identity) (*Identity, error) {
	body := map[string]interface{}{
		"userId": identity.ID,
	}
	if identity.Email != "" {
		body["email"] = identity.Email
	}
	if identity.Phone != "" {
		body["phone"] = identity.Phone
	}
	if identity.Name != "" {
		body["name"] = identity.Name
	}

	var created Identity
	if err := c.doJSON(ctx, http.MethodPost, "/v1/users", nil, body, &created); err != nil {
		return nil, fmt.Errorf("identity create failed: %w", err)
	}
	return &created, nil
}

// FindOrCreateOperation returns the pending operation for a collection
// and kind, creating one when none exists.
func (c *HTTPClient) FindOrCreateOperation(ctx context.Context, collection, kind string) (*Operation, error) {
	filter := model.Record{
		"collection": collection,
		"kind":       kind,
		"status":     OperationPending,
	}
	docs, err := c.ListDocuments(ctx, opsDatabaseID, opsCollectionID, filter)
	if err != nil {
		return nil, fmt.Errorf("operation lookup failed: %w", err)
	}
	if len(docs) > 0 {
		return operationFromDocument(docs[0]), nil
	}

	op := &Operation{
		ID:         uuid.New().String(),
		Collection: collection,
		Kind:       kind,
		Status:     OperationPending,
		CreatedAt:  time.Now().UTC(),
	}
	payload := model.Record{
		"collection": op.Collection,
		"kind":       op.Kind,
		"status":     op.Status,
		"total":      0,
		"progress":   0,
		"createdAt":  op.CreatedAt.Format(time.RFC3339),
	}
	if _, err := c.CreateDocument(ctx, opsDatabaseID, opsCollectionID, op.ID, payload); err != nil {
		return nil, fmt.Errorf("operation create failed: %w", err)
	}
	return op, nil
}

// UpdateOperation patches operation bookkeeping fields
func (c *HTTPClient) UpdateOperation(ctx context.Context, operationID string, fields model.Record) error {
	if _, err := c.UpdateDocument(ctx, opsDatabaseID, opsCollectionID, operationID, fields); err != nil {
		return fmt.Errorf("operation update failed: %w", err)
	}
	return nil
}

// ListPendingOperations lists a collection's unfinished operations
func (c *HTTPClient) ListPendingOperations(ctx context.Context, collection string) ([]Operation, error) {
	filter := model.Record{
		"collection": collection,
		"status":     OperationPending,
	}
	docs, err := c.ListDocuments(ctx, opsDatabaseID, opsCollectionID, filter)
	if err != nil {
		return nil, fmt.Errorf("pending operation list failed: %w", err)
	}

	ops := make([]Operation, 0, len(docs))
	for _, doc := range docs {
		ops = append(ops, *operationFromDocument(doc))
	}
	return ops, nil
}

// CreateBatch attaches a serialized payload to an operation
func (c *HTTPClient) CreateBatch(ctx context.Context, operationID string, payload []byte) (*Batch, error) {
	batch := &Batch{
		ID:          uuid.New().String(),
		OperationID: operationID,
		Payload:     payload,
	}
	data := model.Record{
		"operationId": operationID,
		"payload":     string(payload),
	}
	if _, err := c.CreateDocument(ctx, opsDatabaseID, batchesCollectionID, batch.ID, data); err != nil {
		return nil, fmt.Errorf("batch create failed: %w", err)
	}
	return batch, nil
}

// ListBatches lists the payload batches attached to an operation
func (c *HTTPClient) ListBatches(ctx context.Context, operationID string) ([]Batch, error) {
	docs, err := c.ListDocuments(ctx, opsDatabaseID, batchesCollectionID, model.Record{"operationId": operationID})
	if err != nil {
		return nil, fmt.Errorf("batch list failed: %w", err)
	}

	batches := make([]Batch, 0, len(docs))
	for _, doc := range docs {
		batches = append(batches, Batch{
			ID:          doc.ID,
			OperationID: doc.Data.GetString("operationId"),
			Payload:     []byte(doc.Data.GetString("payload")),
		})
	}
	return batches, nil
}

// DeleteBatch removes a completed batch
func (c *HTTPClient) DeleteBatch(ctx context.Context, batchID string) error {
	return c.DeleteDocument(ctx, opsDatabaseID, batchesCollectionID, batchID)
}

func operationFromDocument(doc Document) *Operation {
	op := &Operation{
		ID:         doc.ID,
		Collection: doc.Data.GetString("collection"),
		Kind:       doc.Data.GetString("kind"),
		Status:     doc.Data.GetString("status"),
	}
	if total, ok := doc.Data["total"].(float64); ok {
		op.Total = int(total)
	}
	if progress, ok := doc.Data["progress"].(float64); ok {
		op.Progress = int(progress)
	}
	if created, err := time.Parse(time.RFC3339, doc.Data.GetString("createdAt")); err == nil {
		op.CreatedAt = created
	}
	return op
}
