package staging

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrDuplicateSourceID indicates a second registration attempt for a
// source identifier already mapped within a collection. The original
// mapping is preserved.
var ErrDuplicateSourceID = errors.New("source identifier already registered")

// IDTables holds, per collection, the mapping from source-system
// identifiers to newly assigned target identifiers. Each source
// identifier is mapped exactly once; later registrations conflict.
type IDTables struct {
	mu     sync.RWMutex
	tables map[string]map[string]string
	logger *zap.Logger
}

// NewIDTables creates empty reconciliation tables
func NewIDTables(logger *zap.Logger) *IDTables {
	return &IDTables{
		tables: make(map[string]map[string]string),
		logger: logger,
	}
}

// Register maps a source identifier to its target identifier within a
// collection. Returns ErrDuplicateSourceID when the source identifier
// is already mapped; the existing mapping is kept.
func (t *IDTables) Register(collection, sourceID, targetID string) error {
	key := NormalizeKey(collection)

	t.mu.Lock()
	defer t.mu.Unlock()

	table, ok := t.tables[key]
	if !ok {
		table = make(map[string]string)
		t.tables[key] = table
	}

	if existing, ok := table[sourceID]; ok {
		t.logger.Error("Duplicate source identifier in reconciliation table",
			zap.String("collection", collection),
			zap.String("sourceId", sourceID),
			zap.String("existingTargetId", existing),
			zap.String("rejectedTargetId", targetID))
		return ErrDuplicateSourceID
	}

	table[sourceID] = targetID
	return nil
}

// Remap overwrites a source identifier's mapping. Used when the store
// turns out to already hold the document, whose id supersedes the
// provisionally assigned one.
func (t *IDTables) Remap(collection, sourceID, targetID string) {
	key := NormalizeKey(collection)

	t.mu.Lock()
	defer t.mu.Unlock()

	table, ok := t.tables[key]
	if !ok {
		table = make(map[string]string)
		t.tables[key] = table
	}
	table[sourceID] = targetID
}

// Lookup returns the target identifier mapped to a source identifier
func (t *IDTables) Lookup(collection, sourceID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	table, ok := t.tables[NormalizeKey(collection)]
	if !ok {
		return "", false
	}
	targetID, ok := table[sourceID]
	return targetID, ok
}

// HasTarget reports whether a target identifier appears as a value in a
// collection's table.
func (t *IDTables) HasTarget(collection, targetID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, tgt := range t.tables[NormalizeKey(collection)] {
		if tgt == targetID {
			return true
		}
	}
	return false
}

// Size returns the number of mappings in a collection's table
func (t *IDTables) Size(collection string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tables[NormalizeKey(collection)])
}
