package staging

import (
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// IdentityStageKey is the implicit stage for identity records. It
// exists on every import map even when no collection config names it.
const IdentityStageKey = "users"

// ErrStageNotFound indicates a lookup against an unconfigured collection.
// Non-fatal; callers skip the collection and report.
var ErrStageNotFound = errors.New("collection stage not found")

// ImportMap is the per-run staging store: one CollectionStage per
// configured collection plus the implicit identity stage, and the set
// of target ids already assigned per collection. All methods are safe
// for concurrent use.
type ImportMap struct {
	mu       sync.RWMutex
	stages   map[string]*CollectionStage
	assigned map[string]map[string]bool
	logger   *zap.Logger
}

// NewImportMap creates an empty import map with the implicit identity stage
func NewImportMap(logger *zap.Logger) *ImportMap {
	m := &ImportMap{
		stages:   make(map[string]*CollectionStage),
		assigned: make(map[string]map[string]bool),
		logger:   logger,
	}
	m.stages[IdentityStageKey] = &CollectionStage{}
	return m
}

// NormalizeKey canonicalizes a collection name for lookups: lower-cased
// with all whitespace stripped, so display-name formatting differences
// between config and source data do not matter.
func NormalizeKey(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// GetOrCreateStage returns the stage for a collection, creating it if needed
func (m *ImportMap) GetOrCreateStage(collection string) *CollectionStage {
	key := NormalizeKey(collection)

	m.mu.Lock()
	defer m.mu.Unlock()

	stage, ok := m.stages[key]
	if !ok {
		stage = &CollectionStage{}
		m.stages[key] = stage
	}
	return stage
}

// Stage returns the stage for a collection, or ErrStageNotFound
func (m *ImportMap) Stage(collection string) (*CollectionStage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stage, ok := m.stages[NormalizeKey(collection)]
	if !ok {
		return nil, ErrStageNotFound
	}
	return stage, nil
}

// SetSchema attaches a declared schema to a collection's stage
func (m *ImportMap) SetSchema(collection string, schema []model.AttributeSchema) {
	stage := m.GetOrCreateStage(collection)

	m.mu.Lock()
	defer m.mu.Unlock()
	stage.Schema = schema
}

// StageKeys returns the normalized keys of all stages
func (m *ImportMap) StageKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.stages))
	for key := range m.stages {
		keys = append(keys, key)
	}
	return keys
}

// PutRecord stages a record into a collection. A second record with the
// same source identifier or document id is staged with merge semantics:
// the new record's fields are deep-merged onto the existing staged
// record, and a duplicate-key diagnostic is logged for source id hits.
func (m *ImportMap) PutRecord(collection string, rec *ImportRecord) {
	m.StageRecord(collection, rec)
}

// StageRecord stages a record, folding it into any already staged
// record sharing its source identifier or document id. The lookup and
// the merge happen under one lock, so concurrent stagings of the same
// entity never lose fields. It returns a snapshot of the staged final
// payload and whether an existing record absorbed this one.
func (m *ImportMap) StageRecord(collection string, rec *ImportRecord) (model.Record, bool) {
	stage := m.GetOrCreateStage(collection)

	m.mu.Lock()
	defer m.mu.Unlock()

	sourceID := rec.SourceID()
	docID := rec.DocID()
	for _, existing := range stage.Records {
		bySource := sourceID != "" && existing.SourceID() == sourceID
		byDoc := docID != "" && existing.DocID() == docID
		if !bySource && !byDoc {
			continue
		}
		if bySource {
			m.logger.Warn("Duplicate source identifier staged; merging fields",
				zap.String("collection", collection),
				zap.String("sourceId", sourceID))
		}
		existing.Final = DeepMerge(existing.Final, rec.Final)
		existing.Context = DeepMerge(existing.Context, rec.Context)
		if existing.Def == nil {
			existing.Def = rec.Def
		}
		return existing.Final.Clone(), true
	}

	stage.Records = append(stage.Records, rec)
	return rec.Final.Clone(), false
}

// MergeInto deep-merges payload and context fields into the first
// staged record matching the predicate. The find and the merge happen
// under one lock, so concurrent updates against the same record never
// lose fields. Returns the record and a snapshot of its merged final
// payload, or nils when nothing matches.
func (m *ImportMap) MergeInto(collection string, pred func(*ImportRecord) bool, final, context model.Record) (*ImportRecord, model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stage, ok := m.stages[NormalizeKey(collection)]
	if !ok {
		return nil, nil
	}

	for _, rec := range stage.Records {
		if pred(rec) {
			rec.Final = DeepMerge(rec.Final, final)
			rec.Context = DeepMerge(rec.Context, context)
			return rec, rec.Final.Clone()
		}
	}
	return nil, nil
}

// FindRecordBy returns the first staged record matching the predicate,
// or nil when the collection is unknown or nothing matches.
func (m *ImportMap) FindRecordBy(collection string, pred func(*ImportRecord) bool) *ImportRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stage, ok := m.stages[NormalizeKey(collection)]
	if !ok {
		return nil
	}

	for _, rec := range stage.Records {
		if pred(rec) {
			return rec
		}
	}
	return nil
}

// Records returns a snapshot of a collection's staged records
func (m *ImportMap) Records(collection string) []*ImportRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stage, ok := m.stages[NormalizeKey(collection)]
	if !ok {
		return nil
	}

	out := make([]*ImportRecord, len(stage.Records))
	copy(out, stage.Records)
	return out
}

// AssignUniqueTargetID generates a target identifier guaranteed unused
// within the collection, and reserves it. Uniqueness is scoped per
// collection, not global.
func (m *ImportMap) AssignUniqueTargetID(collection string) string {
	key := NormalizeKey(collection)

	m.mu.Lock()
	defer m.mu.Unlock()

	ids, ok := m.assigned[key]
	if !ok {
		ids = make(map[string]bool)
		m.assigned[key] = ids
	}

	for {
		candidate := uuid.New().String()
		if !ids[candidate] {
			ids[candidate] = true
			return candidate
		}
	}
}

// MarkAssigned reserves an externally obtained identifier (for example
// one returned by the store for an already existing document) so it can
// never be handed out again within the collection.
func (m *ImportMap) MarkAssigned(collection, id string) {
	key := NormalizeKey(collection)

	m.mu.Lock()
	defer m.mu.Unlock()

	ids, ok := m.assigned[key]
	if !ok {
		ids = make(map[string]bool)
		m.assigned[key] = ids
	}
	ids[id] = true
}

// IsAssigned reports whether an identifier is reserved in a collection
func (m *ImportMap) IsAssigned(collection, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assigned[NormalizeKey(collection)][id]
}
