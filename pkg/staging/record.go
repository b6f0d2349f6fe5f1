package staging

import (
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// ContextDocID is the context key holding the assigned target document
// id. A record without it is not yet created and must not be referenced.
const ContextDocID = "docId"

// ImportRecord is one staged unit of migration work: the untouched
// source row, the transformed payload, a mutable context bag that grows
// during processing, and the definition that produced it.
type ImportRecord struct {
	Raw     model.Record
	Context model.Record
	Final   model.Record
	Def     *model.ImportDef
}

// NewImportRecord stages a raw record with its transformed payload.
// The context starts as a copy of the raw source fields so later passes
// can match on either source or computed values.
func NewImportRecord(def *model.ImportDef, raw, final model.Record) *ImportRecord {
	ctx := raw.Clone()
	if ctx == nil {
		ctx = model.Record{}
	}
	return &ImportRecord{
		Raw:     raw,
		Context: ctx,
		Final:   final,
		Def:     def,
	}
}

// DocID returns the assigned target document id, or "" if the record
// has not been created yet.
func (r *ImportRecord) DocID() string {
	return r.Context.GetString(ContextDocID)
}

// SetDocID records the assigned target document id in the context
func (r *ImportRecord) SetDocID(id string) {
	r.Context[ContextDocID] = id
}

// SourceID returns the record's primary-key value from the raw source
// data, or "" when the definition has no primary key or the field is
// empty.
func (r *ImportRecord) SourceID() string {
	if r.Def == nil || r.Def.PrimaryKey == "" {
		return ""
	}
	return r.Raw.GetString(r.Def.PrimaryKey)
}

// CollectionStage holds all staged records for one target collection,
// along with the collection's declared schema when one is configured.
type CollectionStage struct {
	Schema  []model.AttributeSchema
	Records []*ImportRecord
}
