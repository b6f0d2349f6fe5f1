package model

// DefKind distinguishes create definitions from update definitions.
type DefKind string

const (
	// DefCreate produces new documents in the target collection.
	DefCreate DefKind = "create"
	// DefUpdate merges fields onto documents created earlier in the run.
	DefUpdate DefKind = "update"
)

// ImportDef describes how one source feeds one target collection: where
// the raw records come from, which field is the source primary key, how
// fields are renamed and converted, and which cross-collection
// references need resolving after all collections are loaded.
type ImportDef struct {
	Collection    string             `yaml:"collection"`
	Kind          DefKind            `yaml:"kind,omitempty"`
	Source        SourceRef          `yaml:"source"`
	PrimaryKey    string             `yaml:"primaryKey"`
	UpdateMapping *UpdateMapping     `yaml:"updateMapping,omitempty"`
	Attributes    []AttributeMapping `yaml:"attributes"`
	References    []ReferenceMapping `yaml:"references,omitempty"`
}

// IsUpdate reports whether this definition runs in the update pass.
func (d *ImportDef) IsUpdate() bool {
	return d.Kind == DefUpdate
}

// SourceRef names the origin of raw records for an import definition.
// Kind selects the connector ("file", "postgres", "snowflake"); Path is
// used by the file connector, Query by the database connectors.
type SourceRef struct {
	Kind  string `yaml:"kind,omitempty"`
	Path  string `yaml:"path,omitempty"`
	Query string `yaml:"query,omitempty"`
}

// UpdateMapping declares an alternate key for locating the record an
// update definition targets, when the update file does not carry the
// create file's primary key.
type UpdateMapping struct {
	SourceField string `yaml:"sourceField"`
	TargetField string `yaml:"targetField"`
}

// AttributeMapping renames one source field to its target attribute and
// optionally runs it through a converter chain. Template, when set,
// builds the value from multiple source fields instead of OldKey.
// FileData marks the attribute as deferred: after the document exists,
// the referenced file is uploaded and the attribute set to the file id.
type AttributeMapping struct {
	OldKey     string      `yaml:"oldKey,omitempty"`
	TargetKey  string      `yaml:"targetKey"`
	Template   string      `yaml:"template,omitempty"`
	Converters []string    `yaml:"converters,omitempty"`
	FileData   *FileAttach `yaml:"fileData,omitempty"`
}

// FileAttach describes a deferred file upload. Path may contain
// {field} placeholders expanded from the raw record.
type FileAttach struct {
	Bucket string `yaml:"bucket"`
	Path   string `yaml:"path"`
}

// ReferenceMapping declares a cross-collection reference: the value of
// SourceField on the referencing record is matched against TargetField
// in TargetCollection's staged records, and the matching record's final
// payload is written to SetField. Array marks one-to-many references.
type ReferenceMapping struct {
	SourceField      string `yaml:"sourceField"`
	TargetCollection string `yaml:"targetCollection"`
	TargetField      string `yaml:"targetField"`
	SetField         string `yaml:"setField"`
	Array            bool   `yaml:"array,omitempty"`
}

// AttributeSchema declares one attribute of a collection schema, used
// to validate transformed payloads before they are sent to the store.
type AttributeSchema struct {
	Key      string `yaml:"key"`
	Type     string `yaml:"type"` // string, integer, float, boolean, datetime
	Required bool   `yaml:"required,omitempty"`
	Array    bool   `yaml:"array,omitempty"`
}
