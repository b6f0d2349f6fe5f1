package transform

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// Transformer applies an import definition's attribute mappings to raw
// source records, producing the payload shape the target collection
// expects.
type Transformer struct {
	logger *zap.Logger
}

// NewTransformer creates a new Transformer
func NewTransformer(logger *zap.Logger) *Transformer {
	return &Transformer{logger: logger}
}

var templatePattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Apply transforms a raw record per the definition's attribute mappings.
// A definition with no attribute mappings passes the record through
// unchanged. A converter failure fails the whole record; the caller
// decides whether to skip it.
func (t *Transformer) Apply(def *model.ImportDef, raw model.Record) (model.Record, error) {
	if len(def.Attributes) == 0 {
		return raw.Clone(), nil
	}

	out := make(model.Record, len(def.Attributes))
	for _, attr := range def.Attributes {
		// Deferred file attributes are filled in by the action queue
		// after the document exists.
		if attr.FileData != nil && attr.OldKey == "" && attr.Template == "" {
			continue
		}

		var value interface{}
		if attr.Template != "" {
			value = ExpandTemplate(attr.Template, raw)
		} else {
			value = raw[attr.OldKey]
		}

		for _, name := range attr.Converters {
			converted, err := Convert(name, value)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: converter %q: %w", attr.TargetKey, name, err)
			}
			value = converted
		}

		if value == nil {
			continue
		}
		out[attr.TargetKey] = value
	}

	return out, nil
}

// ExpandTemplate replaces {field} placeholders with values from the
// record. Unknown fields expand to the empty string.
func ExpandTemplate(template string, rec model.Record) string {
	return templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		field := match[1 : len(match)-1]
		return rec.GetString(field)
	})
}
