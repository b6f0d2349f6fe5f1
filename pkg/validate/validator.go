package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// Validator checks transformed payloads against a collection's declared
// schema before they are sent to the target store. Validation runs at
// the boundary where a record enters the staging pipeline; records that
// fail are skipped, not aborted.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a new Validator instance
func NewValidator(logger *zap.Logger) (*Validator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Validator{logger: logger}, nil
}

// ValidatePayload checks a payload against the schema. An empty schema
// accepts everything.
func (v *Validator) ValidatePayload(schema []model.AttributeSchema, payload model.Record) error {
	if len(schema) == 0 {
		return nil
	}

	for _, attr := range schema {
		value, present := payload[attr.Key]

		if !present || value == nil {
			if attr.Required {
				return fmt.Errorf("required attribute %q is missing", attr.Key)
			}
			continue
		}

		if attr.Array {
			arr, ok := value.([]interface{})
			if !ok {
				return fmt.Errorf("attribute %q: expected array, got %T", attr.Key, value)
			}
			for i, item := range arr {
				if err := checkType(attr.Type, item); err != nil {
					return fmt.Errorf("attribute %q[%d]: %w", attr.Key, i, err)
				}
			}
			continue
		}

		if err := checkType(attr.Type, value); err != nil {
			return fmt.Errorf("attribute %q: %w", attr.Key, err)
		}
	}

	return nil
}

func checkType(attrType string, value interface{}) error {
	switch attrType {
	case "", "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("expected integer, got fractional %v", v)
			}
		case json.Number:
			if _, err := v.Int64(); err != nil {
				return fmt.Errorf("expected integer, got %q", v.String())
			}
		default:
			return fmt.Errorf("expected integer, got %T", value)
		}
	case "float":
		switch value.(type) {
		case float32, float64, int, int32, int64, json.Number:
		default:
			return fmt.Errorf("expected float, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "datetime":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected datetime string, got %T", value)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("invalid datetime %q", s)
		}
	default:
		return fmt.Errorf("unknown schema type %q", attrType)
	}

	return nil
}
