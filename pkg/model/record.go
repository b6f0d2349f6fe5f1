package model

import "fmt"

// Record is a dynamic key/value payload flowing through the migration
// pipeline. Raw source rows, transformed payloads and per-record context
// all use this shape; values are whatever the source or a converter
// produced (strings, numbers, bools, nested maps, slices).
type Record map[string]interface{}

// Clone returns a deep copy of the record. Nested maps and slices are
// copied; scalar values are shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// GetString returns the value under key rendered as a string, or ""
// when the key is absent or nil.
func (r Record) GetString(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Has reports whether key is present with a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Record:
		return val.Clone()
	case map[string]interface{}:
		return Record(val).Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
