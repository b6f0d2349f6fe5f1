package staging

import (
	"reflect"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// DeepMerge merges update onto existing without destroying data:
// a null or absent value in update never replaces a non-null value in
// existing, nested maps merge recursively, and arrays are concatenated
// with duplicates removed. Neither input is mutated.
func DeepMerge(existing, update model.Record) model.Record {
	result := existing.Clone()
	if result == nil {
		result = model.Record{}
	}

	for key, newVal := range update {
		if isNullValue(newVal) {
			// Preserve the older value
			if _, ok := result[key]; !ok {
				result[key] = nil
			}
			continue
		}

		oldVal, ok := result[key]
		if !ok || isNullValue(oldVal) {
			result[key] = cloneAny(newVal)
			continue
		}

		oldMap, oldIsMap := asRecord(oldVal)
		newMap, newIsMap := asRecord(newVal)
		if oldIsMap && newIsMap {
			result[key] = DeepMerge(oldMap, newMap)
			continue
		}

		oldArr, oldIsArr := oldVal.([]interface{})
		newArr, newIsArr := newVal.([]interface{})
		if oldIsArr && newIsArr {
			result[key] = mergeArrays(oldArr, newArr)
			continue
		}

		// Scalar: the newer value wins
		result[key] = newVal
	}

	return result
}

// mergeArrays concatenates two arrays, dropping elements already present
func mergeArrays(existing, update []interface{}) []interface{} {
	out := make([]interface{}, len(existing))
	copy(out, existing)

	for _, item := range update {
		if !containsValue(out, item) {
			out = append(out, item)
		}
	}
	return out
}

func containsValue(arr []interface{}, value interface{}) bool {
	for _, item := range arr {
		if reflect.DeepEqual(item, value) {
			return true
		}
	}
	return false
}

func isNullValue(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == "" || s == "null" || s == "NULL"
	}
	return false
}

func asRecord(v interface{}) (model.Record, bool) {
	switch m := v.(type) {
	case model.Record:
		return m, true
	case map[string]interface{}:
		return model.Record(m), true
	default:
		return nil, false
	}
}

func cloneAny(v interface{}) interface{} {
	if rec, ok := asRecord(v); ok {
		return rec.Clone()
	}
	if arr, ok := v.([]interface{}); ok {
		out := make([]interface{}, len(arr))
		copy(out, arr)
		return out
	}
	return v
}
