// pkg/transform/converters.go
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConverterFunc converts a single attribute value
type ConverterFunc func(value interface{}) (interface{}, error)

// converters is the registry of named converters available to attribute
// mappings. Names are the ones migration definition files use.
var converters = map[string]ConverterFunc{
	"anyToString":   anyToString,
	"anyToNumber":   anyToNumber,
	"anyToFloat":    anyToFloat,
	"anyToBoolean":  anyToBoolean,
	"trim":          trimString,
	"lowercase":     lowercase,
	"uppercase":     uppercase,
	"emptyToNull":   emptyToNull,
	"stringToArray": stringToArray,
	"joinArray":     joinArray,
	"dateToISO":     dateToISO,
}

// Convert applies the named converter to a value
func Convert(name string, value interface{}) (interface{}, error) {
	fn, ok := converters[name]
	if !ok {
		return nil, fmt.Errorf("unknown converter %q", name)
	}
	return fn(value)
}

// HasConverter reports whether a named converter is registered
func HasConverter(name string) bool {
	_, ok := converters[name]
	return ok
}

// isNull determines if a value should be treated as NULL
func isNull(value interface{}) bool {
	if value == nil {
		return true
	}

	if strVal, ok := value.(string); ok {
		switch strVal {
		case "", "null", "NULL", "nil", "NIL":
			return true
		}
	}

	return false
}

func anyToString(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return fmt.Sprintf("%v", v), nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	default:
		// Fall back to JSON for complex values
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), nil
		}
		return string(jsonBytes), nil
	}
}

func anyToNumber(value interface{}) (interface{}, error) {
	if isNull(value) {
		return nil, nil
	}

	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to number", v.String())
		}
		return int64(f), nil
	case string:
		floatVal, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert string %q to number", v)
		}
		return int64(floatVal), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to number", value)
	}
}

func anyToFloat(value interface{}) (interface{}, error) {
	if isNull(value) {
		return nil, nil
	}

	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		floatVal, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert string %q to float", v)
		}
		return floatVal, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to float", value)
	}
}

func anyToBoolean(value interface{}) (interface{}, error) {
	if isNull(value) {
		return nil, nil
	}

	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1", "on":
			return true, nil
		case "false", "no", "n", "0", "off":
			return false, nil
		}
		return nil, fmt.Errorf("cannot convert string %q to boolean", v)
	case int, int64:
		return fmt.Sprintf("%v", v) != "0", nil
	case float64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

func trimString(value interface{}) (interface{}, error) {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return value, nil
}

func lowercase(value interface{}) (interface{}, error) {
	if s, ok := value.(string); ok {
		return strings.ToLower(s), nil
	}
	return value, nil
}

func uppercase(value interface{}) (interface{}, error) {
	if s, ok := value.(string); ok {
		return strings.ToUpper(s), nil
	}
	return value, nil
}

func emptyToNull(value interface{}) (interface{}, error) {
	if isNull(value) {
		return nil, nil
	}
	return value, nil
}

// stringToArray splits a comma separated string into trimmed elements
func stringToArray(value interface{}) (interface{}, error) {
	if isNull(value) {
		return []interface{}{}, nil
	}

	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case string:
		parts := strings.Split(v, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	default:
		return []interface{}{value}, nil
	}
}

func joinArray(value interface{}) (interface{}, error) {
	arr, ok := value.([]interface{})
	if !ok {
		return value, nil
	}

	parts := make([]string, 0, len(arr))
	for _, item := range arr {
		parts = append(parts, fmt.Sprintf("%v", item))
	}
	return strings.Join(parts, ","), nil
}

// dateFormats are tried in order when parsing date strings
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"02-01-2006",
}

func dateToISO(value interface{}) (interface{}, error) {
	if isNull(value) {
		return nil, nil
	}

	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case string:
		for _, layout := range dateFormats {
			if parsed, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return parsed.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as a date", v)
	case int64:
		return time.Unix(v, 0).UTC().Format(time.RFC3339), nil
	case float64:
		return time.Unix(int64(v), 0).UTC().Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to a date", value)
	}
}
