// Package fieldpath resolves dot-separated paths against event context data
// and converts resolved values to their plain-text form.
package fieldpath

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Resolve walks data key by key following the dot-separated path.
// The boolean result is false when any segment is missing, which callers
// treat as "undefined". A present key holding nil resolves to (nil, true).
func Resolve(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	var current any = data

	for _, key := range strings.Split(path, ".") {
		next, ok := child(current, key)
		if !ok {
			return nil, false
		}

		current = next
	}

	return current, true
}

func child(value any, key string) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		next, ok := v[key]

		return next, ok
	case map[string]string:
		next, ok := v[key]

		return next, ok
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		next := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !next.IsValid() {
			return nil, false
		}

		return next.Interface(), true
	}

	return nil, false
}

// String returns the plain-text form of a resolved value. Numbers are
// printed without trailing zeros, nil becomes the empty string, and maps
// and slices are JSON encoded.
func String(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	}

	if f, ok := Number(value); ok {
		return formatFloat(f)
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		encoded, err := json.Marshal(value)
		if err == nil {
			return string(encoded)
		}
	}

	return fmt.Sprint(value)
}

// Number reports whether value is a Go numeric kind and returns it as float64.
func Number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	}

	return 0, false
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "Infinity"
	}

	if math.IsInf(f, -1) {
		return "-Infinity"
	}

	if math.IsNaN(f) {
		return "NaN"
	}

	return strconv.FormatFloat(f, 'f', -1, 64)
}
