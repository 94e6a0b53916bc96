// Package flat provides typed accessors over the loosely typed maps that flow
// through the pipeline: events, scenario actions and flattened action rows.
// Values may come from YAML (int, []interface{}), JSON (int64, float64) or Go
// code (int64, []string), so every accessor normalizes.
package flat

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Map is a string-keyed map with typed getters.
type Map map[string]any

// Has reports whether key is present with a non-nil value.
func (m Map) Has(key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// String returns the value at key rendered as a string, or "".
func (m Map) String(key string) string {
	s, _ := AsString(m[key])
	return s
}

// Int64 returns the value at key as an integer.
func (m Map) Int64(key string) (int64, bool) {
	return AsInt64(m[key])
}

// Bool returns the value at key interpreted as a boolean flag.
func (m Map) Bool(key string) bool {
	return Truthy(m[key])
}

// Strings returns the value at key as a string list. A scalar becomes a
// one-element list.
func (m Map) Strings(key string) []string {
	return AsStrings(m[key])
}

// Map returns the nested map at key, or nil.
func (m Map) Map(key string) Map {
	v, _ := AsMap(m[key])
	return v
}

// Clone returns a shallow copy.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every key of src into m, overriding existing keys.
func (m Map) Merge(src map[string]any) {
	for k, v := range src {
		m[k] = v
	}
}

// AsString renders scalars as strings. Maps and lists are rejected.
func AsString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	case fmt.Stringer:
		return x.String(), true
	}
	return "", false
}

// AsInt64 converts numeric values and numeric strings to int64.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case uint:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case float32:
		return AsInt64(float64(x))
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Truthy interprets a flag the way scenario YAML authors expect: true, non-zero
// numbers, and the strings "true"/"yes"/"1"/"on".
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "1", "on":
			return true
		}
		return false
	}
	if n, ok := AsInt64(v); ok {
		return n != 0
	}
	if f, ok := v.(float64); ok {
		return f != 0
	}
	return false
}

// AsStrings converts a scalar or a list into a string list.
func AsStrings(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := AsString(item); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := AsString(v); ok {
		return []string{s}
	}
	return nil
}

// AsMap accepts map[string]any, Map and YAML's map[interface{}]interface{}.
func AsMap(v any) (Map, bool) {
	switch x := v.(type) {
	case Map:
		return x, true
	case map[string]any:
		return Map(x), true
	case map[any]any:
		out := make(Map, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// AsList accepts []any and typed slices of maps or strings.
func AsList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []map[string]any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []Map:
		out := make([]any, len(x))
		for i := range x {
			out[i] = map[string]any(x[i])
		}
		return out, true
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	}
	return nil, false
}
