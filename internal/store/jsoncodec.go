package store

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

const bytesPrefix = "bytes:"

// EncodeJSON serializes v for a JSON column. Byte slices become "bytes:<hex>"
// strings and datetimes become ISO-8601 strings. nil encodes as SQL NULL.
func EncodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) && rv.IsNil() {
		return nil, nil
	}
	data, err := json.Marshal(prepareJSON(v))
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

// DecodeJSON parses a JSON column into generic Go values. Integers decode as
// int64, other numbers as float64, and "bytes:<hex>" strings back to []byte.
func DecodeJSON(s string) (any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return restoreJSON(out), nil
}

// DecodeJSONMap decodes a JSON object column; non-object documents are wrapped
// under the "value" key.
func DecodeJSONMap(s string) (map[string]any, error) {
	v, err := DecodeJSON(s)
	if err != nil || v == nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": v}, nil
}

// DecodeJSONStrings decodes a JSON list-of-strings column.
func DecodeJSONStrings(s string) ([]string, error) {
	v, err := DecodeJSON(s)
	if err != nil || v == nil {
		return nil, err
	}
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	case string:
		return []string{x}, nil
	}
	return nil, fmt.Errorf("decode json column: expected list of strings, got %T", v)
}

func prepareJSON(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return bytesPrefix + hex.EncodeToString(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = prepareJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = prepareJSON(val)
		}
		return out
	case string, bool, int, int64, float64, json.Number:
		return x
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[fmt.Sprint(iter.Key().Interface())] = prepareJSON(iter.Value().Interface())
			}
			return out
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = prepareJSON(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = prepareJSON(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func restoreJSON(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = restoreJSON(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = restoreJSON(val)
		}
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return x.String()
	case string:
		if strings.HasPrefix(x, bytesPrefix) {
			if b, err := hex.DecodeString(x[len(bytesPrefix):]); err == nil {
				return b
			}
		}
		return x
	}
	return v
}
