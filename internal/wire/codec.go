package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Camelize converts a snake_case identifier to camelCase.
func Camelize(key string) string {
	var b strings.Builder
	b.Grow(len(key))

	upperNext := false
	for i, r := range key {
		if r == '_' && i > 0 {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Snakify converts a camelCase identifier to snake_case.
func Snakify(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 4)

	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CamelizeKeys recursively rewrites every object key in v from
// snake_case to camelCase. v must be a decoded JSON value
// (map[string]any, []any, or a primitive).
func CamelizeKeys(v any) any {
	return transform(v, Camelize)
}

// SnakifyKeys recursively rewrites every object key in v from
// camelCase to snake_case.
func SnakifyKeys(v any) any {
	return transform(v, Snakify)
}

func transform(v any, keyFn func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[keyFn(k)] = transform(val, keyFn)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = transform(val, keyFn)
		}
		return out
	default:
		return v
	}
}

// decode parses JSON preserving number fidelity (json.Number, not
// float64) so re-encoding does not mangle large ids.
func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// CamelizeJSON rewrites all object keys in a JSON document from
// snake_case to camelCase.
func CamelizeJSON(data []byte) ([]byte, error) {
	v, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return json.Marshal(CamelizeKeys(v))
}

// SnakifyJSON rewrites all object keys in a JSON document from
// camelCase to snake_case.
func SnakifyJSON(data []byte) ([]byte, error) {
	v, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return json.Marshal(SnakifyKeys(v))
}

// Marshal serializes v (camelCase json tags) into the wire convention.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return SnakifyJSON(data)
}

// Unmarshal parses a wire payload into v, normalizing keys to the
// internal camelCase convention first.
func Unmarshal(data []byte, v any) error {
	normalized, err := CamelizeJSON(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(normalized, v)
}
