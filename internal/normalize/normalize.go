// Package normalize converts opaque source-client objects into JSON-safe
// values suitable for storage in a JSONB column. It never fails: anything it
// cannot represent faithfully degrades to a best-effort string so that the
// caller's transaction is never blocked on serialization.
package normalize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Mapper is implemented by source objects that can expand themselves into a
// mapping. Such objects are expanded before recursion.
type Mapper interface {
	ToMap() map[string]any
}

// Value returns a JSON-safe representation of v.
//
// Policy, in order:
//   - nil passes through
//   - Mapper objects are expanded via ToMap and normalized recursively
//   - time.Time becomes an ISO-8601 (RFC 3339) string
//   - []byte becomes the redacted placeholder "<bytes:N>" (binary payloads
//     are opaque file references upstream; their length is enough to debug)
//   - maps and slices are walked recursively; map keys starting with "_"
//     are dropped (private fields of the source wire format)
//   - any other value passes through if json.Marshal accepts it, otherwise
//     it is stringified with %v
func Value(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Mapper:
		return normalizeMap(reflect.ValueOf(t.ToMap()))
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []byte:
		return fmt.Sprintf("<bytes:%d>", len(t))
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		return normalizeMap(rv)
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, Value(rv.Index(i).Interface()))
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Value(rv.Elem().Interface())
	}

	if _, err := json.Marshal(v); err == nil {
		return v
	}
	return fmt.Sprintf("%v", v)
}

// Map normalizes v and asserts the result is a mapping. Non-mapping inputs
// are wrapped under a "value" key so the caller always gets an object.
func Map(v any) map[string]any {
	normalized := Value(v)
	if m, ok := normalized.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": normalized}
}

// JSON normalizes v and marshals it. Marshal failure degrades to a quoted
// string; the returned slice is always valid JSON.
func JSON(v any) []byte {
	raw, err := json.Marshal(Value(v))
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return raw
}

func normalizeMap(rv reflect.Value) map[string]any {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := fmt.Sprintf("%v", iter.Key().Interface())
		if strings.HasPrefix(key, "_") {
			continue
		}
		out[key] = Value(iter.Value().Interface())
	}
	return out
}
