// Package shape classifies and normalizes the dynamic payloads that flow
// between workflow nodes. Node outputs are schemaless JSON-like values
// (maps, slices, scalars), and every structural decision the engine makes
// about them lives here: classification, array extraction, container
// unwrapping, merging, and size accounting.
package shape

import (
	"encoding/json"
	"strconv"
)

// Kind identifies the structural class of a payload value.
type Kind int

const (
	// KindNull is a nil value.
	KindNull Kind = iota
	// KindArray is a []any value.
	KindArray
	// KindObject is a map[string]any value.
	KindObject
	// KindScalar is anything else (string, number, bool, ...).
	KindScalar
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "scalar"
	}
}

// conventionalArrayKeys are the property names, in priority order, under
// which upstream nodes conventionally nest their item arrays.
var conventionalArrayKeys = []string{"data", "items", "results", "segments"}

// Of classifies a value.
func Of(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return KindScalar
	}
}

// AsArray returns v as a []any when it is one.
func AsArray(v any) ([]any, bool) {
	arr, ok := v.([]any)
	return arr, ok
}

// AsObject returns v as a map[string]any when it is one.
func AsObject(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok
}

// ExtractArray interprets a value as an array for merging purposes.
// Arrays are returned directly. Objects yield the first array-typed
// property among the conventional keys (data, items, results, segments).
// Everything else yields nothing.
func ExtractArray(v any) ([]any, bool) {
	if arr, ok := AsArray(v); ok {
		return arr, true
	}
	obj, ok := AsObject(v)
	if !ok {
		return nil, false
	}
	for _, key := range conventionalArrayKeys {
		if arr, ok := AsArray(obj[key]); ok {
			return arr, true
		}
	}
	return nil, false
}

// Unwrap normalizes a container read back from durable storage to the
// payload a consumer expects. Stored values may have been wrapped when
// persisted; reads undo the wrapping:
//
//   - {items: [...]} with no other keys        -> the inner array
//   - {data: [...]} with no other keys         -> the inner array
//   - {"0": x, "1": y, ...} index-keyed object -> array of the indexed
//     values in index order (non-index keys such as "meta" are dropped)
//
// Values that match no case pass through unchanged.
func Unwrap(v any) any {
	obj, ok := AsObject(v)
	if !ok {
		return v
	}
	if inner, ok := singleKeyArray(obj, "items"); ok {
		return inner
	}
	if inner, ok := singleKeyArray(obj, "data"); ok {
		return inner
	}
	if inner, ok := indexKeyedValues(obj); ok {
		return inner
	}
	return v
}

// singleKeyArray returns the array under key when it is the object's only key.
func singleKeyArray(obj map[string]any, key string) ([]any, bool) {
	if len(obj) != 1 {
		return nil, false
	}
	arr, ok := AsArray(obj[key])
	return arr, ok
}

// indexKeyedValues converts {"0": a, "1": b, "meta": m} to [a, b].
// At least one decimal-index key must be present.
func indexKeyedValues(obj map[string]any) ([]any, bool) {
	maxIdx := -1
	indexed := make(map[int]any)
	for key, val := range obj {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			continue
		}
		indexed[idx] = val
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	if len(indexed) == 0 {
		return nil, false
	}
	out := make([]any, 0, len(indexed))
	for i := 0; i <= maxIdx; i++ {
		if val, ok := indexed[i]; ok {
			out = append(out, val)
		}
	}
	return out, true
}

// ShallowMerge merges two objects one level deep; keys from overlay win.
// Neither input is mutated.
func ShallowMerge(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// ItemCount returns the number of items a value carries for cache tiering
// and throughput accounting: array length directly, the extracted array's
// length for conventionally wrapped objects, and 0 otherwise.
func ItemCount(v any) int {
	if arr, ok := ExtractArray(v); ok {
		return len(arr)
	}
	return 0
}

// ByteSize returns the JSON-encoded size of a value in bytes, or 0 when
// the value cannot be encoded.
func ByteSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

// LooksFormatted reports whether a stored value appears to be a fully
// formatted node output rather than a raw intermediate. Formatted outputs
// are arrays, or objects carrying one of the conventional array keys.
// Durable cache writes consult this to avoid clobbering a formatted value
// with a less specific raw one.
func LooksFormatted(v any) bool {
	if _, ok := AsArray(v); ok {
		return true
	}
	obj, ok := AsObject(v)
	if !ok {
		return false
	}
	for _, key := range conventionalArrayKeys {
		if _, ok := AsArray(obj[key]); ok {
			return true
		}
	}
	return false
}
