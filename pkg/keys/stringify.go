// Package keys implements the deterministic key-derivation primitives that
// dedup keys, cache FieldKeys, and entity StorageKeys are built from:
// stable (sorted-key, undefined-dropping) stringification and field-wise
// deep merge.
package keys

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Stable returns a canonical JSON encoding of v: object keys sorted
// lexicographically, any field whose value is a Go nil inside a
// map[string]interface{} omitted entirely (the "undefined" slot of the
// data model), and no
// whitespace. Two values that are equal modulo such dropped fields produce
// byte-identical output, which is the invariant dedup keys and FieldKeys
// rely on.
func Stable(v interface{}) string {
	var buf bytes.Buffer
	writeStable(&buf, normalize(v))
	return buf.String()
}

// normalize walks v, converting map[string]interface{} values into a
// sorted representation and dropping nil-valued keys, leaving everything
// else (scalars, slices, already-JSON-shaped values) alone for encoding.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := orderedMap{}
		keysList := make([]string, 0, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			keysList = append(keysList, k)
		}
		sort.Strings(keysList)
		for _, k := range keysList {
			out.keys = append(out.keys, k)
			out.vals = append(out.vals, normalize(t[k]))
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// orderedMap is an intermediate representation of a JSON object with a
// fixed, pre-sorted key order; encoding/json does not let us control map
// key ordering directly, so we encode field-by-field instead.
type orderedMap struct {
	keys []string
	vals []interface{}
}

func writeStable(buf *bytes.Buffer, v interface{}) {
	switch t := v.(type) {
	case orderedMap:
		buf.WriteByte('{')
		for i, k := range t.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			writeStable(buf, t.vals[i])
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeStable(buf, e)
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			// Marshal only fails for un-encodable types (channels, funcs),
			// which never occur in GraphQL variable/result data; such a
			// value is written as null.
			b, _ = json.Marshal(nil)
		}
		buf.Write(b)
	}
}

// Equal reports whether a and b are equal modulo undefined/dropped fields,
// i.e. whether Stable(a) == Stable(b).
func Equal(a, b interface{}) bool {
	return Stable(a) == Stable(b)
}
