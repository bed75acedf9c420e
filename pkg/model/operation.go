package model

// OperationVariant discriminates a request from its paired teardown.
type OperationVariant string

const (
	VariantRequest  OperationVariant = "request"
	VariantTeardown OperationVariant = "teardown"
)

// Operation is either a request (carrying an Artifact and its variables)
// or a teardown (carrying only the key of the request it releases). Key
// uniquely identifies a subscription lifecycle inside one client; two
// subscribers of the logically same query receive distinct keys.
type Operation struct {
	Key       int64
	Variant   OperationVariant
	Artifact  *Artifact
	Variables map[string]interface{}
	Metadata  map[string]interface{}
}

// NewRequest builds a request Operation. metadata may be nil.
func NewRequest(key int64, artifact *Artifact, variables, metadata map[string]interface{}) Operation {
	if variables == nil {
		variables = map[string]interface{}{}
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return Operation{Key: key, Variant: VariantRequest, Artifact: artifact, Variables: variables, Metadata: metadata}
}

// NewTeardown builds a teardown Operation pairing with request key.
func NewTeardown(key int64, metadata map[string]interface{}) Operation {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return Operation{Key: key, Variant: VariantTeardown, Metadata: metadata}
}

// WithKey returns a copy of op with a new Key, used where a result is
// handed back under a different operation key (the exchange package's
// withOperationKey, used by dedup) without disturbing the rest of its
// shape.
func (op Operation) WithKey(key int64) Operation {
	op.Key = key
	return op
}

// WithMetadata returns a copy of op with metadata merged on top of its
// existing metadata (src wins on key conflicts).
func (op Operation) WithMetadata(src map[string]interface{}) Operation {
	merged := make(map[string]interface{}, len(op.Metadata)+len(src))
	for k, v := range op.Metadata {
		merged[k] = v
	}
	for k, v := range src {
		merged[k] = v
	}
	op.Metadata = merged
	return op
}

// MetaBool reads a dotted-path boolean out of Metadata, e.g.
// op.MetaBool("dedup", "skip"). Returns false if any segment is absent or
// not the expected shape.
func (op Operation) MetaBool(path ...string) bool {
	v, ok := metaLookup(op.Metadata, path)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MetaValue reads a dotted-path value out of Metadata.
func (op Operation) MetaValue(path ...string) (interface{}, bool) {
	return metaLookup(op.Metadata, path)
}

func metaLookup(m map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = m
	for _, seg := range path {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = asMap[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GraphQLErrorEntry mirrors a single entry of a server response's errors
// array: the wire shape the http and subscription exchanges decode, from
// which they construct the xerrors.GraphQLError values placed in
// OperationResult.Errors.
type GraphQLErrorEntry struct {
	Message    string
	Path       []interface{}
	Locations  []struct{ Line, Column int }
	Extensions map[string]interface{}
}

// OperationResult is what flows back up through the exchange pipeline for
// a given Operation. Metadata["cache"].(map[string]interface{})["stale"]
// is the only reserved metadata slot.
//
// Data is an object for query/mutation/subscription results, but a
// fragment read keeps the cardinality of its FragmentRef (a list ref
// yields a list), so the field is interface{} rather than a map.
type OperationResult struct {
	Operation  Operation
	Data       interface{}
	Errors     []error
	Extensions map[string]interface{}
	Metadata   map[string]interface{}
}

// DataMap returns Data as an object. ok is false when Data is nil or not
// an object (e.g. a fragment-list result).
func (r OperationResult) DataMap() (map[string]interface{}, bool) {
	m, ok := r.Data.(map[string]interface{})
	if !ok || m == nil {
		return nil, false
	}
	return m, true
}

// Stale reports whether this result carries the reserved
// metadata.cache.stale marker.
func (r OperationResult) Stale() bool {
	cacheMeta, ok := r.Metadata["cache"].(map[string]interface{})
	if !ok {
		return false
	}
	stale, _ := cacheMeta["stale"].(bool)
	return stale
}

// WithStale returns a copy of r with metadata.cache.stale set.
func (r OperationResult) WithStale(stale bool) OperationResult {
	meta := make(map[string]interface{}, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	cacheMeta, _ := meta["cache"].(map[string]interface{})
	newCacheMeta := make(map[string]interface{}, len(cacheMeta)+1)
	for k, v := range cacheMeta {
		newCacheMeta[k] = v
	}
	newCacheMeta["stale"] = stale
	meta["cache"] = newCacheMeta
	r.Metadata = meta
	return r
}
