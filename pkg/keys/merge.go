package keys

// DeepMerge field-wise merges src on top of dst, returning a new map. Keys
// present only in dst are preserved; keys present in both whose values are
// themselves maps are merged recursively; any other conflict (including a
// map being overwritten by a scalar, or vice versa) takes src's value.
// Neither input is mutated.
func DeepMerge(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if existing, ok := out[k]; ok {
			if existingMap, ok1 := existing.(map[string]interface{}); ok1 {
				if newMap, ok2 := v.(map[string]interface{}); ok2 {
					out[k] = DeepMerge(existingMap, newMap)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

// ShallowEqual reports whether a and b are equal for the purposes of
// deciding whether a cache write changed a stored value: primitives/
// arrays/maps compare by stable-stringified value, since a naive ==
// comparison doesn't work for maps and slices in Go.
func ShallowEqual(a, b interface{}) bool {
	return Equal(a, b)
}
