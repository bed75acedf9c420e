package cache

import (
	"github.com/nbaertsch/gqlwire/pkg/keys"
	"github.com/nbaertsch/gqlwire/pkg/model"
)

// Write normalizes an operation result's data into storage, rooted at
// rootKey (keys.Root for queries/mutations/subscriptions, an entity's
// storage key for fragment writes), and notifies every listener whose
// subscribed (StorageKey, FieldKey) pair changed value as a result.
func (c *Cache) Write(rootKey string, selections []model.Selection, data map[string]interface{}, variables map[string]interface{}) {
	if data == nil {
		return
	}
	c.mu.Lock()
	var changed []listenerKey
	c.writeNode(rootKey, selections, data, variables, &changed)

	notify := make(map[string]struct{})
	for _, lk := range changed {
		for id := range c.fieldListeners[lk] {
			notify[id] = struct{}{}
		}
	}
	callbacks := c.collectCallbacks(notify)
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// writeNode writes one flattened selection set's worth of fields into
// storage[storageKey], recursing into fragment spreads/inline fragments
// (which select against the same storageKey/data, not a nested one) and
// into linked entities (which get their own storageKey). Caller must hold
// c.mu.
func (c *Cache) writeNode(storageKey string, selections []model.Selection, data map[string]interface{}, variables map[string]interface{}, changed *[]listenerKey) {
	if c.storage[storageKey] == nil {
		c.storage[storageKey] = make(map[string]interface{})
	}
	bucket := c.storage[storageKey]

	for _, sel := range selections {
		switch sel.Kind {
		case model.SelectionFieldKind:
			f := sel.Field
			respKey := f.ResponseKey()
			raw, present := data[respKey]
			if !present {
				continue
			}
			fieldKey := keys.FieldKey(f.Name, model.ResolveArgs(f.Args, variables))
			newVal := c.buildValue(raw, f.Selections, variables, changed)
			old, hadOld := bucket[fieldKey]
			// Embedded records merge onto what's already stored so a
			// narrower selection doesn't wipe sibling fields written by a
			// wider one.
			if oldRec, ok := old.(map[string]interface{}); hadOld && ok {
				if newRec, ok := newVal.(map[string]interface{}); ok {
					newVal = keys.DeepMerge(oldRec, newRec)
				}
			}
			bucket[fieldKey] = newVal
			// Clearing a stale mark counts as a change: a refetch that
			// returns byte-identical data still has to re-notify so
			// subscribers see the read flip back to non-stale.
			if !hadOld || !valuesEqual(old, newVal) || c.isStale(storageKey, fieldKey) {
				*changed = append(*changed, listenerKey{storageKey, fieldKey})
			}
			c.clearStale(storageKey, fieldKey)

		case model.SelectionFragmentSpreadKind:
			c.writeNode(storageKey, sel.FragmentSpread.Selections, data, variables, changed)

		case model.SelectionInlineFragmentKind:
			inline := sel.InlineFragment
			if inline.TypeCondition != "" {
				typename, _ := data["__typename"].(string)
				if typename != inline.TypeCondition {
					continue
				}
			}
			c.writeNode(storageKey, inline.Selections, data, variables, changed)
		}
	}
}

// buildValue normalizes one field's raw result value: entities become
// EntityLinks (after recursively writing the entity itself), arrays map
// element-wise, plain nested objects become embedded records deep-merged
// onto whatever was already stored there, and everything else passes
// through as a scalar/JSON leaf.
func (c *Cache) buildValue(raw interface{}, childSelections []model.Selection, variables map[string]interface{}, changed *[]listenerKey) interface{} {
	switch v := raw.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = c.buildValue(e, childSelections, variables, changed)
		}
		return out
	case map[string]interface{}:
		if typename, ok := v["__typename"].(string); ok && typename != "" {
			if desc, isEntity := c.schema.Entity(typename); isEntity {
				keyValues := make([]interface{}, 0, len(desc.KeyFields))
				allPresent := true
				for _, kf := range desc.KeyFields {
					kv, present := v[kf]
					if !present {
						allPresent = false
						break
					}
					keyValues = append(keyValues, kv)
				}
				if allPresent {
					childKey := keys.StorageKey(typename, keyValues...)
					c.writeNode(childKey, childSelections, v, variables, changed)
					return EntityLink{Link: childKey}
				}
			}
		}
		return c.buildEmbedded(v, childSelections, variables, changed)
	default:
		return v
	}
}

// buildEmbedded projects childSelections against a non-entity nested
// object, producing the embedded record value stored under the parent
// FieldKey.
func (c *Cache) buildEmbedded(obj map[string]interface{}, selections []model.Selection, variables map[string]interface{}, changed *[]listenerKey) map[string]interface{} {
	out := make(map[string]interface{})
	for _, sel := range selections {
		switch sel.Kind {
		case model.SelectionFieldKind:
			f := sel.Field
			respKey := f.ResponseKey()
			raw, present := obj[respKey]
			if !present {
				continue
			}
			out[respKey] = c.buildValue(raw, f.Selections, variables, changed)
		case model.SelectionFragmentSpreadKind:
			for k, v := range c.buildEmbedded(obj, sel.FragmentSpread.Selections, variables, changed) {
				out[k] = v
			}
		case model.SelectionInlineFragmentKind:
			inline := sel.InlineFragment
			if inline.TypeCondition != "" {
				typename, _ := obj["__typename"].(string)
				if typename != inline.TypeCondition {
					continue
				}
			}
			for k, v := range c.buildEmbedded(obj, inline.Selections, variables, changed) {
				out[k] = v
			}
		}
	}
	return out
}

// valuesEqual decides whether a write actually changed a stored value:
// shallow on primitives, by target key on links, element-wise on link
// arrays.
func valuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case EntityLink:
		bv, ok := b.(EntityLink)
		return ok && av.Link == bv.Link
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok {
			return false
		}
		return keys.Equal(av, bv)
	default:
		return keys.Equal(a, b)
	}
}
