package cache

import (
	"strings"

	"github.com/nbaertsch/gqlwire/pkg/keys"
	"github.com/nbaertsch/gqlwire/pkg/model"
)

// ReadResult is the outcome of walking a selection tree against storage.
type ReadResult struct {
	Data    map[string]interface{}
	Stale   bool
	Touched []TouchedKey
	Miss    bool
}

// Read walks selections starting at rootKey (keys.Root for a query/
// mutation/subscription, an entity's storage key for a fragment) and
// returns the projected data, whether any touched key is currently
// marked stale, the exact set of keys touched (for Subscribe), and
// whether the read missed (some required field was simply absent from
// storage).
func (c *Cache) Read(rootKey string, selections []model.Selection, variables map[string]interface{}) ReadResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, stale, touched, miss := c.readNode(rootKey, selections, variables)
	if miss {
		return ReadResult{Data: nil, Stale: false, Touched: touched, Miss: true}
	}
	return ReadResult{Data: data, Stale: stale, Touched: touched, Miss: false}
}

// readNode projects selections against storage[storageKey]. Caller must
// hold c.mu.
func (c *Cache) readNode(storageKey string, selections []model.Selection, variables map[string]interface{}) (map[string]interface{}, bool, []TouchedKey, bool) {
	out := make(map[string]interface{})
	var touched []TouchedKey
	stale := false

	for _, sel := range selections {
		switch sel.Kind {
		case model.SelectionFieldKind:
			f := sel.Field
			fieldKey := keys.FieldKey(f.Name, model.ResolveArgs(f.Args, variables))
			touched = append(touched, TouchedKey{storageKey, fieldKey})

			val, present := c.storage[storageKey][fieldKey]
			if !present {
				// Absent FieldKey: the whole read is a miss.
				return nil, false, touched, true
			}
			if c.isStale(storageKey, fieldKey) {
				stale = true
			}

			if len(f.Selections) > 0 {
				resolved, childStale, childTouched, miss := c.resolveFieldValue(val, f.Selections, variables)
				touched = append(touched, childTouched...)
				if miss {
					return nil, false, touched, true
				}
				if childStale {
					stale = true
				}
				out[f.ResponseKey()] = resolved
			} else {
				out[f.ResponseKey()] = unwrapScalar(val)
			}

		case model.SelectionFragmentSpreadKind:
			childData, childStale, childTouched, miss := c.readNode(storageKey, sel.FragmentSpread.Selections, variables)
			touched = append(touched, childTouched...)
			if miss {
				return nil, false, touched, true
			}
			if childStale {
				stale = true
			}
			for k, v := range childData {
				out[k] = v
			}

		case model.SelectionInlineFragmentKind:
			inline := sel.InlineFragment
			if inline.TypeCondition != "" && storageTypename(storageKey) != inline.TypeCondition {
				continue
			}
			childData, childStale, childTouched, miss := c.readNode(storageKey, inline.Selections, variables)
			touched = append(touched, childTouched...)
			if miss {
				return nil, false, touched, true
			}
			if childStale {
				stale = true
			}
			for k, v := range childData {
				out[k] = v
			}
		}
	}

	return out, stale, touched, false
}

// resolveFieldValue expands a stored FieldKey value against the field's
// child selection set: following an EntityLink (or array of them) back
// into readNode, or projecting an embedded record directly.
func (c *Cache) resolveFieldValue(val interface{}, selections []model.Selection, variables map[string]interface{}) (interface{}, bool, []TouchedKey, bool) {
	switch v := val.(type) {
	case nil:
		return nil, false, nil, false
	case EntityLink:
		data, stale, touched, miss := c.readNode(v.Link, selections, variables)
		if miss {
			return nil, false, touched, true
		}
		return data, stale, touched, false
	case []interface{}:
		out := make([]interface{}, len(v))
		var touched []TouchedKey
		stale := false
		for i, e := range v {
			resolved, childStale, childTouched, miss := c.resolveFieldValue(e, selections, variables)
			touched = append(touched, childTouched...)
			if miss {
				return nil, false, touched, true
			}
			if childStale {
				stale = true
			}
			out[i] = resolved
		}
		return out, stale, touched, false
	case map[string]interface{}:
		return projectEmbedded(v, selections), false, nil, false
	default:
		return v, false, nil, false
	}
}

// projectEmbedded reads an already-normalized embedded record directly,
// with no storage lookup (embedded records carry no FieldKey of their
// own; the parent field's key already covers staleness/subscription for
// the whole embedded value).
func projectEmbedded(obj map[string]interface{}, selections []model.Selection) map[string]interface{} {
	out := make(map[string]interface{})
	for _, sel := range selections {
		switch sel.Kind {
		case model.SelectionFieldKind:
			f := sel.Field
			raw, present := obj[f.ResponseKey()]
			if !present {
				continue
			}
			if len(f.Selections) > 0 {
				if nested, ok := raw.(map[string]interface{}); ok {
					out[f.ResponseKey()] = projectEmbedded(nested, f.Selections)
					continue
				}
				if nestedList, ok := raw.([]interface{}); ok {
					projected := make([]interface{}, len(nestedList))
					for i, e := range nestedList {
						if em, ok := e.(map[string]interface{}); ok {
							projected[i] = projectEmbedded(em, f.Selections)
						} else {
							projected[i] = e
						}
					}
					out[f.ResponseKey()] = projected
					continue
				}
			}
			out[f.ResponseKey()] = raw
		case model.SelectionFragmentSpreadKind:
			for k, v := range projectEmbedded(obj, sel.FragmentSpread.Selections) {
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
			for k, v := range projectEmbedded(obj, inline.Selections) {
				out[k] = v
			}
		}
	}
	return out
}

func unwrapScalar(val interface{}) interface{} {
	if _, ok := val.(EntityLink); ok {
		// A selection with no child selection set never stores an
		// EntityLink in practice (entities always carry sub-selections);
		// guard defensively rather than leaking the internal type.
		return nil
	}
	return val
}

// storageTypename extracts the typename prefix of a StorageKey, or ""
// for keys.Root (which has none).
func storageTypename(storageKey string) string {
	if storageKey == keys.Root {
		return ""
	}
	if idx := strings.IndexByte(storageKey, ':'); idx >= 0 {
		return storageKey[:idx]
	}
	return storageKey
}
