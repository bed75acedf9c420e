package cache

import (
	"encoding/json"

	"github.com/nbaertsch/gqlwire/pkg/model"
)

// FragmentReadResult is the outcome of resolving a fragment read: Data's
// concrete shape depends on the FragmentRef's cardinality: a single
// projected object, an ordered slice of them, or the ref's own literal
// record. Cardinality is preserved, never collapsed.
type FragmentReadResult struct {
	Data    interface{}
	Stale   bool
	Touched []TouchedKey
	Miss    bool
}

// ReadFragment resolves ref against selections. A FragmentRefEntity
// reads that one entity; a FragmentRefEntityList reads every element and
// is stale if any element is stale; a FragmentRefLiteral has no storage identity and is returned
// verbatim with nothing to subscribe to.
func (c *Cache) ReadFragment(ref model.FragmentRef, selections []model.Selection, variables map[string]interface{}) FragmentReadResult {
	switch ref.Kind {
	case model.FragmentRefEntity:
		r := c.Read(ref.Entity.StorageKey, selections, variables)
		return FragmentReadResult{Data: r.Data, Stale: r.Stale, Touched: r.Touched, Miss: r.Miss}

	case model.FragmentRefEntityList:
		items := make([]interface{}, 0, len(ref.List))
		var touched []TouchedKey
		stale := false
		for _, entityRef := range ref.List {
			r := c.Read(entityRef.StorageKey, selections, variables)
			touched = append(touched, r.Touched...)
			if r.Miss {
				return FragmentReadResult{Data: nil, Stale: false, Touched: touched, Miss: true}
			}
			if r.Stale {
				stale = true
			}
			items = append(items, r.Data)
		}
		return FragmentReadResult{Data: items, Stale: stale, Touched: touched, Miss: false}

	case model.FragmentRefLiteral:
		return FragmentReadResult{Data: ref.Literal, Stale: false, Touched: nil, Miss: false}

	default:
		return FragmentReadResult{Miss: true}
	}
}

// snapshot is the JSON-serializable form Extract/Hydrate exchange for
// SSR-style cache priming.
type snapshot struct {
	Storage map[string]map[string]interface{} `json:"storage"`
	Stale   []staleEntry                      `json:"stale"`
}

type staleEntry struct {
	StorageKey string `json:"storageKey"`
	FieldKey   string `json:"fieldKey"`
}

// Extract serializes the full cache contents (storage plus pending-stale
// marks) to JSON.
func (c *Cache) Extract() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := snapshot{Storage: c.storage}
	for lk := range c.pendingStale {
		snap.Stale = append(snap.Stale, staleEntry{StorageKey: lk.storageKey, FieldKey: lk.fieldKey})
	}
	return json.Marshal(snap)
}

// Hydrate replaces the cache's storage and stale marks with a snapshot
// previously produced by Extract. EntityLink values, round-tripped
// through JSON as plain {"Link": "..."} objects, are reconstituted into
// the EntityLink type. Existing listener registrations are left intact;
// a read by an already-subscribed listener simply sees the hydrated data
// on its next notification.
func (c *Cache) Hydrate(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	storage := make(map[string]map[string]interface{}, len(snap.Storage))
	for sk, bucket := range snap.Storage {
		restored := make(map[string]interface{}, len(bucket))
		for fk, v := range bucket {
			restored[fk] = reviveLinks(v)
		}
		storage[sk] = restored
	}
	c.storage = storage

	c.pendingStale = make(map[listenerKey]struct{}, len(snap.Stale))
	for _, e := range snap.Stale {
		c.pendingStale[listenerKey{e.StorageKey, e.FieldKey}] = struct{}{}
	}
	return nil
}

// reviveLinks walks a JSON-decoded value, converting any object shaped
// exactly like an EntityLink ({"Link": "<string>"}) back into one.
func reviveLinks(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 1 {
			if link, ok := t["Link"].(string); ok {
				return EntityLink{Link: link}
			}
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = reviveLinks(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = reviveLinks(e)
		}
		return out
	default:
		return v
	}
}
