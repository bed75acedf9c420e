// Package cache implements the normalized document cache: a flat entity
// store keyed by StorageKey/FieldKey, a subscription ledger that
// re-notifies listeners when a touched key changes or is invalidated,
// and stale-read semantics for cache-driven re-emission of query
// results.
//
// The cache is mutable and shared across every operation of one client;
// callers on a single event loop need no external locking, but the
// ledger is guarded with a mutex anyway since Invalidate and the
// extension accessors (Extract/Hydrate/Clear) may legitimately be called
// from outside that loop (e.g. a UI thread calling client.Extensions()).
package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nbaertsch/gqlwire/pkg/keys"
	"github.com/nbaertsch/gqlwire/pkg/model"
)

// EntityLink is the cache storage value that points at another
// StorageKey.
type EntityLink struct {
	Link string
}

// listenerKey addresses one (StorageKey, FieldKey) pair in the
// field-granular ledger.
type listenerKey struct {
	storageKey string
	fieldKey   string
}

// TouchedKey is one (StorageKey, FieldKey) pair a read walked past; the
// set of TouchedKeys a read returns is exactly what it subscribes its
// listener to.
type TouchedKey struct {
	StorageKey string
	FieldKey   string
}

// InvalidateTarget names what Invalidate should mark stale: either an
// entire entity ({Typename, KeyValues}) or a single field of it
// ({Typename, KeyValues, Field}).
type InvalidateTarget struct {
	Typename  string
	KeyValues []interface{}
	Field     string
}

// Cache is the normalized entity store. Use NewCache to construct one
// from a schema descriptor.
type Cache struct {
	mu sync.Mutex

	schema model.Schema

	// storage is StorageKey -> FieldKey -> value, the sole source of truth
	// for entity data.
	storage map[string]map[string]interface{}

	// entityListeners and fieldListeners are the two ledger levels:
	// which listener ids care about a storage key at all, and
	// which care about one exact field of it.
	entityListeners map[string]map[string]struct{}
	fieldListeners  map[listenerKey]map[string]struct{}

	// callbacks maps listener id -> notification callback.
	callbacks map[string]func()

	// pendingStale marks (StorageKey, FieldKey) pairs invalidated but not
	// yet refreshed with new data.
	pendingStale map[listenerKey]struct{}
}

// NewCache constructs an empty Cache scoped to schema.
func NewCache(schema model.Schema) *Cache {
	return &Cache{
		schema:          schema,
		storage:         make(map[string]map[string]interface{}),
		entityListeners: make(map[string]map[string]struct{}),
		fieldListeners:  make(map[listenerKey]map[string]struct{}),
		callbacks:       make(map[string]func()),
		pendingStale:    make(map[listenerKey]struct{}),
	}
}

// Subscribe registers callback against every key in touched, returning a
// listener id that Unsubscribe releases. A read should call Subscribe
// with the exact TouchedKey set it walked.
func (c *Cache) Subscribe(touched []TouchedKey, callback func()) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	c.callbacks[id] = callback
	for _, t := range touched {
		if c.entityListeners[t.StorageKey] == nil {
			c.entityListeners[t.StorageKey] = make(map[string]struct{})
		}
		c.entityListeners[t.StorageKey][id] = struct{}{}

		lk := listenerKey{t.StorageKey, t.FieldKey}
		if c.fieldListeners[lk] == nil {
			c.fieldListeners[lk] = make(map[string]struct{})
		}
		c.fieldListeners[lk][id] = struct{}{}
	}
	return id
}

// Unsubscribe releases a listener id from every ledger entry it appears
// in.
func (c *Cache) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, id)
	for sk, ids := range c.entityListeners {
		delete(ids, id)
		if len(ids) == 0 {
			delete(c.entityListeners, sk)
		}
	}
	for lk, ids := range c.fieldListeners {
		delete(ids, id)
		if len(ids) == 0 {
			delete(c.fieldListeners, lk)
		}
	}
}

// Invalidate marks target stale. Entity-level targets (no Field) mark
// every FieldKey currently stored for that entity stale, plus notify any
// listener registered at the bare entity level; field-level targets mark
// just that one FieldKey. The stale mark is recorded even if no listener
// is currently subscribed, so a future subscriber's first read still
// sees it.
func (c *Cache) Invalidate(target InvalidateTarget) {
	c.mu.Lock()
	storageKey := keys.StorageKey(target.Typename, target.KeyValues...)
	notify := make(map[string]struct{})

	if target.Field != "" {
		lk := listenerKey{storageKey, target.Field}
		c.pendingStale[lk] = struct{}{}
		for id := range c.fieldListeners[lk] {
			notify[id] = struct{}{}
		}
	} else {
		for fieldKey := range c.storage[storageKey] {
			lk := listenerKey{storageKey, fieldKey}
			c.pendingStale[lk] = struct{}{}
			for id := range c.fieldListeners[lk] {
				notify[id] = struct{}{}
			}
		}
		for id := range c.entityListeners[storageKey] {
			notify[id] = struct{}{}
		}
	}

	callbacks := c.collectCallbacks(notify)
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

func (c *Cache) collectCallbacks(ids map[string]struct{}) []func() {
	out := make([]func(), 0, len(ids))
	for id := range ids {
		if cb, ok := c.callbacks[id]; ok {
			out = append(out, cb)
		}
	}
	return out
}

// Clear resets the store and all staleness marks, then notifies every
// registered listener: their data is gone and they need to re-read.
// Listener registrations themselves are left intact (exchanges release
// those via per-key teardown, not Clear).
func (c *Cache) Clear() {
	c.mu.Lock()
	c.storage = make(map[string]map[string]interface{})
	c.pendingStale = make(map[listenerKey]struct{})
	notify := make(map[string]struct{}, len(c.callbacks))
	for id := range c.callbacks {
		notify[id] = struct{}{}
	}
	callbacks := c.collectCallbacks(notify)
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// isStale reports whether (storageKey, fieldKey) currently carries a
// pending-stale mark. Caller must hold c.mu.
func (c *Cache) isStale(storageKey, fieldKey string) bool {
	_, stale := c.pendingStale[listenerKey{storageKey, fieldKey}]
	return stale
}

// clearStale removes a pending-stale mark once fresh data has been
// written for that exact key. Caller must hold c.mu.
func (c *Cache) clearStale(storageKey, fieldKey string) {
	delete(c.pendingStale, listenerKey{storageKey, fieldKey})
}
