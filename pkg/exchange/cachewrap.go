package exchange

import (
	"github.com/nbaertsch/gqlwire/pkg/cache"
	"github.com/nbaertsch/gqlwire/pkg/keys"
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// CachePolicy selects how a query balances cached data against the
// network.
type CachePolicy string

const (
	PolicyCacheFirst      CachePolicy = "cache-first"
	PolicyCacheAndNetwork CachePolicy = "cache-and-network"
	PolicyNetworkOnly     CachePolicy = "network-only"
	PolicyCacheOnly       CachePolicy = "cache-only"
)

// CacheConfig configures the cache exchange. An empty DefaultPolicy
// means cache-first.
type CacheConfig struct {
	DefaultPolicy CachePolicy
}

// CacheExtension is the opaque value the cache exchange surfaces under
// "cache" in the exchange extension map.
//
// Invalidate and Clear are serialized onto the client's event loop and
// return before the resulting re-emissions have necessarily been
// delivered. Extract and Hydrate act on the store directly (the store is
// internally locked and neither fires listener callbacks).
type CacheExtension struct {
	Extract    func() ([]byte, error)
	Hydrate    func([]byte) error
	Invalidate func(target cache.InvalidateTarget)
	Clear      func()
}

type cacheOpKind int

const (
	cacheOpQuery cacheOpKind = iota
	cacheOpFragment
	cacheOpPassthrough
)

// cacheOpState is the per-operation-key state the cache exchange holds
// for a subscribed query or fragment: the original operation, its
// resolved policy, the currently armed cache listener, and the flags
// the policy transition table is driven by.
type cacheOpState struct {
	op       model.Operation
	kind     cacheOpKind
	policy   CachePolicy
	ref      model.FragmentRef
	listener string

	hasData        bool
	forwarded      bool
	networkPending bool
	torndown       bool
}

// CacheWrap wraps a normalized cache instance around the pipeline below
// it: query and fragment reads are served (and re-served on every
// invalidation or overlapping write) from the store, mutation and
// subscription results are written back through it, and the
// {Extract, Hydrate, Invalidate, Clear} extension is exposed under
// "cache".
func CacheWrap(cfg CacheConfig) Builder {
	defaultPolicy := cfg.DefaultPolicy
	if defaultPolicy == "" {
		defaultPolicy = PolicyCacheFirst
	}
	return func(forward IO, client ClientHandle) Instance {
		store := cache.NewCache(client.Schema())

		ext := CacheExtension{
			Extract: store.Extract,
			Hydrate: store.Hydrate,
			Invalidate: func(target cache.InvalidateTarget) {
				client.Post(func() { store.Invalidate(target) })
			},
			Clear: func() {
				client.Post(store.Clear)
			},
		}

		io := func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
			return func(sink stream.Sink[model.OperationResult]) stream.Subscription {
				states := map[int64]*cacheOpState{}
				downstreamOps := stream.MakeSubject[model.Operation]()

				// refetch re-forwards a tracked operation downstream with
				// dedup bypassed, so the dedup exchange's in-flight table
				// (which still holds this key) does not swallow it.
				refetch := func(st *cacheOpState) {
					if st.forwarded {
						return
					}
					st.forwarded = true
					downstreamOps.Next(st.op.WithMetadata(map[string]interface{}{
						"dedup": map[string]interface{}{"skip": true},
					}))
				}

				emit := func(st *cacheOpState, data interface{}, stale bool) {
					res := model.OperationResult{Operation: st.op, Data: data}
					if stale {
						res = res.WithStale(true)
					}
					sink.Next(res)
				}

				// evaluate runs one step of the policy transition table: read,
				// re-arm the listener on the exact touched set, then emit
				// and/or refetch according to what the read produced.
				var evaluate func(st *cacheOpState, initial bool)
				evaluate = func(st *cacheOpState, initial bool) {
					if st.torndown {
						return
					}
					st.networkPending = false

					var data interface{}
					var stale, miss bool
					var touched []cache.TouchedKey
					if st.kind == cacheOpFragment {
						r := store.ReadFragment(st.ref, st.op.Artifact.Selections, st.op.Variables)
						data, stale, miss, touched = r.Data, r.Stale, r.Miss, r.Touched
					} else {
						r := store.Read(keys.Root, st.op.Artifact.Selections, st.op.Variables)
						data, stale, miss, touched = r.Data, r.Stale, r.Miss, r.Touched
					}

					if st.listener != "" {
						store.Unsubscribe(st.listener)
						st.listener = ""
					}
					if len(touched) > 0 {
						st.listener = store.Subscribe(touched, func() {
							evaluate(st, false)
						})
					}

					if st.kind == cacheOpFragment {
						if miss {
							emit(st, nil, false)
							return
						}
						emit(st, data, stale)
						return
					}

					switch {
					case miss && st.hasData:
						refetch(st)
					case miss && st.policy == PolicyCacheOnly:
						emit(st, nil, false)
					case miss:
						refetch(st)
					case stale:
						emit(st, data, true)
						st.hasData = true
						refetch(st)
					default:
						emit(st, data, false)
						st.hasData = true
					}

					if initial && st.policy == PolicyCacheAndNetwork {
						refetch(st)
					}
				}

				handleNetworkResult := func(res model.OperationResult) {
					st := states[res.Operation.Key]
					if st != nil && st.kind == cacheOpQuery && st.policy != PolicyNetworkOnly {
						st.forwarded = false
						data, ok := res.DataMap()
						if !ok {
							// Errors and empty payloads bypass the store
							// entirely; the subscriber still hears about them.
							sink.Next(res)
							return
						}
						st.networkPending = true
						store.Write(keys.Root, st.op.Artifact.Selections, data, st.op.Variables)
						if st.networkPending {
							// The write changed nothing the listener watches
							// (identical data, or a first write whose touched
							// set wasn't armed yet): deliver from a fresh read.
							evaluate(st, false)
						}
						return
					}

					// Mutations, subscription pushes, and network-only
					// queries: write through, then pass the result upward.
					if data, ok := res.DataMap(); ok && res.Operation.Artifact != nil {
						store.Write(keys.Root, res.Operation.Artifact.Selections, data, res.Operation.Variables)
					}
					sink.Next(res)
				}

				handleRequest := func(op model.Operation) {
					// A re-emission of an existing key (a retry) replaces its
					// state; the superseded listener must not keep firing.
					if old := states[op.Key]; old != nil {
						old.torndown = true
						if old.listener != "" {
							store.Unsubscribe(old.listener)
							old.listener = ""
						}
					}
					policy := policyOf(op, defaultPolicy)
					switch op.Artifact.Kind {
					case model.KindQuery:
						st := &cacheOpState{op: op, kind: cacheOpQuery, policy: policy}
						states[op.Key] = st
						if policy == PolicyNetworkOnly {
							st.forwarded = true
							downstreamOps.Next(op)
							return
						}
						evaluate(st, true)

					case model.KindFragment:
						ref, ok := fragmentRefOf(op)
						if !ok {
							sink.Next(model.OperationResult{
								Operation: op,
								Errors: []error{xerrors.NewExchangeError(
									"cache", "fragment operation carries no fragment ref", nil, nil)},
							})
							return
						}
						st := &cacheOpState{op: op, kind: cacheOpFragment, ref: ref}
						states[op.Key] = st
						evaluate(st, true)

					default:
						states[op.Key] = &cacheOpState{op: op, kind: cacheOpPassthrough}
						downstreamOps.Next(op)
					}
				}

				forwardSub := forward(downstreamOps.Source)(stream.Sink[model.OperationResult]{
					Next:     handleNetworkResult,
					Error:    sink.Error,
					Complete: sink.Complete,
				})

				upstreamSub := ops(stream.Sink[model.Operation]{
					Next: func(op model.Operation) {
						if op.Variant == model.VariantTeardown {
							st := states[op.Key]
							if st != nil {
								st.torndown = true
								if st.listener != "" {
									store.Unsubscribe(st.listener)
									st.listener = ""
								}
								delete(states, op.Key)
								// Fragments never went downstream, so their
								// teardown stops here too.
								if st.kind == cacheOpFragment {
									return
								}
							}
							downstreamOps.Next(op)
							return
						}
						if op.Artifact == nil {
							downstreamOps.Next(op)
							return
						}
						handleRequest(op)
					},
					Error:    func(error) { downstreamOps.Complete() },
					Complete: downstreamOps.Complete,
				})

				return stream.Subscription{Unsubscribe: func() {
					for key, st := range states {
						st.torndown = true
						if st.listener != "" {
							store.Unsubscribe(st.listener)
						}
						delete(states, key)
					}
					if upstreamSub.Unsubscribe != nil {
						upstreamSub.Unsubscribe()
					}
					if forwardSub.Unsubscribe != nil {
						forwardSub.Unsubscribe()
					}
				}}
			}
		}

		return Instance{Name: "cache", IO: io, Extension: ext}
	}
}

func policyOf(op model.Operation, fallback CachePolicy) CachePolicy {
	v, ok := op.MetaValue("cache", "policy")
	if !ok {
		return fallback
	}
	switch p := v.(type) {
	case CachePolicy:
		return p
	case string:
		if p != "" {
			return CachePolicy(p)
		}
	}
	return fallback
}

func fragmentRefOf(op model.Operation) (model.FragmentRef, bool) {
	v, ok := op.MetaValue("fragment", "ref")
	if !ok {
		return model.FragmentRef{}, false
	}
	ref, ok := v.(model.FragmentRef)
	return ref, ok
}
