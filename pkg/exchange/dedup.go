package exchange

import (
	"github.com/nbaertsch/gqlwire/pkg/keys"
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
)

// dedupEligible reports whether op should be tracked by the dedup table
// at all: queries and subscriptions are eligible, mutations and fragments
// are skipped outright, and so is any request carrying
// metadata.dedup.skip (set by the retry exchange on a re-emission, or by
// a caller directly).
func dedupEligible(op model.Operation) (string, bool) {
	if op.Artifact == nil {
		return "", false
	}
	if op.Artifact.Kind != model.KindQuery && op.Artifact.Kind != model.KindSubscription {
		return "", false
	}
	if op.MetaBool("dedup", "skip") {
		return "", false
	}
	return op.Artifact.Name + keys.Stable(op.Variables), true
}

// Dedup collapses concurrently in-flight requests that share a dedup key
// (artifact name + stable-stringified variables) into a single forwarded
// request, re-emitting its single result once per subscriber with
// Operation.Key rewritten back to each subscriber's own key. The
// metadata of the forwarded request is whichever subscriber's
// request happened to trigger it; every other subscriber's metadata is
// lost, an invariant documented at the call site rather than silently
// papered over.
func Dedup() Builder {
	return func(forward IO, client ClientHandle) Instance {
		io := func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
			return func(sink stream.Sink[model.OperationResult]) stream.Subscription {
				subscribers := map[string]map[int64]struct{}{}
				resolved := map[string]bool{}
				dedupKeyOfSubscriber := map[int64]string{}
				forwardKeyOfDedupKey := map[string]int64{}
				dedupKeyOfForwardKey := map[int64]string{}

				downstreamOps := stream.MakeSubject[model.Operation]()

				forwardSub := forward(downstreamOps.Source)(stream.Sink[model.OperationResult]{
					Next: func(res model.OperationResult) {
						dk, tracked := dedupKeyOfForwardKey[res.Operation.Key]
						if !tracked {
							sink.Next(res)
							return
						}
						resolved[dk] = true
						for subKey := range subscribers[dk] {
							sink.Next(withOperationKey(res, subKey))
						}
					},
					Error:    sink.Error,
					Complete: sink.Complete,
				})

				upstreamSub := ops(stream.Sink[model.Operation]{
					Next: func(op model.Operation) {
						if op.Variant == model.VariantTeardown {
							dk, tracked := dedupKeyOfSubscriber[op.Key]
							if !tracked {
								downstreamOps.Next(op)
								return
							}
							delete(dedupKeyOfSubscriber, op.Key)
							if set := subscribers[dk]; set != nil {
								delete(set, op.Key)
								if len(set) == 0 {
									delete(subscribers, dk)
									delete(resolved, dk)
									if fk, ok := forwardKeyOfDedupKey[dk]; ok {
										downstreamOps.Next(model.NewTeardown(fk, op.Metadata))
										delete(forwardKeyOfDedupKey, dk)
										delete(dedupKeyOfForwardKey, fk)
									}
								}
							}
							return
						}

						dk, eligible := dedupEligible(op)
						if !eligible {
							downstreamOps.Next(op)
							return
						}
						dedupKeyOfSubscriber[op.Key] = dk
						if subscribers[dk] == nil {
							subscribers[dk] = map[int64]struct{}{}
						}
						// In-flight means a forwarded request whose result has
						// not come back yet; a resolved key forwards again.
						inFlight := len(subscribers[dk]) > 0 && !resolved[dk]
						subscribers[dk][op.Key] = struct{}{}
						if !inFlight {
							// Exactly one canonical downstream operation per
							// dedup key: re-forwarding retires the previous one
							// so downstream per-key state (cache listeners,
							// abort controllers) doesn't accumulate.
							if prev, ok := forwardKeyOfDedupKey[dk]; ok {
								delete(dedupKeyOfForwardKey, prev)
								downstreamOps.Next(model.NewTeardown(prev, nil))
							}
							resolved[dk] = false
							forwardKeyOfDedupKey[dk] = op.Key
							dedupKeyOfForwardKey[op.Key] = dk
							downstreamOps.Next(op)
						}
					},
					Error: func(err error) {
						downstreamOps.Complete()
					},
					Complete: func() {
						downstreamOps.Complete()
					},
				})

				return stream.Subscription{Unsubscribe: func() {
					if upstreamSub.Unsubscribe != nil {
						upstreamSub.Unsubscribe()
					}
					if forwardSub.Unsubscribe != nil {
						forwardSub.Unsubscribe()
					}
				}}
			}
		}
		return Instance{Name: "dedup", IO: io}
	}
}
