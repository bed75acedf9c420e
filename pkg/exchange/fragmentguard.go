package exchange

import (
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
)

// FragmentGuard sits between required and the transport exchanges.
// Fragment reads are resolved entirely by the cache exchange earlier in
// the chain and never need a transport; this stage is the backstop that
// keeps a fragment operation from ever reaching http/subscription (whose
// own contracts only describe passing non-owned kinds through) and
// landing on the terminal exchange's "no transport configured" error,
// which would be the wrong failure mode for an operation kind that was
// never supposed to need one. It silently absorbs both a fragment
// request and its paired teardown; every other operation passes through
// untouched in both directions.
func FragmentGuard() Builder {
	return func(forward IO, client ClientHandle) Instance {
		io := func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
			return func(sink stream.Sink[model.OperationResult]) stream.Subscription {
				fragmentKeys := map[int64]struct{}{}
				downstreamOps := stream.MakeSubject[model.Operation]()

				forwardSub := forward(downstreamOps.Source)(stream.Sink[model.OperationResult]{
					Next:     sink.Next,
					Error:    sink.Error,
					Complete: sink.Complete,
				})

				upstreamSub := ops(stream.Sink[model.Operation]{
					Next: func(op model.Operation) {
						if op.Variant == model.VariantTeardown {
							if _, ok := fragmentKeys[op.Key]; ok {
								delete(fragmentKeys, op.Key)
								return
							}
							downstreamOps.Next(op)
							return
						}
						if op.Artifact != nil && op.Artifact.Kind == model.KindFragment {
							fragmentKeys[op.Key] = struct{}{}
							return
						}
						downstreamOps.Next(op)
					},
					Error:    func(error) { downstreamOps.Complete() },
					Complete: downstreamOps.Complete,
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
		return Instance{Name: "fragment", IO: io}
	}
}
