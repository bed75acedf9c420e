package exchange

import (
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// Terminal is the sentinel at the end of every chain: every request that
// reaches it fails with ExchangeError("terminal", ...), making a
// misconfigured (transport-less) pipeline's failure mode obvious.
func Terminal() Builder {
	return func(_ IO, _ ClientHandle) Instance {
		io := func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
			return func(sink stream.Sink[model.OperationResult]) stream.Subscription {
				return ops(stream.Sink[model.Operation]{
					Next: func(op model.Operation) {
						if op.Variant != model.VariantRequest {
							return
						}
						sink.Next(model.OperationResult{
							Operation: op,
							Errors: []error{xerrors.NewExchangeError(
								"terminal",
								"No transport exchange configured",
								nil,
								nil,
							)},
						})
					},
				})
			}
		}
		return Instance{Name: "terminal", IO: io}
	}
}
