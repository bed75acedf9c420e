// Package exchange implements the exchange interface and its
// composition, plus the built-in exchanges: dedup, retry, cache-wrap,
// scalar, required, a fragment guard, http, subscription, and terminal.
//
// The client builds exactly one composed pipeline at construction and
// drives every operation of its lifetime through the single resulting
// IO, multiplexed by Operation.Key; exchanges in this
// package are written against that single-long-lived-subscription model
// rather than against repeated independent subscriptions, which is what
// lets stateful exchanges (dedup's in-flight table, retry's attempt
// counters) hold state naturally in closures over the lifetime of the
// client instead of in an external registry.
package exchange

import (
	"github.com/sirupsen/logrus"

	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
)

// ClientHandle is the view of the client an exchange builder receives
// (the "({forward, client}) -> instance" shape).
//
// Post serializes fn onto the client's logical event loop. Exchanges
// whose work completes on a foreign goroutine (an HTTP response, a
// backoff timer, a subscription-client callback) MUST feed the outcome
// back through Post rather than calling their sink directly, so that
// every operator callback, cache mutation, and listener notification
// stays mutually exclusive. Post run from within the loop runs fn
// after the current callback finishes, never re-entrantly.
type ClientHandle interface {
	Schema() model.Schema
	Logger() *logrus.Logger
	Post(fn func())
}

// IO is the bidirectional operation/result transformation every exchange
// implements.
type IO func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult]

// Instance is what a Builder produces: a name (the extension map key), the
// exchange's IO, and an optional opaque extension value.
type Instance struct {
	Name      string
	IO        IO
	Extension interface{}
}

// Builder constructs one Instance given its downstream neighbor (forward)
// and the owning client.
type Builder func(forward IO, client ClientHandle) Instance

// Compose right-folds builders into a single IO, interposing Share on
// both sides of every exchange so that a second downstream subscription
// to the composed result never re-triggers an upstream exchange's work.
// An empty builder list composes to the terminal exchange alone.
func Compose(builders []Builder, client ClientHandle) (IO, map[string]interface{}) {
	extensions := make(map[string]interface{})
	forward := shareIO(Terminal()(nil, client).IO)

	for i := len(builders) - 1; i >= 0; i-- {
		inst := builders[i](forward, client)
		if inst.Extension != nil {
			extensions[inst.Name] = inst.Extension
		}
		forward = shareIO(inst.IO)
	}
	return forward, extensions
}

// shareIO wraps an IO's output source in Share so that any exchange
// upstream of it that happens to subscribe more than once (e.g. a
// client rebuilding its permanent sink) reuses one upstream execution.
func shareIO(io IO) IO {
	return func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
		return stream.Share(io(ops))
	}
}

// withOperationKey returns a copy of res with its Operation.Key rewritten,
// used by dedup to demultiplex a single forwarded request's result back
// to the original subscribers.
func withOperationKey(res model.OperationResult, key int64) model.OperationResult {
	res.Operation = res.Operation.WithKey(key)
	return res
}
