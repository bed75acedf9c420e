// Package gqlwire is the runtime core of a GraphQL client: it accepts
// compiled operation artifacts, routes each through a configurable
// pipeline of exchanges (dedup, retry, normalized cache, scalar codecs,
// transport), and emits lazy result streams for view-layer bindings to
// consume.
//
// The heavy lifting lives in the sub-packages: pkg/stream (pull-based
// source/sink primitives), pkg/cache (the normalized document cache),
// pkg/exchange (the pipeline stages), pkg/keys (stable key derivation),
// and pkg/xerrors (the error taxonomy). This package ties them together
// behind the Client type and re-exports the data-model names so callers
// rarely need to import pkg/model directly.
package gqlwire

import (
	"github.com/nbaertsch/gqlwire/pkg/exchange"
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// Data model aliases, see pkg/model.
type (
	Schema           = model.Schema
	EntityDescriptor = model.EntityDescriptor
	InputDescriptor  = model.InputDescriptor
	InputField       = model.InputField
	ScalarCodec      = model.ScalarCodec
	Artifact         = model.Artifact
	Selection        = model.Selection
	Field            = model.Field
	VariableDef      = model.VariableDef
	Operation        = model.Operation
	OperationResult  = model.OperationResult
	FragmentRef      = model.FragmentRef
	EntityRef        = model.EntityRef
)

// Error taxonomy aliases, see pkg/xerrors.
type (
	GraphQLError    = xerrors.GraphQLError
	ExchangeError   = xerrors.ExchangeError
	AggregatedError = xerrors.AggregatedError
)

// Exchange aliases, see pkg/exchange.
type (
	ExchangeBuilder = exchange.Builder
	CachePolicy     = exchange.CachePolicy
)

// Cache policies, see pkg/exchange.
const (
	CacheFirst      = exchange.PolicyCacheFirst
	CacheAndNetwork = exchange.PolicyCacheAndNetwork
	NetworkOnly     = exchange.PolicyNetworkOnly
	CacheOnly       = exchange.PolicyCacheOnly
)

// NewEntityFragmentRef, NewEntityListFragmentRef and NewLiteralFragmentRef
// build the three FragmentRef shapes, see pkg/model.
var (
	NewEntityFragmentRef     = model.NewEntityFragmentRef
	NewEntityListFragmentRef = model.NewEntityListFragmentRef
	NewLiteralFragmentRef    = model.NewLiteralFragmentRef
)

// DefaultExchanges is the standard chain (dedup, retry, cache, scalar,
// required, fragment guard, http); the terminal sentinel is appended by
// composition. Callers needing subscriptions append
// exchange.Subscriptions before the http entry's position or anywhere
// after the fragment guard.
func DefaultExchanges(httpCfg exchange.HTTPConfig) []exchange.Builder {
	return []exchange.Builder{
		exchange.Dedup(),
		exchange.Retry(exchange.RetryConfig{}),
		exchange.CacheWrap(exchange.CacheConfig{}),
		exchange.Scalar(),
		exchange.Required(),
		exchange.FragmentGuard(),
		exchange.HTTP(httpCfg),
	}
}
