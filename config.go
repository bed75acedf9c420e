package gqlwire

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/nbaertsch/gqlwire/pkg/exchange"
	"github.com/nbaertsch/gqlwire/pkg/model"
)

// Config holds the configuration for a Client.
type Config struct {
	// Schema is the entity/input/scalar descriptor the cache and scalar
	// exchanges operate against.
	Schema model.Schema

	// Scalars registers custom scalar codecs by type name. Entries are
	// merged into Schema.Scalars (Scalars wins on conflicts).
	Scalars map[string]model.ScalarCodec

	// Exchanges is the ordered pipeline. An empty list means every
	// operation fails on the terminal sentinel; DefaultExchanges builds
	// the standard chain.
	Exchanges []exchange.Builder

	// Logger receives the retry exchange's warn output. Nil means silent
	// operation.
	Logger *logrus.Logger

	// DefaultPolicy seeds the cache policy of requests that don't carry
	// one. Empty means cache-first.
	DefaultPolicy exchange.CachePolicy
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.DefaultPolicy {
	case "", exchange.PolicyCacheFirst, exchange.PolicyCacheAndNetwork,
		exchange.PolicyNetworkOnly, exchange.PolicyCacheOnly:
	default:
		return fmt.Errorf("unknown cache policy %q", c.DefaultPolicy)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultPolicy: exchange.PolicyCacheFirst,
	}
}

// silentLogger is the zero-value logger: consumers who never configure
// one see no output.
func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
