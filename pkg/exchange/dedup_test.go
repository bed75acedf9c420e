package exchange_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/gqlwire/pkg/exchange"
	"github.com/nbaertsch/gqlwire/pkg/model"
)

func TestDedup_CollapsesInFlightQueries(t *testing.T) {
	transport := &fakeTransport{}
	ops, results := pipeline(t, testHandle{}, exchange.Dedup(), transport.builder())

	vars := map[string]interface{}{"id": 1}
	ops.Next(model.NewRequest(1, getUserArtifact(), vars, nil))
	ops.Next(model.NewRequest(2, getUserArtifact(), vars, nil))
	ops.Next(model.NewRequest(3, getUserArtifact(), vars, nil))

	require.Equal(t, 1, transport.calls, "identical in-flight queries collapse to one network call")

	data := map[string]interface{}{"user": map[string]interface{}{"id": "1", "name": "Alice"}}
	transport.emit(t, 0, data)

	require.Len(t, *results, 3)
	seen := map[int64]bool{}
	for _, res := range *results {
		seen[res.Operation.Key] = true
		require.Equal(t, data, res.Data)
	}
	require.Equal(t, map[int64]bool{1: true, 2: true, 3: true}, seen, "each subscriber gets its own key back")
}

func TestDedup_DifferentVariablesAreNotCollapsed(t *testing.T) {
	transport := &fakeTransport{}
	ops, _ := pipeline(t, testHandle{}, exchange.Dedup(), transport.builder())

	ops.Next(model.NewRequest(1, getUserArtifact(), map[string]interface{}{"id": 1}, nil))
	ops.Next(model.NewRequest(2, getUserArtifact(), map[string]interface{}{"id": 2}, nil))

	require.Equal(t, 2, transport.calls)
}

func TestDedup_MutationsAreNeverDeduped(t *testing.T) {
	transport := &fakeTransport{}
	ops, _ := pipeline(t, testHandle{}, exchange.Dedup(), transport.builder())

	vars := map[string]interface{}{"id": 1, "name": "Bob"}
	ops.Next(model.NewRequest(1, updateUserArtifact(), vars, nil))
	ops.Next(model.NewRequest(2, updateUserArtifact(), vars, nil))

	require.Equal(t, 2, transport.calls)
}

func TestDedup_SkipMetadataBypasses(t *testing.T) {
	transport := &fakeTransport{}
	ops, _ := pipeline(t, testHandle{}, exchange.Dedup(), transport.builder())

	vars := map[string]interface{}{"id": 1}
	skip := map[string]interface{}{"dedup": map[string]interface{}{"skip": true}}
	ops.Next(model.NewRequest(1, getUserArtifact(), vars, nil))
	ops.Next(model.NewRequest(2, getUserArtifact(), vars, skip))

	require.Equal(t, 2, transport.calls)
}

func TestDedup_TeardownForwardedWhenLastSubscriberLeaves(t *testing.T) {
	transport := &fakeTransport{}
	ops, _ := pipeline(t, testHandle{}, exchange.Dedup(), transport.builder())

	vars := map[string]interface{}{"id": 1}
	ops.Next(model.NewRequest(1, getUserArtifact(), vars, nil))
	ops.Next(model.NewRequest(2, getUserArtifact(), vars, nil))

	ops.Next(model.NewTeardown(1, nil))
	require.Empty(t, transport.teardowns, "teardown is held back while other subscribers remain")

	ops.Next(model.NewTeardown(2, nil))
	require.Equal(t, []int64{1}, transport.teardowns, "the forwarded key's teardown goes downstream when the set empties")
}

func TestDedup_ResolvedKeyForwardsAgain(t *testing.T) {
	transport := &fakeTransport{}
	ops, results := pipeline(t, testHandle{}, exchange.Dedup(), transport.builder())

	vars := map[string]interface{}{"id": 1}
	ops.Next(model.NewRequest(1, getUserArtifact(), vars, nil))
	transport.emit(t, 0, map[string]interface{}{"user": nil})
	require.Len(t, *results, 1)

	// A later subscriber of the same logical query is not in-flight any
	// more: it forwards a fresh request and retires the previous key.
	ops.Next(model.NewRequest(2, getUserArtifact(), vars, nil))
	require.Equal(t, 2, transport.calls)
	require.Equal(t, []int64{1}, transport.teardowns)
}
