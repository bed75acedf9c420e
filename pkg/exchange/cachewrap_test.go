package exchange_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/gqlwire/pkg/cache"
	"github.com/nbaertsch/gqlwire/pkg/exchange"
	"github.com/nbaertsch/gqlwire/pkg/keys"
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
)

func cachePipeline(t *testing.T, cfg exchange.CacheConfig) (*stream.Subject[model.Operation], *[]model.OperationResult, *fakeTransport, exchange.CacheExtension) {
	t.Helper()
	handle := testHandle{schema: userSchema()}
	transport := &fakeTransport{}
	io, extensions := exchange.Compose([]exchange.Builder{
		exchange.CacheWrap(cfg),
		transport.builder(),
	}, handle)
	ops := stream.MakeSubject[model.Operation]()
	var results []model.OperationResult
	io(ops.Source)(stream.Sink[model.OperationResult]{
		Next: func(res model.OperationResult) { results = append(results, res) },
	})
	ext := extensions["cache"].(exchange.CacheExtension)
	return ops, &results, transport, ext
}

func aliceData() map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{"__typename": "User", "id": "1", "name": "Alice"},
	}
}

func bobMutationData() map[string]interface{} {
	return map[string]interface{}{
		"updateUser": map[string]interface{}{"__typename": "User", "id": "1", "name": "Bob"},
	}
}

func userName(t *testing.T, res model.OperationResult) string {
	t.Helper()
	data, ok := res.DataMap()
	require.True(t, ok)
	user, ok := data["user"].(map[string]interface{})
	require.True(t, ok)
	name, _ := user["name"].(string)
	return name
}

func TestCacheWrap_MissForwardsThenServesFromCache(t *testing.T) {
	ops, results, transport, _ := cachePipeline(t, exchange.CacheConfig{})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	require.Equal(t, 1, transport.calls)
	require.Empty(t, *results, "a cache-first miss emits nothing until the network answers")

	transport.emit(t, 0, aliceData())
	require.Len(t, *results, 1)
	require.Equal(t, "Alice", userName(t, (*results)[0]))
	require.False(t, (*results)[0].Stale())

	// A second subscriber of the same query is answered from storage.
	ops.Next(model.NewRequest(2, getUserArtifact(), nil, nil))
	require.Equal(t, 1, transport.calls)
	require.Len(t, *results, 2)
	require.Equal(t, int64(2), (*results)[1].Operation.Key)
	require.Equal(t, "Alice", userName(t, (*results)[1]))
}

func TestCacheWrap_CacheOnlyMissEmitsNull(t *testing.T) {
	ops, results, transport, _ := cachePipeline(t, exchange.CacheConfig{DefaultPolicy: exchange.PolicyCacheOnly})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))

	require.Zero(t, transport.calls, "cache-only never touches the network")
	require.Len(t, *results, 1)
	require.Nil(t, (*results)[0].Data)
}

func TestCacheWrap_NetworkOnlySkipsCacheRead(t *testing.T) {
	ops, results, transport, _ := cachePipeline(t, exchange.CacheConfig{})

	// Prime the cache.
	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	transport.emit(t, 0, aliceData())
	require.Len(t, *results, 1)

	networkOnly := map[string]interface{}{"cache": map[string]interface{}{"policy": "network-only"}}
	ops.Next(model.NewRequest(2, getUserArtifact(), nil, networkOnly))
	require.Equal(t, 2, transport.calls, "network-only forwards even on a warm cache")

	transport.emit(t, 1, aliceData())
	require.Len(t, *results, 2)
	require.Equal(t, "Alice", userName(t, (*results)[1]))
}

func TestCacheWrap_CacheAndNetworkEmitsThenRefetches(t *testing.T) {
	ops, results, transport, _ := cachePipeline(t, exchange.CacheConfig{})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	transport.emit(t, 0, aliceData())

	can := map[string]interface{}{"cache": map[string]interface{}{"policy": "cache-and-network"}}
	ops.Next(model.NewRequest(2, getUserArtifact(), nil, can))

	require.Len(t, *results, 2, "cached data is emitted immediately")
	require.Equal(t, "Alice", userName(t, (*results)[1]))
	require.Equal(t, 2, transport.calls, "and a network refetch is issued anyway")
}

func TestCacheWrap_MutationWriteReemitsToQuerySubscriber(t *testing.T) {
	ops, results, transport, _ := cachePipeline(t, exchange.CacheConfig{})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	transport.emit(t, 0, aliceData())
	require.Len(t, *results, 1)

	ops.Next(model.NewRequest(2, updateUserArtifact(), map[string]interface{}{"id": "1", "name": "Bob"}, nil))
	require.Equal(t, 2, transport.calls, "mutations bypass the cache read")
	transport.emit(t, 1, bobMutationData())

	require.Len(t, *results, 3)
	// The query subscriber's re-emission lands before the mutation's own
	// result: notifications fire synchronously inside the write.
	require.Equal(t, int64(1), (*results)[1].Operation.Key)
	require.Equal(t, "Bob", userName(t, (*results)[1]))
	require.Equal(t, int64(2), (*results)[2].Operation.Key)
}

func TestCacheWrap_InvalidateEmitsStaleThenRefetches(t *testing.T) {
	ops, results, transport, ext := cachePipeline(t, exchange.CacheConfig{})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	transport.emit(t, 0, aliceData())
	require.Len(t, *results, 1)

	ext.Invalidate(cache.InvalidateTarget{Typename: "User", KeyValues: []interface{}{"1"}})

	require.Len(t, *results, 2)
	stale := (*results)[1]
	require.True(t, stale.Stale())
	require.Equal(t, "Alice", userName(t, stale), "the stale emission still carries last-known data")
	require.Equal(t, 2, transport.calls, "invalidation triggers a network refetch")

	transport.emit(t, 1, map[string]interface{}{
		"user": map[string]interface{}{"__typename": "User", "id": "1", "name": "Alice II"},
	})
	require.Len(t, *results, 3)
	final := (*results)[2]
	require.False(t, final.Stale())
	require.Equal(t, "Alice II", userName(t, final))
}

func TestCacheWrap_RefetchWithIdenticalDataClearsStale(t *testing.T) {
	ops, results, transport, ext := cachePipeline(t, exchange.CacheConfig{})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	transport.emit(t, 0, aliceData())
	ext.Invalidate(cache.InvalidateTarget{Typename: "User", KeyValues: []interface{}{"1"}})
	require.Len(t, *results, 2)

	transport.emit(t, 1, aliceData())
	require.Len(t, *results, 3)
	require.False(t, (*results)[2].Stale(), "an identical refetch still flips the read back to fresh")
}

func TestCacheWrap_TeardownStopsReemissions(t *testing.T) {
	ops, results, transport, _ := cachePipeline(t, exchange.CacheConfig{})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	transport.emit(t, 0, aliceData())
	require.Len(t, *results, 1)

	ops.Next(model.NewTeardown(1, nil))
	require.Equal(t, []int64{1}, transport.teardowns)

	ops.Next(model.NewRequest(2, updateUserArtifact(), nil, nil))
	transport.emit(t, 1, bobMutationData())

	require.Len(t, *results, 2, "only the mutation's own result is emitted after teardown")
	require.Equal(t, int64(2), (*results)[1].Operation.Key)
}

func TestCacheWrap_FragmentReadAndReemission(t *testing.T) {
	ops, results, transport, _ := cachePipeline(t, exchange.CacheConfig{})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	transport.emit(t, 0, aliceData())
	require.Len(t, *results, 1)

	fragment := &model.Artifact{
		Kind:       model.KindFragment,
		Name:       "UserFields",
		Selections: userFields(),
	}
	ref := model.NewEntityFragmentRef("User", keys.StorageKey("User", "1"))
	meta := map[string]interface{}{"fragment": map[string]interface{}{"ref": ref}}
	ops.Next(model.NewRequest(2, fragment, nil, meta))

	require.Len(t, *results, 2)
	frag, ok := (*results)[1].DataMap()
	require.True(t, ok)
	require.Equal(t, "Alice", frag["name"])

	// A mutation touching the entity re-notifies the fragment subscriber.
	ops.Next(model.NewRequest(3, updateUserArtifact(), nil, nil))
	transport.emit(t, 1, bobMutationData())

	var fragEmissions []model.OperationResult
	for _, res := range *results {
		if res.Operation.Key == 2 {
			fragEmissions = append(fragEmissions, res)
		}
	}
	require.Len(t, fragEmissions, 2)
	updated, _ := fragEmissions[1].DataMap()
	require.Equal(t, "Bob", updated["name"])
}

func TestCacheWrap_FragmentWithoutRefErrors(t *testing.T) {
	ops, results, _, _ := cachePipeline(t, exchange.CacheConfig{})

	fragment := &model.Artifact{Kind: model.KindFragment, Name: "UserFields", Selections: userFields()}
	ops.Next(model.NewRequest(1, fragment, nil, nil))

	require.Len(t, *results, 1)
	require.NotEmpty(t, (*results)[0].Errors)
}

func TestCacheWrap_ClearForcesMiss(t *testing.T) {
	ops, results, transport, ext := cachePipeline(t, exchange.CacheConfig{})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	transport.emit(t, 0, aliceData())
	require.Len(t, *results, 1)

	ext.Clear()

	// The subscriber's data vanished: the exchange refetches rather than
	// emitting a null over data it already delivered.
	require.Equal(t, 2, transport.calls)
}

func TestCacheWrap_ErrorResultsPassThroughUnwritten(t *testing.T) {
	ops, results, transport, _ := cachePipeline(t, exchange.CacheConfig{})

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	transport.sink.Next(model.OperationResult{
		Operation: transport.pending[0],
		Errors:    []error{&testError{}},
	})

	require.Len(t, *results, 1)
	require.NotEmpty(t, (*results)[0].Errors)
	require.Nil(t, (*results)[0].Data)
}

type testError struct{}

func (*testError) Error() string { return "boom" }
