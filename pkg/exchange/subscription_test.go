package exchange_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/gqlwire/pkg/exchange"
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// fakeSubClient records transport subscriptions and lets the test push
// server events by hand.
type fakeSubClient struct {
	mu            sync.Mutex
	subscriptions []fakeSub
}

type fakeSub struct {
	req      exchange.SubscriptionRequest
	obs      exchange.SubscriptionObserver
	released bool
}

func (c *fakeSubClient) Subscribe(req exchange.SubscriptionRequest, obs exchange.SubscriptionObserver) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.subscriptions)
	c.subscriptions = append(c.subscriptions, fakeSub{req: req, obs: obs})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subscriptions[idx].released = true
	}
}

func (c *fakeSubClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

func (c *fakeSubClient) push(idx int, payload exchange.SubscriptionPayload) {
	c.mu.Lock()
	obs := c.subscriptions[idx].obs
	c.mu.Unlock()
	obs.Next(payload)
}

func onUserArtifact() *model.Artifact {
	return &model.Artifact{
		Kind: model.KindSubscription,
		Name: "OnUser",
		Body: "subscription OnUser { user { id name } }",
	}
}

// loopHandle serializes Post the way the real client does (a trampoline
// queue), since the subscription exchange is driven from two sides: the
// test pushing operations and the deferred-start goroutines.
type loopHandle struct {
	testHandle
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (h *loopHandle) Post(fn func()) {
	h.mu.Lock()
	h.queue = append(h.queue, fn)
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	for {
		if len(h.queue) == 0 {
			h.running = false
			h.mu.Unlock()
			return
		}
		next := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()
		next()
		h.mu.Lock()
	}
}

func subPipeline(t *testing.T, sc exchange.SubscriptionClient) (func(...model.Operation), *asyncResults) {
	t.Helper()
	handle := &loopHandle{}
	io, _ := exchange.Compose([]exchange.Builder{exchange.Subscriptions(sc)}, handle)
	ops := stream.MakeSubject[model.Operation]()
	collected := newAsyncResults()
	io(ops.Source)(collected.sink())
	push := func(batch ...model.Operation) {
		handle.Post(func() {
			for _, op := range batch {
				ops.Next(op)
			}
		})
	}
	return push, collected
}

func waitForSubs(t *testing.T, sc *fakeSubClient, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return sc.count() == n },
		5*time.Second, time.Millisecond, "transport subscription count")
}

func TestSubscriptions_DeliversPushes(t *testing.T) {
	sc := &fakeSubClient{}
	push, collected := subPipeline(t, sc)

	push(model.NewRequest(1, onUserArtifact(), map[string]interface{}{"id": "1"}, nil))
	waitForSubs(t, sc, 1)
	require.Equal(t, "subscription OnUser { user { id name } }", sc.subscriptions[0].req.Query)

	sc.push(0, exchange.SubscriptionPayload{
		Data: map[string]interface{}{"user": map[string]interface{}{"id": "1", "name": "Alice"}},
	})
	res := collected.wait(t)
	require.Equal(t, int64(1), res.Operation.Key)
	data, _ := res.DataMap()
	require.Equal(t, "Alice", data["user"].(map[string]interface{})["name"])

	sc.push(0, exchange.SubscriptionPayload{
		Data: map[string]interface{}{"user": map[string]interface{}{"id": "1", "name": "Bob"}},
	})
	res = collected.wait(t)
	data, _ = res.DataMap()
	require.Equal(t, "Bob", data["user"].(map[string]interface{})["name"])
}

func TestSubscriptions_TeardownBeforeStartNeverDialsTransport(t *testing.T) {
	sc := &fakeSubClient{}
	push, _ := subPipeline(t, sc)

	// Teardown lands in the same turn as the request, before the deferred
	// start has a chance to run: the transport must never be invoked.
	push(
		model.NewRequest(1, onUserArtifact(), nil, nil),
		model.NewTeardown(1, nil),
	)

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, sc.count())
}

func TestSubscriptions_TeardownReleasesTransportSubscription(t *testing.T) {
	sc := &fakeSubClient{}
	push, _ := subPipeline(t, sc)

	push(model.NewRequest(1, onUserArtifact(), nil, nil))
	waitForSubs(t, sc, 1)

	push(model.NewTeardown(1, nil))
	require.Eventually(t, func() bool {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		return sc.subscriptions[0].released
	}, 5*time.Second, time.Millisecond)
}

func TestSubscriptions_TransportErrorBecomesExchangeError(t *testing.T) {
	sc := &fakeSubClient{}
	push, collected := subPipeline(t, sc)

	push(model.NewRequest(1, onUserArtifact(), nil, nil))
	waitForSubs(t, sc, 1)

	sc.mu.Lock()
	obs := sc.subscriptions[0].obs
	sc.mu.Unlock()
	obs.Error(fmt.Errorf("socket closed"))

	res := collected.wait(t)
	ee, ok := xerrors.IsExchangeError(res.Errors[0])
	require.True(t, ok)
	require.Equal(t, "subscription", ee.ExchangeName)
}

func TestSubscriptions_NonSubscriptionOperationsPassThrough(t *testing.T) {
	sc := &fakeSubClient{}
	push, collected := subPipeline(t, sc)

	push(model.NewRequest(1, getUserArtifact(), nil, nil))

	// The terminal sentinel answers queries below this exchange.
	res := collected.wait(t)
	ee, ok := xerrors.IsExchangeError(res.Errors[0])
	require.True(t, ok)
	require.Equal(t, "terminal", ee.ExchangeName)
	require.Zero(t, sc.count())
}
