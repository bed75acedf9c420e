package exchange_test

import (
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/gqlwire/pkg/exchange"
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// manualClock hands out timers the test fires by hand, so backoff
// scheduling stays deterministic and cancellation is observable.
type manualClock struct {
	timers []*manualTimer
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Chan() <-chan time.Time   { return nil }
func (t *manualTimer) Reset(time.Duration) bool { return false }
func (t *manualTimer) Stop() bool               { t.stopped = true; return true }

type manualAlarm struct {
	fn      func()
	stopped bool
}

func (a *manualAlarm) Chan() <-chan time.Time { return nil }
func (a *manualAlarm) Reset(time.Time) bool   { return false }
func (a *manualAlarm) Stop() bool             { a.stopped = true; return true }

func (c *manualClock) Now() time.Time                       { return time.Time{} }
func (c *manualClock) After(time.Duration) <-chan time.Time { return nil }
func (c *manualClock) NewTimer(time.Duration) clock.Timer   { return &manualTimer{} }
func (c *manualClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	t := &manualTimer{fn: f}
	c.timers = append(c.timers, t)
	return t
}
func (c *manualClock) At(time.Time) <-chan time.Time { return nil }
func (c *manualClock) AtFunc(_ time.Time, f func()) clock.Alarm {
	return &manualAlarm{fn: f}
}
func (c *manualClock) NewAlarm(time.Time) clock.Alarm { return &manualAlarm{} }

// fire runs the idx-th scheduled timer unless it has been stopped.
func (c *manualClock) fire(t *testing.T, idx int) {
	t.Helper()
	require.Less(t, idx, len(c.timers))
	timer := c.timers[idx]
	if !timer.stopped {
		timer.fn()
	}
}

func serverError(op model.Operation, code int) *model.OperationResult {
	return &model.OperationResult{
		Operation: op,
		Errors: []error{xerrors.NewExchangeError(
			"http", "non-2xx response", nil, map[string]interface{}{"statusCode": code})},
	}
}

func TestRetry_RetriesServerErrorsUntilSuccess(t *testing.T) {
	clk := &manualClock{}
	transport := &fakeTransport{}
	transport.respond = func(op model.Operation) *model.OperationResult {
		if transport.calls < 3 {
			return serverError(op, 500)
		}
		return &model.OperationResult{
			Operation: op,
			Data:      map[string]interface{}{"user": map[string]interface{}{"id": "1", "name": "Alice"}},
		}
	}

	ops, results := pipeline(t, testHandle{},
		exchange.Retry(exchange.RetryConfig{Clock: clk}),
		transport.builder())

	ops.Next(model.NewRequest(1, getUserArtifact(), map[string]interface{}{"id": 1}, nil))
	require.Equal(t, 1, transport.calls)
	require.Empty(t, *results, "a retriable failure is eaten, not surfaced")

	clk.fire(t, 0)
	require.Equal(t, 2, transport.calls)
	require.Empty(t, *results)

	clk.fire(t, 1)
	require.Equal(t, 3, transport.calls)
	require.Len(t, *results, 1)
	require.Equal(t, int64(1), (*results)[0].Operation.Key)
	require.Empty(t, (*results)[0].Errors)
}

func TestRetry_ReemissionsCarryRetryMetadataAndSkipDedup(t *testing.T) {
	clk := &manualClock{}
	transport := &fakeTransport{}
	transport.respond = func(op model.Operation) *model.OperationResult {
		if transport.calls == 1 {
			return serverError(op, 503)
		}
		return nil
	}

	ops, _ := pipeline(t, testHandle{},
		exchange.Retry(exchange.RetryConfig{Clock: clk}),
		transport.builder())

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	clk.fire(t, 0)

	require.Len(t, transport.pending, 1)
	retried := transport.pending[0]
	require.True(t, retried.MetaBool("dedup", "skip"))
	attempt, ok := retried.MetaValue("retry", "attempt")
	require.True(t, ok)
	require.Equal(t, 1, attempt)
}

func TestRetry_ClientErrorSurfacesImmediately(t *testing.T) {
	clk := &manualClock{}
	transport := &fakeTransport{}
	transport.respond = func(op model.Operation) *model.OperationResult {
		return serverError(op, 404)
	}

	ops, results := pipeline(t, testHandle{},
		exchange.Retry(exchange.RetryConfig{Clock: clk}),
		transport.builder())

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))

	require.Equal(t, 1, transport.calls)
	require.Len(t, *results, 1)
	ee, ok := xerrors.IsExchangeError((*results)[0].Errors[0])
	require.True(t, ok)
	code, _ := ee.StatusCode()
	require.Equal(t, 404, code)
	require.Empty(t, clk.timers)
}

func TestRetry_MutationsAreNeverRetried(t *testing.T) {
	clk := &manualClock{}
	transport := &fakeTransport{}
	transport.respond = func(op model.Operation) *model.OperationResult {
		return serverError(op, 500)
	}

	ops, results := pipeline(t, testHandle{},
		exchange.Retry(exchange.RetryConfig{Clock: clk}),
		transport.builder())

	ops.Next(model.NewRequest(1, updateUserArtifact(), nil, nil))

	require.Equal(t, 1, transport.calls)
	require.Len(t, *results, 1)
	require.Empty(t, clk.timers)
}

func TestRetry_SingleAttemptEqualsNoRetry(t *testing.T) {
	clk := &manualClock{}
	transport := &fakeTransport{}
	transport.respond = func(op model.Operation) *model.OperationResult {
		return serverError(op, 500)
	}

	ops, results := pipeline(t, testHandle{},
		exchange.Retry(exchange.RetryConfig{MaxAttempts: 1, Clock: clk}),
		transport.builder())

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))

	require.Equal(t, 1, transport.calls)
	require.Len(t, *results, 1)
	require.NotEmpty(t, (*results)[0].Errors)
}

func TestRetry_TeardownCancelsPendingRetry(t *testing.T) {
	clk := &manualClock{}
	transport := &fakeTransport{}
	transport.respond = func(op model.Operation) *model.OperationResult {
		return serverError(op, 500)
	}

	ops, _ := pipeline(t, testHandle{},
		exchange.Retry(exchange.RetryConfig{Clock: clk}),
		transport.builder())

	ops.Next(model.NewRequest(1, getUserArtifact(), nil, nil))
	require.Len(t, clk.timers, 1)

	ops.Next(model.NewTeardown(1, nil))
	clk.fire(t, 0)

	require.Equal(t, 1, transport.calls, "a torn-down key's pending retry must not fire")
	require.Equal(t, []int64{1}, transport.teardowns)
}
