package exchange

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// RetryConfig configures the retry exchange. A zero value
// is filled in with defaults by Retry. Backoff follows juju/retry's
// BackoffFunc shape (last delay, attempt number) so stock strategies like
// retry.DoubleDelay or retry.ExpBackoff drop straight in; the default is
// ExpBackoff(1s, 30s, 2.0), i.e. min(1000·2^attempt ms, 30s).
type RetryConfig struct {
	MaxAttempts int
	Backoff     func(lastDelay time.Duration, attempt int) time.Duration
	ShouldRetry func(err error) bool
	Clock       clock.Clock
}

func defaultShouldRetry(err error) bool {
	ee, ok := xerrors.IsExchangeError(err)
	if !ok || ee.ExchangeName != "http" {
		return false
	}
	code, ok := ee.StatusCode()
	return ok && code >= 500
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff == nil {
		c.Backoff = retry.ExpBackoff(time.Second, 30*time.Second, 2.0, false)
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = defaultShouldRetry
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	return c
}

func resultIsRetriable(res model.OperationResult, shouldRetry func(error) bool) bool {
	for _, err := range res.Errors {
		if shouldRetry(err) {
			return true
		}
	}
	return false
}

// Retry wraps the pipeline below it and re-emits a retriable-failed
// request downstream after an exponential backoff delay, up to
// cfg.MaxAttempts total attempts; mutations are never retried, and a
// teardown for the same key cancels any pending retry timer.
func Retry(cfg RetryConfig) Builder {
	cfg = cfg.withDefaults()
	return func(forward IO, client ClientHandle) Instance {
		io := func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
			return func(sink stream.Sink[model.OperationResult]) stream.Subscription {
				requests := map[int64]model.Operation{}
				attempts := map[int64]int{}
				lastDelays := map[int64]time.Duration{}
				timers := map[int64]clock.Timer{}

				downstreamOps := stream.MakeSubject[model.Operation]()

				cancelTimer := func(key int64) {
					if t, ok := timers[key]; ok {
						t.Stop()
						delete(timers, key)
					}
				}

				forwardSub := forward(downstreamOps.Source)(stream.Sink[model.OperationResult]{
					Next: func(res model.OperationResult) {
						key := res.Operation.Key
						original, tracked := requests[key]
						if !tracked || original.Artifact == nil || original.Artifact.Kind == model.KindMutation {
							sink.Next(res)
							return
						}
						if resultIsRetriable(res, cfg.ShouldRetry) && attempts[key]+1 < cfg.MaxAttempts {
							attempt := attempts[key] + 1
							attempts[key] = attempt
							delay := cfg.Backoff(lastDelays[key], attempt)
							lastDelays[key] = delay
							if logger := client.Logger(); logger != nil {
								logger.WithField("attempt", attempt).WithField("delay", delay).Warn("retrying operation")
							}
							timers[key] = cfg.Clock.AfterFunc(delay, func() {
								client.Post(func() {
									delete(timers, key)
									retried := original.WithMetadata(map[string]interface{}{
										"retry": map[string]interface{}{"attempt": attempt, "delay": delay.Milliseconds()},
										"dedup": map[string]interface{}{"skip": true},
									})
									downstreamOps.Next(retried)
								})
							})
							return
						}
						delete(requests, key)
						delete(attempts, key)
						delete(lastDelays, key)
						sink.Next(res)
					},
					Error:    sink.Error,
					Complete: sink.Complete,
				})

				upstreamSub := ops(stream.Sink[model.Operation]{
					Next: func(op model.Operation) {
						if op.Variant == model.VariantTeardown {
							cancelTimer(op.Key)
							delete(requests, op.Key)
							delete(attempts, op.Key)
							delete(lastDelays, op.Key)
							downstreamOps.Next(op)
							return
						}
						if op.Artifact != nil && op.Artifact.Kind != model.KindMutation {
							requests[op.Key] = op
						}
						downstreamOps.Next(op)
					},
					Error: func(err error) {
						downstreamOps.Complete()
					},
					Complete: func() {
						downstreamOps.Complete()
					},
				})

				return stream.Subscription{Unsubscribe: func() {
					for key := range timers {
						cancelTimer(key)
					}
					if upstreamSub.Unsubscribe != nil {
						upstreamSub.Unsubscribe()
					}
					if forwardSub.Unsubscribe != nil {
						forwardSub.Unsubscribe()
					}
				}}
			}
		}
		return Instance{Name: "retry", IO: io}
	}
}
