package stream

import (
	"time"

	"github.com/juju/clock"
)

// Delay re-emits every value from src after d has elapsed, using clk to
// schedule the wait. Passing clock.WallClock gets real time; tests can pass
// a fake clock to avoid real sleeps. Each value's timer starts when that
// value arrives and every value waits the same d; the timers are
// independent of each other, and each value is emitted from its timer's
// callback.
func Delay[T any](src Source[T], d time.Duration, clk clock.Clock) Source[T] {
	if clk == nil {
		clk = clock.WallClock
	}
	return func(sink Sink[T]) Subscription {
		unsubscribed := false
		pending := 0
		srcDone := false

		timers := make([]clock.Timer, 0)

		finishIfDrained := func() {
			if srcDone && pending == 0 && !unsubscribed {
				sink.complete()
			}
		}

		upstream := src(Sink[T]{
			Next: func(v T) {
				if unsubscribed {
					return
				}
				pending++
				var t clock.Timer
				t = clk.AfterFunc(d, func() {
					if unsubscribed {
						return
					}
					pending--
					sink.next(v)
					finishIfDrained()
				})
				timers = append(timers, t)
			},
			Error: func(err error) {
				if !unsubscribed {
					sink.error(err)
				}
			},
			Complete: func() {
				srcDone = true
				finishIfDrained()
			},
		})

		return Subscription{Unsubscribe: func() {
			unsubscribed = true
			for _, t := range timers {
				t.Stop()
			}
			if upstream.Unsubscribe != nil {
				upstream.Unsubscribe()
			}
		}}
	}
}

// Share multicasts a single upstream subscription to any number of
// downstream sinks. The upstream source is subscribed on the first
// downstream subscription and torn down when the last downstream sink
// unsubscribes; a later subscriber after that point triggers a fresh
// upstream subscription. When the upstream completes or errors, every
// current sink receives that signal, and the next subscriber likewise
// starts a fresh upstream subscription.
func Share[T any](src Source[T]) Source[T] {
	type state struct {
		upstream    Subscription
		subscribed  bool
		sinks       map[int]Sink[T]
		nextID      int
		terminated  bool
		terminalErr error
		completed   bool
	}
	st := &state{sinks: make(map[int]Sink[T])}

	return func(sink Sink[T]) Subscription {
		if st.terminated {
			// The previous upstream run has ended; this subscriber starts a fresh one.
			st.terminated = false
			st.subscribed = false
		}

		id := st.nextID
		st.nextID++
		st.sinks[id] = sink

		if !st.subscribed {
			st.subscribed = true
			st.upstream = src(Sink[T]{
				Next: func(v T) {
					for _, sid := range sortedKeys(st.sinks) {
						st.sinks[sid].next(v)
					}
				},
				Error: func(err error) {
					st.terminated = true
					st.terminalErr = err
					for _, sid := range sortedKeys(st.sinks) {
						st.sinks[sid].error(err)
					}
					st.sinks = make(map[int]Sink[T])
				},
				Complete: func() {
					st.terminated = true
					st.completed = true
					for _, sid := range sortedKeys(st.sinks) {
						st.sinks[sid].complete()
					}
					st.sinks = make(map[int]Sink[T])
				},
			})
		}

		return Subscription{Unsubscribe: func() {
			delete(st.sinks, id)
			if len(st.sinks) == 0 && st.subscribed && !st.terminated {
				st.subscribed = false
				if st.upstream.Unsubscribe != nil {
					st.upstream.Unsubscribe()
				}
			}
		}}
	}
}
