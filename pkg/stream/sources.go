package stream

// FromValue emits a single value synchronously then completes.
func FromValue[T any](v T) Source[T] {
	return func(sink Sink[T]) Subscription {
		done := false
		sink.start(Talkback{Pull: func() {}})
		if done {
			return noopSubscription()
		}
		sink.next(v)
		if !done {
			sink.complete()
		}
		return Subscription{Unsubscribe: func() { done = true }}
	}
}

// FromArray emits each element of xs synchronously, in order, then
// completes. Emission stops early if the sink unsubscribes mid-iteration.
func FromArray[T any](xs []T) Source[T] {
	return func(sink Sink[T]) Subscription {
		cancelled := false
		sink.start(Talkback{Pull: func() {}})
		for _, v := range xs {
			if cancelled {
				return noopSubscription()
			}
			sink.next(v)
		}
		if !cancelled {
			sink.complete()
		}
		return Subscription{Unsubscribe: func() { cancelled = true }}
	}
}

// Empty completes immediately without ever emitting a value.
func Empty[T any]() Source[T] {
	return func(sink Sink[T]) Subscription {
		sink.complete()
		return noopSubscription()
	}
}

// FromPromise adapts a deferred computation (anything shaped like a
// promise: a function that eventually calls back with a value or an error)
// into a Source that emits at most one value. Only the first call to
// resolve or reject takes effect; later calls are ignored.
func FromPromise[T any](fn func(resolve func(T), reject func(error))) Source[T] {
	return func(sink Sink[T]) Subscription {
		settled := false
		fn(
			func(v T) {
				if settled {
					return
				}
				settled = true
				sink.next(v)
				sink.complete()
			},
			func(err error) {
				if settled {
					return
				}
				settled = true
				sink.error(err)
			},
		)
		return Subscription{Unsubscribe: func() { settled = true }}
	}
}

// Make builds a Source from an observer-style setup function. setup runs on
// subscription and returns a cleanup function invoked on unsubscribe; setup
// may return nil when there is nothing to clean up.
func Make[T any](setup func(observer Sink[T]) func()) Source[T] {
	return func(sink Sink[T]) Subscription {
		unsubscribed := false
		guarded := Sink[T]{
			Next: func(v T) {
				if !unsubscribed {
					sink.next(v)
				}
			},
			Error: func(err error) {
				if !unsubscribed {
					sink.error(err)
				}
			},
			Complete: func() {
				if !unsubscribed {
					sink.complete()
				}
			},
		}
		cleanup := setup(guarded)
		return Subscription{Unsubscribe: func() {
			if unsubscribed {
				return
			}
			unsubscribed = true
			if cleanup != nil {
				cleanup()
			}
		}}
	}
}

// Subject is a hot, multicast, pull-free value emitter: calling Next/
// Complete pushes to every sink currently subscribed. It has no notion of
// replay — a sink that subscribes after Complete has been called simply
// completes immediately.
type Subject[T any] struct {
	Source Source[T]

	sinks     map[int]Sink[T]
	nextID    int
	completed bool
}

// MakeSubject creates a Subject. The returned Source may be subscribed any
// number of times; every subscriber receives every subsequent Next/
// Complete call.
func MakeSubject[T any]() *Subject[T] {
	subj := &Subject[T]{sinks: make(map[int]Sink[T])}
	subj.Source = func(sink Sink[T]) Subscription {
		if subj.completed {
			sink.complete()
			return noopSubscription()
		}
		id := subj.nextID
		subj.nextID++
		subj.sinks[id] = sink
		sink.start(Talkback{Pull: func() {}})
		return Subscription{Unsubscribe: func() {
			delete(subj.sinks, id)
		}}
	}
	return subj
}

// Next pushes v to every currently subscribed sink, in subscription order.
func (s *Subject[T]) Next(v T) {
	if s.completed {
		return
	}
	for _, id := range sortedKeys(s.sinks) {
		s.sinks[id].next(v)
	}
}

// Complete marks the subject as done; all current and future subscribers
// receive Complete.
func (s *Subject[T]) Complete() {
	if s.completed {
		return
	}
	s.completed = true
	for _, id := range sortedKeys(s.sinks) {
		s.sinks[id].complete()
	}
	s.sinks = make(map[int]Sink[T])
}

func sortedKeys[T any](m map[int]T) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// FromSubscription bridges a callback-based subscribe API (the shape of a
// subscription-client or an external observable) into a Source: it emits
// peek() synchronously on subscription, then re-emits peek() every time
// subscribeFn's onChange callback fires. subscribeFn returns an unsubscribe
// function that is called when the returned Subscription is torn down.
func FromSubscription[T any](peek func() T, subscribeFn func(onChange func()) func()) Source[T] {
	return func(sink Sink[T]) Subscription {
		sink.next(peek())
		unsubscribeExternal := subscribeFn(func() {
			sink.next(peek())
		})
		return Subscription{Unsubscribe: func() {
			if unsubscribeExternal != nil {
				unsubscribeExternal()
			}
		}}
	}
}
