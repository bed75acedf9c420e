package stream

// Map transforms every emitted value with f, order-preserving.
func Map[T, U any](src Source[T], f func(T) U) Source[U] {
	return func(sink Sink[U]) Subscription {
		return src(Sink[T]{
			Start:    sink.start,
			Next:     func(v T) { sink.next(f(v)) },
			Error:    sink.error,
			Complete: sink.complete,
		})
	}
}

// Filter drops values for which p returns false.
func Filter[T any](src Source[T], p func(T) bool) Source[T] {
	return func(sink Sink[T]) Subscription {
		return src(Sink[T]{
			Start: sink.start,
			Next: func(v T) {
				if p(v) {
					sink.next(v)
				}
			},
			Error:    sink.error,
			Complete: sink.complete,
		})
	}
}

// Tap runs f for its side effect on every value, passing the value through
// unchanged.
func Tap[T any](src Source[T], f func(T)) Source[T] {
	return func(sink Sink[T]) Subscription {
		return src(Sink[T]{
			Start: sink.start,
			Next: func(v T) {
				f(v)
				sink.next(v)
			},
			Error:    sink.error,
			Complete: sink.complete,
		})
	}
}

// Take emits only the first n values, then completes and unsubscribes from
// the source.
func Take[T any](src Source[T], n int) Source[T] {
	return func(sink Sink[T]) Subscription {
		if n <= 0 {
			sink.complete()
			return noopSubscription()
		}
		count := 0
		var upstream Subscription
		done := false
		upstream = src(Sink[T]{
			Start: sink.start,
			Next: func(v T) {
				if done {
					return
				}
				count++
				sink.next(v)
				if count >= n {
					done = true
					sink.complete()
					if upstream.Unsubscribe != nil {
						upstream.Unsubscribe()
					}
				}
			},
			Error: sink.error,
			Complete: func() {
				if !done {
					done = true
					sink.complete()
				}
			},
		})
		return Subscription{Unsubscribe: func() {
			done = true
			if upstream.Unsubscribe != nil {
				upstream.Unsubscribe()
			}
		}}
	}
}

// TakeUntil completes the resulting stream as soon as notifier emits any
// value (or completes), tearing down both src and notifier.
func TakeUntil[T, N any](src Source[T], notifier Source[N]) Source[T] {
	return func(sink Sink[T]) Subscription {
		done := false
		var srcSub, notifierSub Subscription

		finish := func() {
			if done {
				return
			}
			done = true
			sink.complete()
			if srcSub.Unsubscribe != nil {
				srcSub.Unsubscribe()
			}
			if notifierSub.Unsubscribe != nil {
				notifierSub.Unsubscribe()
			}
		}

		notifierSub = notifier(Sink[N]{
			Next:     func(N) { finish() },
			Complete: finish,
		})
		if done {
			return noopSubscription()
		}
		srcSub = src(Sink[T]{
			Next: func(v T) {
				if !done {
					sink.next(v)
				}
			},
			Error: func(err error) {
				if !done {
					sink.error(err)
				}
			},
			Complete: finish,
		})
		return Subscription{Unsubscribe: func() {
			done = true
			if srcSub.Unsubscribe != nil {
				srcSub.Unsubscribe()
			}
			if notifierSub.Unsubscribe != nil {
				notifierSub.Unsubscribe()
			}
		}}
	}
}

// Merge subscribes to every source concurrently (in the single-threaded
// cooperative sense: one after another, synchronously) and emits from all of
// them as values arrive. It completes once every source has completed.
// Values emitted synchronously during a later source's subscription setup
// are preserved in emission order because each source is fully subscribed
// (and may emit) before the next is subscribed.
func Merge[T any](sources ...Source[T]) Source[T] {
	return func(sink Sink[T]) Subscription {
		remaining := len(sources)
		if remaining == 0 {
			sink.complete()
			return noopSubscription()
		}
		done := false
		subs := make([]Subscription, len(sources))
		for i, s := range sources {
			i := i
			subs[i] = s(Sink[T]{
				Next: func(v T) {
					if !done {
						sink.next(v)
					}
				},
				Error: func(err error) {
					if !done {
						done = true
						sink.error(err)
					}
				},
				Complete: func() {
					remaining--
					if remaining == 0 && !done {
						done = true
						sink.complete()
					}
				},
			})
		}
		return Subscription{Unsubscribe: func() {
			done = true
			for _, sub := range subs {
				if sub.Unsubscribe != nil {
					sub.Unsubscribe()
				}
			}
		}}
	}
}

// MergeMap subscribes to every inner source produced by f concurrently.
// Downstream completes once the outer source and every spawned inner
// source have completed. An error anywhere propagates and cancels every
// other inner subscription plus the outer one.
func MergeMap[T, U any](src Source[T], f func(T) Source[U]) Source[U] {
	return func(sink Sink[U]) Subscription {
		done := false
		outerComplete := false
		var outerSub Subscription
		inners := map[int]Subscription{}
		completedInners := map[int]bool{}
		nextID := 0

		teardownAll := func() {
			for _, sub := range inners {
				if sub.Unsubscribe != nil {
					sub.Unsubscribe()
				}
			}
			inners = map[int]Subscription{}
			if outerSub.Unsubscribe != nil {
				outerSub.Unsubscribe()
			}
		}

		finishIfDrained := func() {
			if outerComplete && len(inners) == 0 && !done {
				done = true
				sink.complete()
			}
		}

		outerSub = src(Sink[T]{
			Next: func(v T) {
				if done {
					return
				}
				id := nextID
				nextID++
				innerSub := f(v)(Sink[U]{
					Next: func(iv U) {
						if !done {
							sink.next(iv)
						}
					},
					Error: func(err error) {
						if !done {
							done = true
							sink.error(err)
							teardownAll()
						}
					},
					Complete: func() {
						completedInners[id] = true
						delete(inners, id)
						finishIfDrained()
					},
				})
				switch {
				case done || completedInners[id]:
					// Completed (or errored) synchronously during subscribe;
					// don't resurrect its entry.
					if done && innerSub.Unsubscribe != nil {
						innerSub.Unsubscribe()
					}
				default:
					inners[id] = innerSub
				}
			},
			Error: func(err error) {
				if !done {
					done = true
					sink.error(err)
					teardownAll()
				}
			},
			Complete: func() {
				outerComplete = true
				finishIfDrained()
			},
		})

		return Subscription{Unsubscribe: func() {
			done = true
			teardownAll()
		}}
	}
}

// SwitchMap subscribes to the inner source produced by f, unsubscribing the
// previous inner subscription (if any) before subscribing the new one.
// Downstream completes once the outer source and the current inner source
// have both completed.
func SwitchMap[T, U any](src Source[T], f func(T) Source[U]) Source[U] {
	return func(sink Sink[U]) Subscription {
		done := false
		outerComplete := false
		var currentInner Subscription
		hasInner := false

		finishIfDrained := func() {
			if outerComplete && !hasInner && !done {
				done = true
				sink.complete()
			}
		}

		outerSub := src(Sink[T]{
			Next: func(v T) {
				if done {
					return
				}
				if hasInner && currentInner.Unsubscribe != nil {
					currentInner.Unsubscribe()
				}
				hasInner = true
				inner := f(v)
				currentInner = inner(Sink[U]{
					Next: func(iv U) {
						if !done {
							sink.next(iv)
						}
					},
					Error: func(err error) {
						if !done {
							done = true
							sink.error(err)
						}
					},
					Complete: func() {
						hasInner = false
						finishIfDrained()
					},
				})
			},
			Error: func(err error) {
				if !done {
					done = true
					sink.error(err)
				}
			},
			Complete: func() {
				outerComplete = true
				finishIfDrained()
			},
		})

		return Subscription{Unsubscribe: func() {
			done = true
			if hasInner && currentInner.Unsubscribe != nil {
				currentInner.Unsubscribe()
			}
			if outerSub.Unsubscribe != nil {
				outerSub.Unsubscribe()
			}
		}}
	}
}
