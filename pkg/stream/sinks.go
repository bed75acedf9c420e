package stream

import "fmt"

// ErrNotSynchronous is returned by Peek when the source does not emit a
// value synchronously on subscription.
var ErrNotSynchronous = fmt.Errorf("stream: source did not emit synchronously")

// Collect awaits completion of src and returns the last value emitted (or
// the zero value if none were emitted) plus any error. It blocks until src
// completes or errors, so it must only be used with sources that terminate
// synchronously or that are driven by something external calling back into
// the caller's goroutine (e.g. in tests against fake/synchronous sources).
func Collect[T any](src Source[T]) (T, error) {
	var last T
	var got bool
	var resultErr error
	done := make(chan struct{})
	closed := false
	close2 := func() {
		if !closed {
			closed = true
			close(done)
		}
	}
	src(Sink[T]{
		Next:     func(v T) { last = v; got = true },
		Error:    func(err error) { resultErr = err; close2() },
		Complete: func() { close2() },
	})
	<-done
	_ = got
	return last, resultErr
}

// CollectAll awaits completion of src and returns every value it emitted,
// in order, plus any error.
func CollectAll[T any](src Source[T]) ([]T, error) {
	var all []T
	var resultErr error
	done := make(chan struct{})
	closed := false
	close2 := func() {
		if !closed {
			closed = true
			close(done)
		}
	}
	src(Sink[T]{
		Next:     func(v T) { all = append(all, v) },
		Error:    func(err error) { resultErr = err; close2() },
		Complete: func() { close2() },
	})
	<-done
	return all, resultErr
}

// Peek synchronously extracts the first value a source emits on
// subscription. If the source errors before emitting, Peek returns that
// error; it fails with ErrNotSynchronous if the source completes, or simply
// returns control without having emitted a value first (i.e. the source
// suspends before its first emission).
func Peek[T any](src Source[T]) (T, error) {
	var value T
	var got bool
	var sourceErr error
	sub := src(Sink[T]{
		Next: func(v T) {
			if !got {
				value = v
				got = true
			}
		},
		Error: func(err error) {
			if !got {
				sourceErr = err
			}
		},
	})
	if sub.Unsubscribe != nil {
		sub.Unsubscribe()
	}
	if got {
		return value, nil
	}
	if sourceErr != nil {
		return value, sourceErr
	}
	return value, ErrNotSynchronous
}
