// Package stream implements the pull-based event stream primitives that
// every stage of the exchange pipeline is built from: lazy sources, sinks,
// and a set of composable operators.
//
// Sources are lazy: no work happens before a sink subscribes, and each
// subscription runs the source afresh unless it has been wrapped with
// Share. All callbacks run synchronously on the caller's goroutine, except
// Delay's, which emit from the clock's timer callbacks; no operator may
// re-enter its own sink from within a single Next call.
package stream

// Talkback is handed to a sink's Start callback so it can pull more values
// from a producer that supports it. The sources in this package push
// eagerly: FromValue, FromArray and Subject call Start with a Talkback
// whose Pull does nothing, and the others never call Start. Talkback exists
// for producers that want to be told "go ahead" explicitly.
type Talkback struct {
	Pull func()
}

// Sink receives the values produced by a Source. Every callback is
// optional; a nil value is treated as "no-op".
type Sink[T any] struct {
	Start    func(tb Talkback)
	Next     func(v T)
	Error    func(err error)
	Complete func()
}

func (s Sink[T]) next(v T) {
	if s.Next != nil {
		s.Next(v)
	}
}

func (s Sink[T]) error(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

func (s Sink[T]) complete() {
	if s.Complete != nil {
		s.Complete()
	}
}

func (s Sink[T]) start(tb Talkback) {
	if s.Start != nil {
		s.Start(tb)
	}
}

// Subscription is returned by Source when a Sink subscribes to it.
// Unsubscribe is idempotent.
type Subscription struct {
	Unsubscribe func()
}

// Source is the pull-based producer contract: subscribing a Sink returns a
// Subscription that can be torn down early.
type Source[T any] func(sink Sink[T]) Subscription

// Subscribe is sugar over calling a Source directly with a Sink built from
// plain callbacks, returning a bare unsubscribe function.
func Subscribe[T any](src Source[T], next func(T), opts ...SubscribeOption[T]) func() {
	sink := Sink[T]{Next: next}
	for _, opt := range opts {
		opt(&sink)
	}
	sub := src(sink)
	if sub.Unsubscribe == nil {
		return func() {}
	}
	return sub.Unsubscribe
}

// SubscribeOption customizes a Sink built by Subscribe.
type SubscribeOption[T any] func(*Sink[T])

// WithError attaches an error handler to a Subscribe call.
func WithError[T any](fn func(error)) SubscribeOption[T] {
	return func(s *Sink[T]) { s.Error = fn }
}

// WithComplete attaches a completion handler to a Subscribe call.
func WithComplete[T any](fn func()) SubscribeOption[T] {
	return func(s *Sink[T]) { s.Complete = fn }
}

func noopSubscription() Subscription {
	return Subscription{Unsubscribe: func() {}}
}
