// Package xerrors implements the project's three-tag error taxonomy:
// GraphQLError, ExchangeError, and AggregatedError. Each satisfies the
// error interface and Unwrap() where it wraps a cause, so errors.Is and
// errors.As work across the whole set.
package xerrors

import (
	"fmt"
	"strings"
)

// Location is a single entry of a GraphQLError's locations array.
type Location struct {
	Line   int
	Column int
}

// GraphQLError is a single entry from a server response's errors array. It
// is never thrown by the core; it always arrives via
// OperationResult.Errors.
type GraphQLError struct {
	Message    string
	Path       []interface{}
	Locations  []Location
	Extensions map[string]interface{}
}

func (e *GraphQLError) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (path: %s)", e.Message, formatPath(e.Path))
}

func formatPath(path []interface{}) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ".")
}

// ExchangeError is a per-exchange failure, tagged with the name of the
// exchange that produced it. It is the only error variant the core itself
// throws (transport failures, scalar codec and cache failures, @required
// violations, the terminal exchange's sentinel failure).
type ExchangeError struct {
	ExchangeName string
	Msg          string
	Extensions   map[string]interface{}
	Cause        error
}

func (e *ExchangeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ExchangeName, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.ExchangeName, e.Msg)
}

func (e *ExchangeError) Unwrap() error { return e.Cause }

// NewExchangeError builds an ExchangeError, optionally wrapping cause.
func NewExchangeError(exchangeName, msg string, cause error, extensions map[string]interface{}) *ExchangeError {
	return &ExchangeError{ExchangeName: exchangeName, Msg: msg, Cause: cause, Extensions: extensions}
}

// StatusCode extracts the "statusCode" extension the http exchange attaches
// to transport failures, returning ok=false if this isn't an http
// ExchangeError carrying one.
func (e *ExchangeError) StatusCode() (code int, ok bool) {
	if e == nil || e.ExchangeName != "http" {
		return 0, false
	}
	v, present := e.Extensions["statusCode"]
	if !present {
		return 0, false
	}
	code, ok = v.(int)
	return code, ok
}

// AggregatedError bundles one or more GraphQLError/ExchangeError values so
// that the query()/mutation() promise-style helpers can hand the caller a
// single throwable.
type AggregatedError struct {
	Errors []error
}

// NewAggregatedError builds an AggregatedError from a non-empty error
// slice. Panics if errs is empty, since an AggregatedError that bundles
// nothing is a programming error at the call site (query()/mutation() must
// only construct one when result.Errors is non-empty).
func NewAggregatedError(errs []error) *AggregatedError {
	if len(errs) == 0 {
		panic("xerrors: NewAggregatedError requires at least one error")
	}
	return &AggregatedError{Errors: errs}
}

func (e *AggregatedError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes the bundled errors to errors.Is/errors.As via Go's
// multi-error Unwrap() []error convention.
func (e *AggregatedError) Unwrap() []error { return e.Errors }

// IsGraphQLError reports whether err is (or wraps) a *GraphQLError.
func IsGraphQLError(err error) bool {
	_, ok := asType[*GraphQLError](err)
	return ok
}

// IsExchangeError reports whether err is (or wraps) an *ExchangeError, and
// returns it for inspection.
func IsExchangeError(err error) (*ExchangeError, bool) {
	return asType[*ExchangeError](err)
}

// IsAggregatedError reports whether err is (or wraps) an *AggregatedError,
// and returns it for inspection.
func IsAggregatedError(err error) (*AggregatedError, bool) {
	return asType[*AggregatedError](err)
}

func asType[T error](err error) (T, bool) {
	var zero T
	for err != nil {
		if t, ok := err.(T); ok {
			return t, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return zero, false
}
