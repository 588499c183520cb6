// Package result provides the uniform success-or-typed-error return used at
// every suspension point of the engine. Exceptions (panics) and plain Go
// errors are confined to the boundary and converted via Catching/FromError;
// inside the engine a computation stays in the Result context and only Fold
// collapses it at the outermost adapter.
package result

import (
	"context"
	"fmt"
)

// Result is a sum type: either Success carrying a value, or Failure carrying
// a structured *Error. The zero value is Success with T's zero value.
type Result[T any] struct {
	value T
	err   *Error
}

// Success wraps a value.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Failure wraps an error. A nil error is normalized to an UNKNOWN_ERROR so a
// Failure can never masquerade as a Success.
func Failure[T any](err *Error) Result[T] {
	if err == nil {
		err = Unknown("failure constructed with nil error")
	}
	return Result[T]{err: err}
}

// IsSuccess reports whether the result carries a value.
func (r Result[T]) IsSuccess() bool { return r.err == nil }

// IsFailure reports whether the result carries an error.
func (r Result[T]) IsFailure() bool { return r.err != nil }

// Value returns the value and true on Success.
func (r Result[T]) Value() (T, bool) {
	if r.err != nil {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Err returns the error on Failure, nil on Success.
func (r Result[T]) Err() *Error { return r.err }

// GetOrElse returns the value, or fallback on Failure.
func (r Result[T]) GetOrElse(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

// MustGet returns the value or panics on Failure.
func (r Result[T]) MustGet() T {
	if r.err != nil {
		panic(fmt.Sprintf("result: MustGet on failure: %v", r.err))
	}
	return r.value
}

// OnSuccess invokes fn with the value and returns the receiver unchanged.
func (r Result[T]) OnSuccess(fn func(T)) Result[T] {
	if r.err == nil && fn != nil {
		fn(r.value)
	}
	return r
}

// OnFailure invokes fn with the error and returns the receiver unchanged.
func (r Result[T]) OnFailure(fn func(*Error)) Result[T] {
	if r.err != nil && fn != nil {
		fn(r.err)
	}
	return r
}

// MapError transforms the error of a Failure; a Success passes through.
func (r Result[T]) MapError(fn func(*Error) *Error) Result[T] {
	if r.err == nil || fn == nil {
		return r
	}
	return Failure[T](fn(r.err))
}

// Recover converts a Failure into a Success with a fallback value.
func (r Result[T]) Recover(fn func(*Error) T) Result[T] {
	if r.err == nil || fn == nil {
		return r
	}
	return Success(fn(r.err))
}

// RecoverWith converts a Failure into another Result.
func (r Result[T]) RecoverWith(fn func(*Error) Result[T]) Result[T] {
	if r.err == nil || fn == nil {
		return r
	}
	return fn(r.err)
}

// Map transforms the value of a Success. A Failure is returned unchanged
// (value transformation never alters the original error).
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.err != nil {
		return Result[U]{err: r.err}
	}
	return Success(fn(r.value))
}

// FlatMap chains a Result-producing function. A Failure short-circuits.
func FlatMap[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Result[U]{err: r.err}
	}
	return fn(r.value)
}

// Fold collapses the result into a single value. Side effects (logging)
// belong in OnSuccess/OnFailure, not in the fold branches.
func Fold[T, U any](r Result[T], onSuccess func(T) U, onFailure func(*Error) U) U {
	if r.err != nil {
		return onFailure(r.err)
	}
	return onSuccess(r.value)
}

// Catching runs fn and converts a returned error or panic into a Failure
// using the standard classifier.
func Catching[T any](fn func() (T, error)) (out Result[T]) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Failure[T](Unknown(fmt.Sprintf("panic: %v", rec)).
				WithContext(CtxPanicValue, fmt.Sprintf("%v", rec)))
		}
	}()
	v, err := fn()
	if err != nil {
		return Failure[T](FromError(err))
	}
	return Success(v)
}

// CatchingCtx is the context-aware variant of Catching for blocking
// operations. A context already cancelled before fn runs short-circuits to
// a CANCELLED failure.
func CatchingCtx[T any](ctx context.Context, fn func(context.Context) (T, error)) (out Result[T]) {
	if err := ctx.Err(); err != nil {
		return Failure[T](FromError(err))
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = Failure[T](Unknown(fmt.Sprintf("panic: %v", rec)).
				WithContext(CtxPanicValue, fmt.Sprintf("%v", rec)))
		}
	}()
	v, err := fn(ctx)
	if err != nil {
		return Failure[T](FromError(err))
	}
	return Success(v)
}
