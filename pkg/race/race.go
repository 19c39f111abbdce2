// Package race implements a "first settled wins" race between an operation and a timer.
package race

import (
	"context"
	"errors"
	"time"
)

var ErrTimeout = errors.New("race: timed out")

// Options control what happens to the losing operation.
type Options[T any] struct {
	// Cancel the operation's context once the timer (or the caller's context) has won.
	// Operations that cannot be cancelled keep running either way.
	CancelLate bool
	// OnLate is called with the result of an operation that settles after losing.
	// Use it to release resources, e.g. close a response body.
	OnLate func(T, error)
}

type result[T any] struct {
	value T
	err   error
}

// Within runs fn and returns its result if it settles before the timeout and before ctx is done.
// Otherwise it returns ErrTimeout (or the context error) and the eventual result of fn is
// handed to OnLate instead of being returned.
// A zero or negative timeout disables the timer.
func Within[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error), opts Options[T]) (T, error) {
	fnCtx, cancel := operationContext(ctx, opts.CancelLate)

	settled := make(chan result[T], 1)
	go func() {
		v, err := fn(fnCtx)
		settled <- result[T]{v, err}
	}()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	var lostErr error
	select {
	case r := <-settled:
		// the winner's context stays alive, e.g. while a response body is read
		return r.value, r.err
	case <-timerC:
		lostErr = ErrTimeout
	case <-ctx.Done():
		lostErr = ctx.Err()
	}

	cancel()
	go func() {
		r := <-settled
		if opts.OnLate != nil {
			opts.OnLate(r.value, r.err)
		}
	}()

	var zero T
	return zero, lostErr
}

// operationContext returns the context the raced operation runs with.
// Unless cancelLate is set, it is detached from the cancellation of ctx
// and the returned cancel func does nothing.
func operationContext(ctx context.Context, cancelLate bool) (context.Context, context.CancelFunc) {
	if cancelLate {
		return context.WithCancel(ctx)
	}
	return context.WithoutCancel(ctx), func() {}
}
