package async

import (
	"context"
	"time"
)

// Future holds the eventual result of an asynchronous call.
type Future[U any] struct {
	result U
	err    error
	done   chan struct{}
}

// Async executes fn(ctx, param) in a new goroutine. A context that is already
// canceled short-circuits without calling fn.
func Async[T, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := &Future[U]{done: make(chan struct{})}

	go func() {
		defer close(f.done)
		if err := ctx.Err(); err != nil {
			f.err = err
			return
		}
		f.result, f.err = fn(ctx, param)
	}()

	return f
}

// Await blocks until the call completes.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitWithTimeout blocks until the call completes or timeout elapses, in
// which case ErrTimeout is returned and the goroutine keeps running.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	if f.IsComplete() {
		return f.result, f.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.result, f.err
	case <-timer.C:
		var zero U
		return zero, ErrTimeout
	}
}

// IsComplete reports whether the call has finished without blocking.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Outcome pairs a future's value with its error.
type Outcome[U any] struct {
	Value U
	Err   error
}

// WaitAllWithTimeout waits for every future sharing one deadline. Futures
// still running at the deadline report ErrTimeout.
func WaitAllWithTimeout[U any](timeout time.Duration, futures ...*Future[U]) []Outcome[U] {
	deadline := time.Now().Add(timeout)
	out := make([]Outcome[U], len(futures))
	for i, f := range futures {
		v, err := f.AwaitWithTimeout(max(time.Until(deadline), 0))
		out[i] = Outcome[U]{Value: v, Err: err}
	}
	return out
}
