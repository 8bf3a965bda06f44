package gstate

import (
	"context"
	"sync"
)

// Future is a value that settles exactly once, either resolved with a value or
// rejected with an error.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewFuture returns an unsettled Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Go runs fn on a new goroutine and settles the returned Future with its result.
func Go(fn func() (any, error)) *Future {
	f := NewFuture()
	go func() {
		value, err := fn()
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(value)
	}()
	return f
}

// Resolved returns a Future already resolved with value.
func Resolved(value any) *Future {
	f := NewFuture()
	f.Resolve(value)
	return f
}

// Rejected returns a Future already rejected with err.
func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve settles f with value. It reports false when f was already settled.
func (f *Future) Resolve(value any) bool {
	return f.settle(value, nil)
}

// Reject settles f with err. It reports false when f was already settled.
func (f *Future) Reject(err error) bool {
	return f.settle(nil, err)
}

func (f *Future) settle(value any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Done is closed once f settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether f has settled.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until f settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result is what a Loader hands back: either a value available now or a
// Future settling later.
type Result struct {
	value  any
	future *Future
}

// Immediate wraps a value computed synchronously.
func Immediate(value any) Result {
	return Result{value: value}
}

// Deferred wraps a value that will be available once f settles. A nil future
// is treated as Immediate(nil).
func Deferred(f *Future) Result {
	return Result{future: f}
}

// IsDeferred reports whether r carries a Future.
func (r Result) IsDeferred() bool {
	return r.future != nil
}

// Value returns the immediate value; it is nil for deferred results.
func (r Result) Value() any {
	return r.value
}

// Future returns the Future of a deferred result, or an already resolved one
// for immediate results.
func (r Result) Future() *Future {
	if r.future != nil {
		return r.future
	}
	return Resolved(r.value)
}

// Wait returns the value of r, blocking on deferred results.
func (r Result) Wait(ctx context.Context) (any, error) {
	if r.future == nil {
		return r.value, nil
	}
	return r.future.Wait(ctx)
}
