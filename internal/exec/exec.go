// Package exec provides the shared execution bridge: one process-wide
// bounded worker pool with two calling conventions over the same core. Run
// blocks the caller until the closure completes; Submit returns a Future the
// caller awaits cooperatively. Both paths execute the identical closure, so
// behavior never depends on which convention the caller picked.
package exec

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Future is the handle for a submitted operation. It completes exactly once.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Await blocks until the operation completes or ctx is done. A context error
// abandons only the wait: the underlying operation keeps running with its
// own context and still performs its cleanup obligations.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the operation has completed, for use in
// caller select loops.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Runtime is a bounded pool of execution slots. The zero value is not usable;
// use NewRuntime or the package-level default.
type Runtime struct {
	slots *semaphore.Weighted
}

// NewRuntime builds a runtime with the given number of concurrent slots.
// Non-positive sizes fall back to GOMAXPROCS.
func NewRuntime(size int) *Runtime {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Runtime{slots: semaphore.NewWeighted(int64(size))}
}

var (
	defaultOnce sync.Once
	defaultRT   *Runtime
)

// Default returns the process-wide runtime, built lazily on first use.
func Default() *Runtime {
	defaultOnce.Do(func() {
		defaultRT = NewRuntime(0)
	})
	return defaultRT
}

// SubmitOn schedules fn on rt and returns its Future. Slot acquisition
// happens inside the spawned goroutine, so Submit itself never blocks; ctx
// cancellation before a slot frees resolves the future with ctx.Err().
func SubmitOn[T any](ctx context.Context, rt *Runtime, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		if err := rt.slots.Acquire(ctx, 1); err != nil {
			f.err = err
			return
		}
		defer rt.slots.Release(1)
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Submit schedules fn on the default runtime.
func Submit[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	return SubmitOn(ctx, Default(), fn)
}

// Run executes fn on the default runtime and blocks until it completes.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	return Submit(ctx, fn).Await(ctx)
}
