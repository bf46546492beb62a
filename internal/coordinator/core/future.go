package core

import (
	"context"
	"sync"
)

// Future holds a chunk result that is resolved exactly once.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future. It reports false if the future was already
// resolved, in which case value and err are discarded.
func (f *Future[T]) Resolve(value T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		resolved = true
	})
	return resolved
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
