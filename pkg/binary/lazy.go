package binary

import (
	"sync"
	"sync/atomic"
)

// Lazy is a compute-once cell. The first Get runs fn; every later Get returns the same value.
// Concurrent first calls block until the single computation has been published.
type Lazy[T any] struct {
	once sync.Once
	done atomic.Bool
	fn   func() T
	val  T
}

// NewLazy returns a cell that computes its value with fn on first access.
func NewLazy[T any](fn func() T) *Lazy[T] {
	return &Lazy[T]{fn: fn}
}

// Get returns the memoized value, computing it if needed.
func (l *Lazy[T]) Get() T {
	l.once.Do(func() {
		l.val = l.fn()
		l.fn = nil
		l.done.Store(true)
	})
	return l.val
}

// Computed reports whether the value has been published.
func (l *Lazy[T]) Computed() bool {
	return l.done.Load()
}
