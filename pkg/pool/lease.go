package pool

import "sync/atomic"

// Lease is the exclusive right to use one pooled instance. It must be ended
// exactly once, by Release or Discard. Ending it twice panics: a second
// return would put the same instance in the pool twice and corrupt it.
type Lease[T any] struct {
	pool *Pool[T]
	item T
	done atomic.Bool
}

func (l *Lease[T]) Value() T {
	return l.item
}

// Release returns the instance to the pool.
func (l *Lease[T]) Release() {
	l.end()
	l.pool.put(l.item)
}

// Discard destroys the instance instead of returning it. The freed slot lets
// a later Acquire construct a replacement.
func (l *Lease[T]) Discard() {
	l.end()
	l.pool.discard(l.item)
}

func (l *Lease[T]) end() {
	if !l.done.CompareAndSwap(false, true) {
		panic("pool: lease ended twice")
	}
}
