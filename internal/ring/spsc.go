// Package ring provides a bounded lock-free FIFO for exactly one producer
// goroutine and one consumer goroutine.
package ring

import "sync/atomic"

// SPSC is a fixed-capacity single-producer/single-consumer ring.
//
// TryPush may only be called from the producer and TryPop only from the
// consumer. Neither ever blocks or allocates.
type SPSC[T any] struct {
	head atomic.Uint64 // next slot to read, written by the consumer
	_    [56]byte
	tail atomic.Uint64 // next slot to write, written by the producer
	_    [56]byte

	slots []T
}

// New returns a ring holding up to capacity items. capacity must be > 0.
func New[T any](capacity int) *SPSC[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &SPSC[T]{slots: make([]T, capacity)}
}

// TryPush appends v and reports false without side effects if the ring is
// full.
func (r *SPSC[T]) TryPush(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.slots)) {
		return false
	}
	r.slots[tail%uint64(len(r.slots))] = v
	r.tail.Store(tail + 1)
	return true
}

// TryPop removes the oldest item. ok is false if the ring is empty.
func (r *SPSC[T]) TryPop() (v T, ok bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return v, false
	}
	i := head % uint64(len(r.slots))
	v = r.slots[i]
	var zero T
	r.slots[i] = zero
	r.head.Store(head + 1)
	return v, true
}

// Len is a snapshot. Seen from the consumer it never overstates what
// TryPop can return; seen from the producer it never understates the
// space in use. It is always within [0, Cap()].
func (r *SPSC[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	n := tail - head
	if n > uint64(len(r.slots)) {
		n = uint64(len(r.slots))
	}
	return int(n)
}

func (r *SPSC[T]) Cap() int { return len(r.slots) }
