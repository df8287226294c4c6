package security

import "slices"

// ring is a fixed-capacity circular buffer that evicts in FIFO order.
// It is not safe for concurrent use; callers hold their own lock.
type ring[T any] struct {
	entries []T
	head    int // index of the next write once full
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{entries: make([]T, 0, capacity)}
}

// push appends v. When the ring is full the oldest entry is overwritten
// and returned with evicted=true.
func (r *ring[T]) push(v T) (old T, evicted bool) {
	if len(r.entries) < cap(r.entries) {
		r.entries = append(r.entries, v)
		return old, false
	}
	old = r.entries[r.head]
	r.entries[r.head] = v
	r.head = (r.head + 1) % len(r.entries)
	return old, true
}

func (r *ring[T]) len() int { return len(r.entries) }

func (r *ring[T]) capacity() int { return cap(r.entries) }

// at returns the i-th oldest entry.
func (r *ring[T]) at(i int) T {
	if len(r.entries) < cap(r.entries) {
		return r.entries[i]
	}
	return r.entries[(r.head+i)%len(r.entries)]
}

// last returns up to limit of the most recent entries accepted by keep,
// oldest first.
func (r *ring[T]) last(limit int, keep func(T) bool) []T {
	var picked []T
	for i := r.len() - 1; i >= 0 && len(picked) < limit; i-- {
		if v := r.at(i); keep(v) {
			picked = append(picked, v)
		}
	}
	slices.Reverse(picked)
	return picked
}

func (r *ring[T]) reset() {
	clear(r.entries)
	r.entries = r.entries[:0]
	r.head = 0
}
