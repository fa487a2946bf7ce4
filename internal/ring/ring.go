// Package ring implements a fixed-capacity buffer keeping the most recent
// items. When full, adding evicts the oldest item.
package ring

import "sync"

// Buffer is safe for one producer and any number of readers. Readers only
// see copies.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int // index of the oldest item
	n     int
}

// New returns an empty buffer. A capacity below 1 is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

func (b *Buffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n < len(b.items) {
		b.items[(b.start+b.n)%len(b.items)] = item
		b.n++
		return
	}
	b.items[b.start] = item
	b.start = (b.start + 1) % len(b.items)
}

// Export returns the buffered items oldest first. The returned slice is
// never shared with the buffer.
func (b *Buffer[T]) Export() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.n)
	for i := 0; i < b.n; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Latest returns the most recently added item.
func (b *Buffer[T]) Latest() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var zero T
	if b.n == 0 {
		return zero, false
	}
	return b.items[(b.start+b.n-1)%len(b.items)], true
}

func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}
