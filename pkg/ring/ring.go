// Package ring provides a fixed-capacity FIFO buffer used for the rolling
// analysis windows of the video pipeline.
//
// A Buffer is not safe for concurrent use; each analyzer owns its buffers and
// only mutates them on its own tick.
package ring

// Buffer is a bounded FIFO. Pushing onto a full buffer evicts the oldest
// element.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// New creates a Buffer holding at most capacity elements. A capacity below 1
// is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the maximum number of elements.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th element, oldest first. It panics if i is out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Last returns the newest element.
func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Slice returns a copy of the buffered elements, oldest first.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.size)
	for i := range b.size {
		out[i] = b.At(i)
	}
	return out
}

// Reset empties the buffer without releasing its storage.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
