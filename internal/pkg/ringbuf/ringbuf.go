// Package ringbuf - кольцевой буфер фиксированного размера
package ringbuf

// Buffer не потокобезопасен
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// New - буфер на capacity элементов, минимум 1
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Buffer[T]{items: make([]T, capacity)}
}

// Push вытесняет самый старый элемент
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return
	}

	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
}

func (b *Buffer[T]) Len() int {
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}

	return b.items[(b.head+b.size-1)%len(b.items)], true
}

// Slice - копия, старые первыми
func (b *Buffer[T]) Slice() []T {
	out := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(b.head+i)%len(b.items)])
	}

	return out
}

func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
