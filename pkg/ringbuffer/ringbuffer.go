// Package ringbuffer contains a bounded ring buffer.
package ringbuffer

import (
	"fmt"
	"sync"
)

// RingBuffer is a bounded FIFO shared between one or more producers
// and a single consumer.
type RingBuffer[T any] struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	buffer []T
	mask   uint64
	head   uint64
	tail   uint64
	closed bool
}

// New allocates a RingBuffer.
func New[T any](size uint64) (*RingBuffer[T], error) {
	if size == 0 || (size&(size-1)) != 0 {
		return nil, fmt.Errorf("size must be a power of two")
	}

	r := &RingBuffer[T]{
		buffer: make([]T, size),
		mask:   size - 1,
	}
	r.cond = sync.NewCond(&r.mutex)
	return r, nil
}

// Close makes Pull() return false once the buffer is empty.
func (r *RingBuffer[T]) Close() {
	r.mutex.Lock()
	r.closed = true
	r.mutex.Unlock()
	r.cond.Broadcast()
}

// Reset empties the buffer and restores Pull() behavior after a Close().
func (r *RingBuffer[T]) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.closed = false
}

// Push pushes data at the end of the buffer.
// It returns false when the buffer is full or closed.
func (r *RingBuffer[T]) Push(data T) bool {
	r.mutex.Lock()

	if r.closed || (r.tail-r.head) > r.mask {
		r.mutex.Unlock()
		return false
	}

	r.buffer[r.tail&r.mask] = data
	r.tail++
	r.mutex.Unlock()

	r.cond.Signal()
	return true
}

// Pull pulls data from the beginning of the buffer.
// It blocks until data is available or the buffer is closed.
func (r *RingBuffer[T]) Pull() (T, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for r.head == r.tail {
		if r.closed {
			var zero T
			return zero, false
		}
		r.cond.Wait()
	}

	i := r.head & r.mask
	data := r.buffer[i]
	var zero T
	r.buffer[i] = zero
	r.head++

	return data, true
}

// Len returns the number of queued items.
func (r *RingBuffer[T]) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return int(r.tail - r.head)
}
