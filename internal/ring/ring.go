// SPDX-License-Identifier: MIT
/*
Package ring implements the fixed-capacity sample store that sits between the
real-time audio callback and the analysis goroutine.

The buffer keeps the most recent Cap() samples and nothing else. Writes never
block, never fail and never allocate: a write overwrites the oldest samples, and
a block longer than the buffer keeps only its trailing Cap() samples. This is a
most-recent-window store, not a queue.

Thread Safety:
  - Single writer, single reader by construction. The engine copies a
    linearized snapshot out of the buffer on the writer's goroutine, so no
    locking is needed.
*/
package ring

// Buffer is a circular store of mono float32 samples.
type Buffer struct {
	samples []float32 // Backing storage, len == capacity.
	head    int       // Next write position, always in [0, capacity).
}

// New creates a zeroed buffer holding capacity samples.
// capacity values below 1 are raised to 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{samples: make([]float32, capacity)}
}

// Cap returns the number of samples the buffer holds.
func (b *Buffer) Cap() int {
	return len(b.samples)
}

// Head returns the current write position.
func (b *Buffer) Head() int {
	return b.head
}

// Write copies block into the buffer, overwriting the oldest len(block)
// samples. The copy is split in two when the block straddles the end of the
// backing array.
// Performance Critical (Hot Path):
// - No allocations
// - At most two copy calls
func (b *Buffer) Write(block []float32) {
	capacity := len(b.samples)
	if len(block) > capacity {
		block = block[len(block)-capacity:]
	}
	n := len(block)
	if n == 0 {
		return
	}

	first := capacity - b.head
	if first > n {
		first = n
	}
	copy(b.samples[b.head:], block[:first])
	copy(b.samples, block[first:])

	b.head = (b.head + n) % capacity
}

// ReadLinearized returns the buffer contents oldest-first, i.e. [head, cap)
// followed by [0, head). The result is written into dst when dst has enough
// capacity, otherwise a new slice is allocated.
func (b *Buffer) ReadLinearized(dst []float32) []float32 {
	capacity := len(b.samples)
	if cap(dst) < capacity {
		dst = make([]float32, capacity)
	}
	dst = dst[:capacity]

	n := copy(dst, b.samples[b.head:])
	copy(dst[n:], b.samples[:b.head])
	return dst
}

// Reset zeroes the contents and rewinds the write head.
func (b *Buffer) Reset() {
	clear(b.samples)
	b.head = 0
}
