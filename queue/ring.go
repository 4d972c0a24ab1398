package queue

import (
	"sync/atomic"
)

// ring is the storage contract shared by the single- and multi-producer
// implementations. Offer is wait-free; Poll must only ever be called from
// one goroutine.
type ring[T any] interface {
	Offer(item T) bool
	Poll() (T, bool)
	Size() int64
	Capacity() int64
}

// cell pairs a payload slot with a sequence number. The sequence both
// publishes the payload to the consumer (release store) and recycles the
// slot for the next lap.
type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// nextPow2 rounds capacity up to a power of two so the index mask replaces a
// modulus on the hot path.
func nextPow2(n int) uint64 {
	if n < 2 {
		n = 2
	}
	v := uint64(n - 1)
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

func newCells[T any](capacity uint64) []cell[T] {
	cells := make([]cell[T], capacity)
	for i := range cells {
		cells[i].seq.Store(uint64(i))
	}
	return cells
}

// mpscRing is a bounded multi-producer / single-consumer queue using
// per-slot sequence numbers. Producers claim a slot with a CAS on tail and
// publish it with a release store of the sequence; the consumer needs no
// CAS.
type mpscRing[T any] struct {
	_     [64]byte
	head  atomic.Uint64 // consumer cursor
	_     [64]byte
	tail  atomic.Uint64 // producer cursor
	_     [64]byte
	mask  uint64
	cells []cell[T]
}

func newMPSCRing[T any](capacity int) *mpscRing[T] {
	size := nextPow2(capacity)
	return &mpscRing[T]{
		mask:  size - 1,
		cells: newCells[T](size),
	}
}

// Offer attempts to enqueue without blocking. Returns false iff full.
func (r *mpscRing[T]) Offer(item T) bool {
	pos := r.tail.Load()
	for {
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				c.val = item
				c.seq.Store(pos + 1)
				return true
			}
			pos = r.tail.Load()
		case diff < 0:
			// Slot still owned by a lagging consumer lap: full.
			return false
		default:
			pos = r.tail.Load()
		}
	}
}

// Poll dequeues one item. Single consumer only.
func (r *mpscRing[T]) Poll() (T, bool) {
	var zero T
	pos := r.head.Load()
	c := &r.cells[pos&r.mask]
	seq := c.seq.Load()
	if int64(seq)-int64(pos+1) != 0 {
		return zero, false
	}
	item := c.val
	c.val = zero
	c.seq.Store(pos + r.mask + 1)
	r.head.Store(pos + 1)
	return item, true
}

// Size returns an estimate of the population. Exact only when quiescent.
func (r *mpscRing[T]) Size() int64 {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	return int64(tail - head)
}

func (r *mpscRing[T]) Capacity() int64 {
	return int64(r.mask + 1)
}

// spscRing is the single-producer variant: the tail needs no CAS, which
// removes the producer-side contention loop. Behaviour with more than one
// concurrent producer is undefined; the owning BoundedQueue documents that
// contract but does not detect a violation.
type spscRing[T any] struct {
	_     [64]byte
	head  atomic.Uint64
	_     [64]byte
	tail  atomic.Uint64
	_     [64]byte
	mask  uint64
	cells []cell[T]
}

func newSPSCRing[T any](capacity int) *spscRing[T] {
	size := nextPow2(capacity)
	return &spscRing[T]{
		mask:  size - 1,
		cells: newCells[T](size),
	}
}

// Offer attempts to enqueue without blocking. Single producer only.
func (r *spscRing[T]) Offer(item T) bool {
	pos := r.tail.Load()
	c := &r.cells[pos&r.mask]
	if c.seq.Load() != pos {
		return false
	}
	c.val = item
	c.seq.Store(pos + 1)
	r.tail.Store(pos + 1)
	return true
}

// Poll dequeues one item. Single consumer only.
func (r *spscRing[T]) Poll() (T, bool) {
	var zero T
	pos := r.head.Load()
	c := &r.cells[pos&r.mask]
	if c.seq.Load() != pos+1 {
		return zero, false
	}
	item := c.val
	c.val = zero
	c.seq.Store(pos + r.mask + 1)
	r.head.Store(pos + 1)
	return item, true
}

func (r *spscRing[T]) Size() int64 {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	return int64(tail - head)
}

func (r *spscRing[T]) Capacity() int64 {
	return int64(r.mask + 1)
}
