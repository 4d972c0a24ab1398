// Package queue provides the bounded message queue shared between producer
// executors and a single consumer executor. The ring is lock-free (SPSC or
// MPSC), inserts are wait-free, and a full queue is ordinary back-pressure:
// blocking publishers idle through a configurable wait strategy instead of
// dropping.
package queue

import (
	"context"

	"github.com/c360/streamexec/errors"
	"github.com/c360/streamexec/wait"
)

// ProducerKind selects the ring implementation at construction time.
type ProducerKind int

const (
	// SingleProducer uses an SPSC ring. It is faster, but permitted only
	// when exactly one goroutine ever publishes; concurrent producers on a
	// SingleProducer queue corrupt the ring.
	SingleProducer ProducerKind = iota
	// MultiProducer uses an MPSC ring tolerating any number of producers.
	MultiProducer
)

// String returns a human-readable producer kind.
func (k ProducerKind) String() string {
	switch k {
	case SingleProducer:
		return "single"
	case MultiProducer:
		return "multi"
	default:
		return "unknown"
	}
}

// Consumer receives drained items. Accept is called once per item in FIFO
// order; Flush is called exactly once after a drain that delivered at least
// one item. An Accept error stops the drain and is returned to the caller.
type Consumer[T any] interface {
	Accept(item T) error
	Flush() error
}

// BoundedQueue is a fixed-capacity ring with batched insert support,
// back-pressure wait hooks, and rolling metrics. Any number of goroutines
// may publish (per the producer kind); exactly one goroutine consumes.
type BoundedQueue[T any] struct {
	name string
	ring ring[T]

	producerBatchSz int
	backPressure    wait.Strategy
	metrics         *Metrics

	haltValue    T
	hasHaltValue bool
}

// Option configures a BoundedQueue.
type Option[T any] func(*options[T])

type options[T any] struct {
	kind         ProducerKind
	batchSize    int
	backPressure wait.Strategy
	haltValue    *T
}

// WithProducerKind selects single- or multi-producer ring storage.
// Defaults to MultiProducer.
func WithProducerKind[T any](kind ProducerKind) Option[T] {
	return func(o *options[T]) {
		o.kind = kind
	}
}

// WithBatchSize sets the producer-side batch size. The effective size is
// clamped to max(1, min(batchSize, capacity/2)) to avoid contention from
// oversized fills.
func WithBatchSize[T any](batchSize int) Option[T] {
	return func(o *options[T]) {
		o.batchSize = batchSize
	}
}

// WithBackPressureWait sets the wait strategy used by blocking publishers
// when the queue is full. Defaults to the progressive strategy.
func WithBackPressureWait[T any](strategy wait.Strategy) Option[T] {
	return func(o *options[T]) {
		o.backPressure = strategy
	}
}

// WithHaltValue sets the in-band value Halt publishes so the consumer
// observes teardown. Without one, Halt only closes metrics.
func WithHaltValue[T any](value T) Option[T] {
	return func(o *options[T]) {
		o.haltValue = &value
	}
}

// NewBoundedQueue creates a queue with the given name and capacity. Capacity
// is rounded up to a power of two.
func NewBoundedQueue[T any](name string, capacity int, opts ...Option[T]) *BoundedQueue[T] {
	o := &options[T]{
		kind:      MultiProducer,
		batchSize: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.backPressure == nil {
		o.backPressure = wait.NewProgressive(wait.ProgressiveConfig{})
	}

	var r ring[T]
	if o.kind == SingleProducer {
		r = newSPSCRing[T](capacity)
	} else {
		r = newMPSCRing[T](capacity)
	}

	// The batch size can be no larger than half the queue, to keep fills
	// from starving the consumer of whole laps.
	batchSz := o.batchSize
	if half := int(r.Capacity() / 2); batchSz > half {
		batchSz = half
	}
	if batchSz < 1 {
		batchSz = 1
	}

	q := &BoundedQueue[T]{
		name:            name,
		ring:            r,
		producerBatchSz: batchSz,
		backPressure:    o.backPressure,
	}
	q.metrics = newMetrics(q)
	if o.haltValue != nil {
		q.haltValue = *o.haltValue
		q.hasHaltValue = true
	}
	return q
}

// Name returns the queue name used in metrics and logs.
func (q *BoundedQueue[T]) Name() string {
	return q.name
}

// Capacity returns the fixed ring capacity.
func (q *BoundedQueue[T]) Capacity() int64 {
	return q.ring.Capacity()
}

// Population returns an estimate of the current item count.
func (q *BoundedQueue[T]) Population() int64 {
	return q.ring.Size()
}

// ProducerBatchSize returns the clamped per-producer batch size.
func (q *BoundedQueue[T]) ProducerBatchSize() int {
	return q.producerBatchSz
}

// Metrics exposes the queue's rolling metrics.
func (q *BoundedQueue[T]) Metrics() *Metrics {
	return q.metrics
}

// TryPublish inserts one item without blocking. Returns false iff the queue
// is full; a failed insert is flow control, not an error.
func (q *BoundedQueue[T]) TryPublish(item T) bool {
	if !q.ring.Offer(item) {
		q.metrics.notifyInsertFailure()
		return false
	}
	q.metrics.notifyArrivals(1)
	return true
}

// TryPublishBatch inserts items without blocking and returns how many were
// accepted (0..len(items)). Accepted items are always a prefix.
func (q *BoundedQueue[T]) TryPublishBatch(items []T) int {
	count := 0
	for _, item := range items {
		if !q.ring.Offer(item) {
			break
		}
		count++
	}
	if count > 0 {
		q.metrics.notifyArrivals(int64(count))
	}
	return count
}

// Publish blocks until the item is inserted, idling through the
// back-pressure wait strategy between attempts. It fails only with
// ErrCancelled when ctx is done.
func (q *BoundedQueue[T]) Publish(ctx context.Context, item T) error {
	idleCount := 0
	for !q.ring.Offer(item) {
		q.metrics.notifyInsertFailure()
		idleCount = q.backPressure.Idle(idleCount)
		if ctx.Err() != nil {
			return errors.Wrap(errors.ErrCancelled, "BoundedQueue", "Publish", "blocking insert")
		}
	}
	q.metrics.notifyArrivals(1)
	return nil
}

// Consume drains up to all currently available items, invoking
// consumer.Accept per item in FIFO order, then exactly one consumer.Flush if
// at least one item was drained. Never blocks; an empty queue returns 0 and
// counts an empty batch.
func (q *BoundedQueue[T]) Consume(consumer Consumer[T]) (int, error) {
	// Bound the drain to what was present at entry so a hot producer
	// cannot pin the consumer inside one drain call.
	limit := q.ring.Size()
	count := 0
	for int64(count) < limit {
		item, ok := q.ring.Poll()
		if !ok {
			break
		}
		count++
		if err := consumer.Accept(item); err != nil {
			return count, err
		}
	}
	if count == 0 {
		q.metrics.notifyEmptyBatch()
		return 0, nil
	}
	if err := consumer.Flush(); err != nil {
		return count, err
	}
	return count, nil
}

// Halt publishes the configured interrupt value (best-effort) so the
// consumer observes shutdown, then closes the queue metrics.
func (q *BoundedQueue[T]) Halt() {
	if q.hasHaltValue {
		if q.ring.Offer(q.haltValue) {
			q.metrics.notifyArrivals(1)
		}
	}
	q.metrics.close()
}
