package queue

import (
	"context"

	"github.com/c360/streamexec/errors"
)

// Publisher is a producer-side handle to a BoundedQueue. Each producing
// goroutine acquires its own handle per destination queue at setup and keeps
// any batch buffer inside the handle, so no thread-local storage is needed.
//
// The handle returned for a batch size of 1 is a shared direct inserter and
// is safe for concurrent use. Batched handles are not: one handle, one
// goroutine.
type Publisher[T any] interface {
	// Publish inserts the item, blocking through the back-pressure wait
	// strategy until accepted (or staged, for batched handles). Fails only
	// with ErrCancelled.
	Publish(ctx context.Context, item T) error

	// TryPublish inserts or stages the item without blocking. Returns false
	// iff no progress was possible.
	TryPublish(item T) bool

	// Flush blocks until at least one staged element is drained (batched
	// handles) or returns immediately (direct handles).
	Flush(ctx context.Context) error

	// TryFlush is non-blocking: true if the stage is empty or at least one
	// element was drained.
	TryFlush() bool
}

// NewPublisher returns the appropriate handle for this queue's batch size:
// a shared direct inserter when batching is off, or a fresh batch buffer
// owned by the calling producer.
func (q *BoundedQueue[T]) NewPublisher() Publisher[T] {
	if q.producerBatchSz > 1 {
		return &batchPublisher[T]{
			q:     q,
			batch: make([]T, 0, q.producerBatchSz+1),
		}
	}
	return directPublisher[T]{q: q}
}

// directPublisher inserts straight into the ring. Stateless; safe to share.
type directPublisher[T any] struct {
	q *BoundedQueue[T]
}

func (d directPublisher[T]) Publish(ctx context.Context, item T) error {
	return d.q.Publish(ctx, item)
}

func (d directPublisher[T]) TryPublish(item T) bool {
	return d.q.TryPublish(item)
}

func (d directPublisher[T]) Flush(_ context.Context) error {
	return nil
}

func (d directPublisher[T]) TryFlush() bool {
	return true
}

// batchPublisher stages items in a per-producer buffer and fills the ring in
// bulk. Amortises the arrival-rate notification and the CAS traffic on the
// ring.
type batchPublisher[T any] struct {
	q     *BoundedQueue[T]
	batch []T
}

func (b *batchPublisher[T]) Publish(ctx context.Context, item T) error {
	b.batch = append(b.batch, item)
	if len(b.batch) >= b.q.producerBatchSz {
		return b.Flush(ctx)
	}
	return nil
}

func (b *batchPublisher[T]) TryPublish(item T) bool {
	if len(b.batch) >= b.q.producerBatchSz {
		if !b.TryFlush() {
			return false
		}
	}
	b.batch = append(b.batch, item)
	return true
}

// Flush retries until at least one element is drained, idling through the
// queue's back-pressure wait strategy between attempts.
func (b *batchPublisher[T]) Flush(ctx context.Context) error {
	if len(b.batch) == 0 {
		return nil
	}
	publishCount := b.q.TryPublishBatch(b.batch)
	idleCount := 0
	for publishCount == 0 {
		b.q.metrics.notifyInsertFailure()
		idleCount = b.q.backPressure.Idle(idleCount)
		if ctx.Err() != nil {
			return errors.Wrap(errors.ErrCancelled, "BoundedQueue", "Flush", "batch drain")
		}
		publishCount = b.q.TryPublishBatch(b.batch)
	}
	b.dropHead(publishCount)
	return nil
}

func (b *batchPublisher[T]) TryFlush() bool {
	if len(b.batch) == 0 {
		return true
	}
	publishCount := b.q.TryPublishBatch(b.batch)
	if publishCount == 0 {
		b.q.metrics.notifyInsertFailure()
		return false
	}
	b.dropHead(publishCount)
	return true
}

// dropHead removes the accepted prefix, keeping the buffer for reuse.
func (b *batchPublisher[T]) dropHead(n int) {
	var zero T
	remaining := copy(b.batch, b.batch[n:])
	for i := remaining; i < len(b.batch); i++ {
		b.batch[i] = zero
	}
	b.batch = b.batch[:remaining]
}
