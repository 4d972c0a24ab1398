package executor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/streamexec/config"
	"github.com/c360/streamexec/errors"
	"github.com/c360/streamexec/metric"
	"github.com/c360/streamexec/queue"
	"github.com/c360/streamexec/tuple"
)

// outboundQueue caches the producer handle for one local destination.
type outboundQueue struct {
	q   *queue.BoundedQueue[tuple.Msg]
	pub queue.Publisher[tuple.Msg]
}

// Transfer routes tuples from one executor to their destinations: local
// peers get the tuple published into their bounded queue (blocking, honoring
// back-pressure); remote destinations get the tuple serialized once and
// staged per task until the batch size is reached.
//
// A Transfer is owned by a single executor goroutine and is not safe for
// concurrent use.
type Transfer struct {
	worker     WorkerState
	serializer tuple.Serializer
	logger     *slog.Logger

	executorName    string
	debug           bool
	producerBatchSz int
	currBatchSz     int

	outbound  map[int]*outboundQueue
	remoteMap map[int][][]byte

	// pressureWarn throttles the back-pressure warning so a saturated
	// downstream queue cannot flood the log from the hot path.
	pressureWarn *rate.Limiter

	coreMetrics *metric.Metrics
}

// NewTransfer creates the transfer layer for one executor.
func NewTransfer(executorName string, worker WorkerState, serializer tuple.Serializer,
	cfg *config.Config, logger *slog.Logger, coreMetrics *metric.Metrics) *Transfer {
	if logger == nil {
		logger = slog.Default()
	}
	if serializer == nil {
		serializer = tuple.NewJSONSerializer()
	}
	return &Transfer{
		worker:          worker,
		serializer:      serializer,
		logger:          logger,
		executorName:    executorName,
		debug:           cfg.Debug,
		producerBatchSz: cfg.ProducerBatchSize,
		outbound:        make(map[int]*outboundQueue),
		remoteMap:       make(map[int][][]byte),
		pressureWarn:    rate.NewLimiter(rate.Every(time.Second), 1),
		coreMetrics:     coreMetrics,
	}
}

// Transfer routes one tuple to its destination task.
func (t *Transfer) Transfer(ctx context.Context, taskID int, tu tuple.Tuple) error {
	at := tuple.AddressedTuple{Dest: taskID, Tuple: tu}
	if t.debug {
		t.logger.Debug("transferring tuple",
			"executor", t.executorName, "dest", taskID, "stream", tu.StreamID)
	}

	if t.worker.IsLocal(taskID) {
		return t.transferLocal(ctx, at)
	}

	data, err := t.serializer.Serialize(tu)
	if err != nil {
		return errors.Wrap(err, "Transfer", "Transfer", "serializing remote tuple")
	}
	t.remoteMap[taskID] = append(t.remoteMap[taskID], data)
	t.currBatchSz++
	if t.currBatchSz >= t.producerBatchSz {
		return t.FlushRemotes()
	}
	return nil
}

// transferLocal publishes into the destination's bounded queue through the
// cached producer handle. Blocking publish; back-pressure propagates to the
// caller, cancellation surfaces as ErrCancelled.
func (t *Transfer) transferLocal(ctx context.Context, at tuple.AddressedTuple) error {
	out, ok := t.outbound[at.Dest]
	if !ok {
		q, found := t.worker.LocalQueue(at.Dest)
		if !found {
			return errors.WrapInvalid(
				errors.ErrInvalidData,
				"Transfer", "transferLocal", "resolving local queue")
		}
		out = &outboundQueue{q: q, pub: q.NewPublisher()}
		t.outbound[at.Dest] = out
	}

	if pop, capacity := out.q.Population(), out.q.Capacity(); pop*10 >= capacity*9 && t.pressureWarn.Allow() {
		t.logger.Warn("local queue near capacity",
			"executor", t.executorName, "queue", out.q.Name(),
			"population", pop, "capacity", capacity)
	}

	if err := out.pub.Publish(ctx, tuple.TupleMsg{AddressedTuple: at}); err != nil {
		return err
	}
	if t.coreMetrics != nil {
		t.coreMetrics.LocalTuplesSent.WithLabelValues(t.executorName).Inc()
	}
	return nil
}

// FlushLocal flushes the producer handle of every cached local destination.
func (t *Transfer) FlushLocal(ctx context.Context) error {
	for _, out := range t.outbound {
		if err := out.pub.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// FlushRemotes hands the staged remote batches to the worker's remote
// sender and resets the staging map.
func (t *Transfer) FlushRemotes() error {
	if len(t.remoteMap) == 0 {
		return nil
	}

	var tuples int
	for _, batch := range t.remoteMap {
		tuples += len(batch)
	}

	if err := t.worker.SendRemote(t.remoteMap); err != nil {
		return errors.Wrap(err, "Transfer", "FlushRemotes", "sending remote batches")
	}
	if t.coreMetrics != nil {
		t.coreMetrics.RemoteBatchesFlushed.WithLabelValues(t.executorName).Inc()
		t.coreMetrics.RemoteTuplesSent.WithLabelValues(t.executorName).Add(float64(tuples))
	}

	// The sender owns the old map now; start a fresh one.
	t.remoteMap = make(map[int][][]byte)
	t.currBatchSz = 0
	return nil
}

// Flush drains both the local producer handles and the remote staging map.
// Called on SYSTEM_FLUSH, before the executor parks, and at shutdown.
func (t *Transfer) Flush(ctx context.Context) error {
	if err := t.FlushLocal(ctx); err != nil {
		return err
	}
	return t.FlushRemotes()
}
