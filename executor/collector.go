package executor

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/streamexec/errors"
	"github.com/c360/streamexec/metric"
	"github.com/c360/streamexec/rotating"
	"github.com/c360/streamexec/tuple"
)

// defaultLatencySampleRate tracks the emit timestamp on every Nth anchored
// emit. Sampling keeps the steady path free of clock reads while still
// feeding the latency histogram.
const defaultLatencySampleRate = 20

// OutputCollector turns user emit() calls into routed tuples. It allocates
// pending-tree root ids, inserts anchored emits into the executor-owned
// pending map, and emits acker bookkeeping. One collector exists per task;
// all of them share the executor's transfer layer and emit counter.
//
// The collector holds only the handles it needs (pending map, emitted
// counter), both owned by the executor; it is mutated exclusively from the
// executor goroutine.
type OutputCollector struct {
	taskID   int
	spout    Spout
	topology *Topology
	transfer *Transfer
	logger   *slog.Logger

	pending      *rotating.Map[int64, tuple.Info]
	emittedCount *atomic.Int64

	hasAckers  bool
	debug      bool
	sampleRate int
	emitSeq    int

	executorName string
	coreMetrics  *metric.Metrics
}

func newOutputCollector(executorName string, taskID int, spout Spout, topology *Topology,
	transfer *Transfer, pending *rotating.Map[int64, tuple.Info], emittedCount *atomic.Int64,
	debug bool, logger *slog.Logger, coreMetrics *metric.Metrics) *OutputCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputCollector{
		taskID:       taskID,
		spout:        spout,
		topology:     topology,
		transfer:     transfer,
		logger:       logger,
		pending:      pending,
		emittedCount: emittedCount,
		hasAckers:    topology.HasAckers(),
		debug:        debug,
		sampleRate:   defaultLatencySampleRate,
		executorName: executorName,
		coreMetrics:  coreMetrics,
	}
}

// newRootID draws a random non-zero 64-bit tree id.
func newRootID() int64 {
	for {
		u := uuid.New()
		id := int64(binary.BigEndian.Uint64(u[:8]))
		if id != 0 {
			return id
		}
	}
}

// Emit routes the values on streamID per the stream's grouping. A non-nil
// messageID anchors the emit: it is tracked in the pending map until acked,
// failed, or timed out. Returns the chosen destination task ids.
func (c *OutputCollector) Emit(ctx context.Context, streamID string, values tuple.Values, messageID any) ([]int, error) {
	grouper, err := c.topology.GrouperFor(streamID)
	if err != nil {
		return nil, err
	}
	outTasks := grouper.ChooseTasks(c.taskID, values)
	if err := c.sendSpoutMsg(ctx, streamID, values, messageID, outTasks); err != nil {
		return nil, err
	}
	return outTasks, nil
}

// EmitDirect routes the values straight to one task, bypassing grouping.
func (c *OutputCollector) EmitDirect(ctx context.Context, taskID int, streamID string, values tuple.Values, messageID any) error {
	return c.sendSpoutMsg(ctx, streamID, values, messageID, []int{taskID})
}

func (c *OutputCollector) sendSpoutMsg(ctx context.Context, streamID string, values tuple.Values, messageID any, outTasks []int) error {
	needAck := messageID != nil && c.hasAckers

	var rootID int64
	if needAck {
		rootID = newRootID()
	}

	for _, dest := range outTasks {
		t := tuple.Tuple{
			StreamID: streamID,
			SrcTask:  c.taskID,
			Values:   values,
			RootID:   rootID,
		}
		if err := c.transfer.Transfer(ctx, dest, t); err != nil {
			return err
		}
	}

	switch {
	case needAck:
		c.emitSeq++
		var ts time.Time
		if c.emitSeq%c.sampleRate == 0 {
			ts = time.Now()
		}
		c.pending.Put(rootID, tuple.Info{
			RootID:    rootID,
			MessageID: messageID,
			TaskID:    c.taskID,
			StreamID:  streamID,
			Timestamp: ts,
		})

		// Bookkeeping to the acker: (rootId, checksum of anchor ids, taskId).
		// A fresh spout emit has a single anchor, so the checksum is the
		// root id itself.
		ackerTask := c.topology.AckerFor(rootID)
		initTuple := tuple.Tuple{
			StreamID: tuple.AckerInitStreamID,
			SrcTask:  c.taskID,
			Values:   tuple.Values{rootID, rootID, c.taskID},
		}
		if err := c.transfer.Transfer(ctx, ackerTask, initTuple); err != nil {
			return err
		}

	case messageID != nil:
		// No ackers in the topology: at-most-once best-effort mode. The
		// user's ack callback fires immediately from the emit path.
		if err := c.spout.Ack(messageID); err != nil {
			return errors.Wrap(err, "OutputCollector", "sendSpoutMsg", "immediate ack callback")
		}
	}

	c.emittedCount.Add(1)
	if c.coreMetrics != nil {
		c.coreMetrics.RecordEmitted(c.executorName, streamID)
	}
	if c.debug {
		c.logger.Debug("emitted tuple",
			"executor", c.executorName, "stream", streamID,
			"anchored", needAck, "dests", len(outTasks))
	}
	return nil
}

// Flush drains the collector's transfer layer.
func (c *OutputCollector) Flush(ctx context.Context) error {
	return c.transfer.Flush(ctx)
}

// ReportError surfaces a spout-side error into the executor's log.
func (c *OutputCollector) ReportError(err error) {
	c.logger.Error("spout reported error",
		"executor", c.executorName, "task", c.taskID, "error", err)
}

// Pending returns the number of in-flight anchored tuples. Exposed for the
// executor's throttle and for tests.
func (c *OutputCollector) Pending() int {
	return c.pending.Size()
}
