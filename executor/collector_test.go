package executor

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamexec/config"
	"github.com/c360/streamexec/queue"
	"github.com/c360/streamexec/rotating"
	"github.com/c360/streamexec/tuple"
)

type collectorEnv struct {
	collector *OutputCollector
	spout     *spySpout
	pending   *rotating.Map[int64, tuple.Info]
	emitted   atomic.Int64
	worker    *fakeWorker
	sinkQueue *queue.BoundedQueue[tuple.Msg]
	ackQueue  *queue.BoundedQueue[tuple.Msg]
}

func newCollectorEnv(t *testing.T, withAckers bool) *collectorEnv {
	t.Helper()

	cfg := config.New()
	worker := newFakeWorker()
	sinkQueue := worker.addLocal(testSinkTask, 64)
	ackQueue := worker.addLocal(testAckerTask, 64)

	var ackers []int
	if withAckers {
		ackers = []int{testAckerTask}
	}
	topology := &Topology{
		Streams: map[string]Grouper{
			tuple.DefaultStreamID: NewShuffleGrouper([]int{testSinkTask}),
		},
		Ackers: ackers,
	}

	env := &collectorEnv{
		spout:     &spySpout{},
		pending:   rotating.NewMap[int64, tuple.Info](config.PendingBuckets, nil),
		worker:    worker,
		sinkQueue: sinkQueue,
		ackQueue:  ackQueue,
	}
	transfer := NewTransfer("col-test", worker, nil, cfg, nil, nil)
	env.collector = newOutputCollector("col-test", testSpoutTask, env.spout, topology,
		transfer, env.pending, &env.emitted, false, nil, nil)
	return env
}

func drainTuples(t *testing.T, q *queue.BoundedQueue[tuple.Msg]) []tuple.AddressedTuple {
	t.Helper()
	var out []tuple.AddressedTuple
	c := &funcConsumer{fn: func(msg tuple.Msg) error {
		if tm, ok := msg.(tuple.TupleMsg); ok {
			out = append(out, tm.AddressedTuple)
		}
		return nil
	}}
	_, err := q.Consume(c)
	require.NoError(t, err)
	return out
}

type funcConsumer struct {
	fn func(tuple.Msg) error
}

func (c *funcConsumer) Accept(msg tuple.Msg) error { return c.fn(msg) }
func (c *funcConsumer) Flush() error               { return nil }

func TestEmitUnanchoredSkipsPending(t *testing.T) {
	env := newCollectorEnv(t, true)

	tasks, err := env.collector.Emit(context.Background(), tuple.DefaultStreamID,
		tuple.Values{"hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{testSinkTask}, tasks)

	assert.Equal(t, 0, env.pending.Size(), "messageID nil never inserts into pending")
	assert.Equal(t, int64(1), env.emitted.Load())

	delivered := drainTuples(t, env.sinkQueue)
	require.Len(t, delivered, 1)
	assert.Zero(t, delivered[0].Tuple.RootID, "unanchored tuples carry no root id")
	assert.Empty(t, drainTuples(t, env.ackQueue), "no acker bookkeeping without an anchor")
}

func TestEmitAnchoredTracksPendingAndNotifiesAcker(t *testing.T) {
	env := newCollectorEnv(t, true)

	_, err := env.collector.Emit(context.Background(), tuple.DefaultStreamID,
		tuple.Values{"hello"}, "msg-1")
	require.NoError(t, err)

	require.Equal(t, 1, env.pending.Size())

	delivered := drainTuples(t, env.sinkQueue)
	require.Len(t, delivered, 1)
	rootID := delivered[0].Tuple.RootID
	assert.NotZero(t, rootID)

	info, ok := env.pending.Get(rootID)
	require.True(t, ok)
	assert.Equal(t, "msg-1", info.MessageID)
	assert.Equal(t, testSpoutTask, info.TaskID)
	assert.Equal(t, tuple.DefaultStreamID, info.StreamID)

	bookkeeping := drainTuples(t, env.ackQueue)
	require.Len(t, bookkeeping, 1)
	assert.Equal(t, tuple.AckerInitStreamID, bookkeeping[0].Tuple.StreamID)
	assert.Equal(t, rootID, bookkeeping[0].Tuple.Values[0])
	assert.Equal(t, testSpoutTask, bookkeeping[0].Tuple.Values[2])
}

func TestEmitWithoutAckersAcksImmediately(t *testing.T) {
	env := newCollectorEnv(t, false)

	_, err := env.collector.Emit(context.Background(), tuple.DefaultStreamID,
		tuple.Values{"hello"}, "msg-1")
	require.NoError(t, err)

	assert.Equal(t, 0, env.pending.Size())
	assert.Equal(t, []any{"msg-1"}, env.spout.acked,
		"no ackers: the user ack fires from the emit path")

	delivered := drainTuples(t, env.sinkQueue)
	require.Len(t, delivered, 1)
	assert.Zero(t, delivered[0].Tuple.RootID)
}

func TestEmitDirectBypassesGrouping(t *testing.T) {
	env := newCollectorEnv(t, true)

	err := env.collector.EmitDirect(context.Background(), testSinkTask,
		tuple.DefaultStreamID, tuple.Values{"direct"}, nil)
	require.NoError(t, err)

	delivered := drainTuples(t, env.sinkQueue)
	require.Len(t, delivered, 1)
	assert.Equal(t, testSinkTask, delivered[0].Dest)
}

func TestEmitUnknownStreamFails(t *testing.T) {
	env := newCollectorEnv(t, true)

	_, err := env.collector.Emit(context.Background(), "nope", tuple.Values{1}, nil)
	require.Error(t, err)
}

func TestRootIDsAreUnique(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id := newRootID()
		require.NotZero(t, id)
		require.False(t, seen[id], "duplicate root id")
		seen[id] = true
	}
}
