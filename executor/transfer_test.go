package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamexec/config"
	"github.com/c360/streamexec/queue"
	"github.com/c360/streamexec/tuple"
)

func TestTransferRoutesLocal(t *testing.T) {
	cfg := config.New()
	worker := newFakeWorker()
	sink := worker.addLocal(testSinkTask, 64)

	tr := NewTransfer("tr-test", worker, nil, cfg, nil, nil)
	err := tr.Transfer(context.Background(), testSinkTask,
		tuple.NewTuple(tuple.DefaultStreamID, testSpoutTask, tuple.Values{"x"}))
	require.NoError(t, err)

	delivered := drainTuples(t, sink)
	require.Len(t, delivered, 1)
	assert.Equal(t, testSinkTask, delivered[0].Dest)
	assert.Empty(t, worker.remote, "local tuples never reach the remote sink")
}

func TestTransferBatchesRemoteUntilBatchSize(t *testing.T) {
	cfg := config.New()
	cfg.ProducerBatchSize = 3
	worker := newFakeWorker()

	tr := NewTransfer("tr-test", worker, nil, cfg, nil, nil)
	ctx := context.Background()
	remoteTask := 99

	for i := 0; i < 2; i++ {
		require.NoError(t, tr.Transfer(ctx, remoteTask,
			tuple.NewTuple(tuple.DefaultStreamID, testSpoutTask, tuple.Values{i})))
	}
	assert.Empty(t, worker.remote, "staged until the batch size is reached")

	require.NoError(t, tr.Transfer(ctx, remoteTask,
		tuple.NewTuple(tuple.DefaultStreamID, testSpoutTask, tuple.Values{2})))
	require.Len(t, worker.remote, 1, "batch flushes at producer batch size")
	assert.Len(t, worker.remote[0][remoteTask], 3)
}

func TestTransferSerializesOncePerRemoteTuple(t *testing.T) {
	cfg := config.New()
	cfg.ProducerBatchSize = 1
	worker := newFakeWorker()

	tr := NewTransfer("tr-test", worker, tuple.NewJSONSerializer(), cfg, nil, nil)
	require.NoError(t, tr.Transfer(context.Background(), 99,
		tuple.NewTuple("s1", testSpoutTask, tuple.Values{"payload"})))

	require.Len(t, worker.remote, 1)
	payloads := worker.remote[0][99]
	require.Len(t, payloads, 1)

	decoded, err := tuple.NewJSONSerializer().Deserialize(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, "s1", decoded.StreamID)
}

func TestFlushDrainsLocalAndRemote(t *testing.T) {
	cfg := config.New()
	cfg.ProducerBatchSize = 4
	worker := newFakeWorker()
	// The local batch size belongs to the destination queue, as the engine
	// builds its receive queues.
	sink := queue.NewBoundedQueue[tuple.Msg]("fake-task", 64,
		queue.WithBatchSize[tuple.Msg](cfg.ProducerBatchSize))
	worker.local[testSinkTask] = sink

	tr := NewTransfer("tr-test", worker, nil, cfg, nil, nil)
	ctx := context.Background()

	// One local (staged in the batch publisher) and one remote (staged in
	// the remote map), neither at its flush threshold yet.
	require.NoError(t, tr.Transfer(ctx, testSinkTask,
		tuple.NewTuple(tuple.DefaultStreamID, testSpoutTask, tuple.Values{"local"})))
	require.NoError(t, tr.Transfer(ctx, 99,
		tuple.NewTuple(tuple.DefaultStreamID, testSpoutTask, tuple.Values{"remote"})))

	assert.Equal(t, int64(0), sink.Population(), "local tuple staged in the handle")
	assert.Empty(t, worker.remote)

	require.NoError(t, tr.Flush(ctx))

	assert.Equal(t, int64(1), sink.Population())
	require.Len(t, worker.remote, 1)
	assert.Len(t, worker.remote[0][99], 1)

	// Flushing again with nothing staged is a no-op.
	require.NoError(t, tr.Flush(ctx))
	assert.Len(t, worker.remote, 1)
}

func TestTransferNonLocalTaskGoesRemote(t *testing.T) {
	cfg := config.New()
	worker := newFakeWorker()
	worker.addLocal(testSinkTask, 64)

	tr := NewTransfer("tr-test", worker, nil, cfg, nil, nil)
	require.NoError(t, tr.Transfer(context.Background(), 12345,
		tuple.NewTuple(tuple.DefaultStreamID, testSpoutTask, tuple.Values{"x"})))
	require.Len(t, worker.remote, 1, "a task with no local queue routes remote")
}
