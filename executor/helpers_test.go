package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/streamexec/config"
	"github.com/c360/streamexec/queue"
	"github.com/c360/streamexec/tuple"
)

const (
	testSpoutTask = 7
	testSinkTask  = 21
	testAckerTask = 42
)

// fakeWorker is an in-memory WorkerState: a task -> queue map plus a record
// of remote batches.
type fakeWorker struct {
	local  map[int]*queue.BoundedQueue[tuple.Msg]
	remote []map[int][][]byte
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{local: make(map[int]*queue.BoundedQueue[tuple.Msg])}
}

func (w *fakeWorker) addLocal(taskID int, capacity int) *queue.BoundedQueue[tuple.Msg] {
	q := queue.NewBoundedQueue[tuple.Msg]("fake-task", capacity)
	w.local[taskID] = q
	return q
}

func (w *fakeWorker) IsLocal(taskID int) bool {
	_, ok := w.local[taskID]
	return ok
}

func (w *fakeWorker) LocalQueue(taskID int) (*queue.BoundedQueue[tuple.Msg], bool) {
	q, ok := w.local[taskID]
	return q, ok
}

func (w *fakeWorker) SendRemote(batches map[int][][]byte) error {
	w.remote = append(w.remote, batches)
	return nil
}

type failure struct {
	id     any
	reason string
}

// spySpout records every lifecycle and callback interaction. emitFn, when
// set, runs on each NextTuple.
type spySpout struct {
	collector *OutputCollector

	opens       int
	activates   int
	deactivates int
	closes      int
	nextCalls   int

	acked  []any
	failed []failure

	emitFn  func(s *spySpout) error
	nextErr error
	ackErr  error
}

func (s *spySpout) Open(_ TaskContext, collector *OutputCollector) error {
	s.opens++
	s.collector = collector
	return nil
}

func (s *spySpout) Activate() error {
	s.activates++
	return nil
}

func (s *spySpout) Deactivate() error {
	s.deactivates++
	return nil
}

func (s *spySpout) NextTuple() error {
	s.nextCalls++
	if s.nextErr != nil {
		return s.nextErr
	}
	if s.emitFn != nil {
		return s.emitFn(s)
	}
	return nil
}

func (s *spySpout) Ack(messageID any) error {
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acked = append(s.acked, messageID)
	return nil
}

func (s *spySpout) Fail(messageID any, reason string) error {
	s.failed = append(s.failed, failure{id: messageID, reason: reason})
	return nil
}

func (s *spySpout) Close() error {
	s.closes++
	return nil
}

// emitAnchored emits one anchored tuple on the default stream.
func emitAnchored(s *spySpout) error {
	_, err := s.collector.Emit(context.Background(), tuple.DefaultStreamID,
		tuple.Values{"word"}, s.nextCalls)
	return err
}

type testEnv struct {
	exec         *SpoutExecutor
	spout        *spySpout
	worker       *fakeWorker
	receiveQueue *queue.BoundedQueue[tuple.Msg]
	sinkQueue    *queue.BoundedQueue[tuple.Msg]
	ackerQueue   *queue.BoundedQueue[tuple.Msg]
}

// newTestEnv builds an initialised executor with one spout task routing the
// default stream to a local sink and acker bookkeeping to a local acker.
func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	cfg := config.New()
	cfg.ProducerBatchSize = 1
	if mutate != nil {
		mutate(cfg)
	}

	worker := newFakeWorker()
	receiveQueue := worker.addLocal(testSpoutTask, 1024)
	sinkQueue := worker.addLocal(testSinkTask, 1024)
	ackerQueue := worker.addLocal(testAckerTask, 1024)

	topology := &Topology{
		Streams: map[string]Grouper{
			tuple.DefaultStreamID: NewShuffleGrouper([]int{testSinkTask}),
		},
		Ackers: []int{testAckerTask},
	}

	spout := &spySpout{emitFn: emitAnchored}
	exec, err := New("test-spout", cfg, worker, topology,
		[]int{testSpoutTask}, []Spout{spout}, receiveQueue, nil, nil, nil)
	require.NoError(t, err)

	exec.SetActive(true)
	require.NoError(t, exec.Init(context.Background()))

	return &testEnv{
		exec:         exec,
		spout:        spout,
		worker:       worker,
		receiveQueue: receiveQueue,
		sinkQueue:    sinkQueue,
		ackerQueue:   ackerQueue,
	}
}

// runIterations drives RunOnce n times, failing the test on error.
func (env *testEnv) runIterations(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, env.exec.RunOnce(context.Background()))
	}
}

// drainControl forces one receive-queue drain regardless of where the poll
// cadence currently stands.
func (env *testEnv) drainControl(t *testing.T) error {
	t.Helper()
	for i := 0; i < receivePollCadence; i++ {
		if err := env.exec.RunOnce(context.Background()); err != nil {
			return err
		}
	}
	return nil
}
