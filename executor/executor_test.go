package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamexec/config"
	cerrors "github.com/c360/streamexec/errors"
	"github.com/c360/streamexec/tuple"
)

func TestActivationTransition(t *testing.T) {
	env := newTestEnv(t, nil)

	env.runIterations(t, 1)
	assert.Equal(t, 1, env.spout.activates, "activate fires on the first active iteration")

	env.runIterations(t, 3)
	assert.Equal(t, 1, env.spout.activates, "activate does not repeat while active")

	env.exec.SetActive(false)
	env.runIterations(t, 1)
	assert.Equal(t, 1, env.spout.deactivates, "deactivate fires once on the transition")

	env.runIterations(t, 1)
	assert.Equal(t, 1, env.spout.deactivates)

	env.exec.SetActive(true)
	env.runIterations(t, 1)
	assert.Equal(t, 2, env.spout.activates, "re-activation calls activate again")
}

func TestInactiveSkipsNextTuple(t *testing.T) {
	env := newTestEnv(t, nil)
	env.exec.SetActive(false)

	env.runIterations(t, 2)
	assert.Zero(t, env.spout.nextCalls)
}

func TestMaxSpoutPendingThrottle(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.MaxSpoutPending = 2
	})

	// Two anchored emits fill the pending window.
	env.runIterations(t, 2)
	require.Equal(t, 2, env.spout.nextCalls)
	require.Equal(t, 2, env.exec.PendingSize())

	// Further iterations must not call nextTuple while the window is full.
	env.runIterations(t, 2*receivePollCadence)
	assert.Equal(t, 2, env.spout.nextCalls, "nextTuple throttled at max pending")
	assert.Equal(t, 2, env.exec.PendingSize())

	// One ack frees one slot; the next full cadence cycle resumes emitting.
	rootID := anchoredRoot(t, env, 0)
	require.NoError(t, env.receiveQueue.Publish(context.Background(), tuple.AckMsg{
		RootID:      rootID,
		TimeDeltaMs: -1,
		TaskID:      testSpoutTask,
	}))
	require.NoError(t, env.drainControl(t))

	assert.Greater(t, env.spout.nextCalls, 2, "nextTuple resumes after an ack")
	assert.Len(t, env.spout.acked, 1)
}

// anchoredRoot digs the nth acker-init bookkeeping tuple out of the acker
// queue to learn the root id the collector assigned.
func anchoredRoot(t *testing.T, env *testEnv, n int) int64 {
	t.Helper()
	roots := collectAckerRoots(t, env)
	require.Greater(t, len(roots), n, "expected at least %d anchored emits", n+1)
	return roots[n]
}

type rootCollector struct {
	roots []int64
}

func (rc *rootCollector) Accept(msg tuple.Msg) error {
	if tm, ok := msg.(tuple.TupleMsg); ok && tm.Tuple.StreamID == tuple.AckerInitStreamID {
		rc.roots = append(rc.roots, tm.Tuple.Values[0].(int64))
	}
	return nil
}

func (rc *rootCollector) Flush() error { return nil }

func collectAckerRoots(t *testing.T, env *testEnv) []int64 {
	t.Helper()
	rc := &rootCollector{}
	_, err := env.ackerQueue.Consume(rc)
	require.NoError(t, err)
	return rc.roots
}

func TestAckDispatchesToSpout(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runIterations(t, 1)
	env.spout.emitFn = nil
	require.Equal(t, 1, env.exec.PendingSize())

	rootID := anchoredRoot(t, env, 0)
	require.NoError(t, env.receiveQueue.Publish(context.Background(), tuple.AckMsg{
		RootID:      rootID,
		TimeDeltaMs: 5,
		TaskID:      testSpoutTask,
	}))
	require.NoError(t, env.drainControl(t))

	assert.Len(t, env.spout.acked, 1, "ack invoked exactly once")
	assert.Equal(t, 0, env.exec.PendingSize())

	// A duplicate ack for the same root is ignored.
	require.NoError(t, env.receiveQueue.Publish(context.Background(), tuple.AckMsg{
		RootID: rootID, TimeDeltaMs: 5, TaskID: testSpoutTask,
	}))
	require.NoError(t, env.drainControl(t))
	assert.Len(t, env.spout.acked, 1)
}

func TestFailDispatchesWithFailStreamReason(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runIterations(t, 1)
	env.spout.emitFn = nil

	rootID := anchoredRoot(t, env, 0)
	require.NoError(t, env.receiveQueue.Publish(context.Background(), tuple.FailMsg{
		RootID:      rootID,
		TimeDeltaMs: -1,
		TaskID:      testSpoutTask,
	}))
	require.NoError(t, env.drainControl(t))

	require.Len(t, env.spout.failed, 1)
	assert.Equal(t, "FAIL-STREAM", env.spout.failed[0].reason)
	assert.Equal(t, 0, env.exec.PendingSize())
}

func TestAckTaskIDMismatchIsFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runIterations(t, 1)
	env.spout.emitFn = nil

	rootID := anchoredRoot(t, env, 0)
	require.NoError(t, env.receiveQueue.Publish(context.Background(), tuple.AckMsg{
		RootID:      rootID,
		TimeDeltaMs: -1,
		TaskID:      testSpoutTask + 1,
	}))

	err := env.drainControl(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cerrors.ErrTaskIDMismatch))
	assert.True(t, cerrors.IsFatal(err))
	assert.Empty(t, env.spout.acked, "no user callback on an invariant violation")
}

func TestTimeoutFailsOnceAfterFullWheel(t *testing.T) {
	env := newTestEnv(t, nil)

	// One anchored emit, then stop emitting.
	env.runIterations(t, 1)
	env.spout.emitFn = nil
	require.Equal(t, 1, env.exec.PendingSize())

	// Two ticks expire the whole wheel.
	ctx := context.Background()
	require.NoError(t, env.receiveQueue.Publish(ctx, tuple.TickMsg{}))
	require.NoError(t, env.receiveQueue.Publish(ctx, tuple.TickMsg{}))
	require.NoError(t, env.drainControl(t))

	require.Len(t, env.spout.failed, 1, "exactly one fail on timeout")
	assert.Equal(t, "TIMEOUT", env.spout.failed[0].reason)
	assert.Equal(t, 0, env.exec.PendingSize())

	// Further ticks produce no further callbacks.
	require.NoError(t, env.receiveQueue.Publish(ctx, tuple.TickMsg{}))
	require.NoError(t, env.drainControl(t))
	assert.Len(t, env.spout.failed, 1)
}

func TestResetTimeoutRefreshesWheelPosition(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runIterations(t, 1)
	env.spout.emitFn = nil
	rootID := anchoredRoot(t, env, 0)

	ctx := context.Background()

	// One tick moves the entry into the older bucket.
	require.NoError(t, env.receiveQueue.Publish(ctx, tuple.TickMsg{}))
	require.NoError(t, env.drainControl(t))
	require.Empty(t, env.spout.failed)

	// Reset refreshes it back into the head bucket.
	require.NoError(t, env.receiveQueue.Publish(ctx, tuple.ResetTimeoutMsg{RootID: rootID}))
	require.NoError(t, env.drainControl(t))

	// The tick that would have expired the original entry no longer does.
	require.NoError(t, env.receiveQueue.Publish(ctx, tuple.TickMsg{}))
	require.NoError(t, env.drainControl(t))
	assert.Empty(t, env.spout.failed)
	assert.Equal(t, 1, env.exec.PendingSize())

	// A full window after the reset it expires normally.
	require.NoError(t, env.receiveQueue.Publish(ctx, tuple.TickMsg{}))
	require.NoError(t, env.drainControl(t))
	require.Len(t, env.spout.failed, 1)
	assert.Equal(t, "TIMEOUT", env.spout.failed[0].reason)
}

func TestEmptyEmitStreakResetsOnEmit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.spout.emitFn = nil

	env.runIterations(t, 3)
	assert.Equal(t, int64(3), env.exec.EmptyEmitStreak())

	env.spout.emitFn = emitAnchored
	env.runIterations(t, 1)
	assert.Zero(t, env.exec.EmptyEmitStreak(), "streak resets after any emit")
}

func TestUnanchoredEmitNeverPends(t *testing.T) {
	env := newTestEnv(t, nil)
	env.spout.emitFn = func(s *spySpout) error {
		_, err := s.collector.Emit(context.Background(), tuple.DefaultStreamID,
			tuple.Values{"w"}, nil)
		return err
	}

	env.runIterations(t, 5)
	assert.Equal(t, 0, env.exec.PendingSize())
	assert.Empty(t, env.spout.acked)
	assert.Empty(t, env.spout.failed)
	assert.Equal(t, int64(5), env.exec.EmittedCount())
}

func TestNextTupleErrorPropagates(t *testing.T) {
	env := newTestEnv(t, nil)
	env.spout.nextErr = errors.New("spout exploded")

	err := env.exec.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user nextTuple callback")
}

func TestCredentialsRedelivery(t *testing.T) {
	env := newTestEnv(t, nil)

	creds := map[string]string{"token": "s3cret"}
	require.NoError(t, env.receiveQueue.Publish(context.Background(), tuple.CredentialsMsg{Credentials: creds}))
	require.NoError(t, env.drainControl(t))
	// spySpout does not implement CredentialsListener; delivery is a no-op
	// but must not disturb the loop.
	assert.True(t, env.exec.Active())
}

func TestInterruptStopsRunLoop(t *testing.T) {
	env := newTestEnv(t, nil)
	env.spout.emitFn = nil

	require.NoError(t, env.receiveQueue.Publish(context.Background(), tuple.InterruptMsg{}))

	done := make(chan error, 1)
	go func() {
		done <- env.exec.RunLoop(context.Background())
	}()

	select {
	case err := <-done:
		require.NoError(t, err, "interrupt shuts down cleanly")
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not stop on interrupt")
	}
	assert.Equal(t, 1, env.spout.closes, "spouts closed at shutdown")
}

func TestRunLoopCancellation(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.exec.RunLoop(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "cancellation is an orderly shutdown, not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not stop on cancellation")
	}
}

func TestMaxPendingScalesByTaskCount(t *testing.T) {
	cfg := config.New()
	cfg.MaxSpoutPending = 3

	worker := newFakeWorker()
	rq := worker.addLocal(1, 64)
	worker.local[2] = rq

	topology := &Topology{Streams: map[string]Grouper{}}
	exec, err := New("multi", cfg, worker, topology,
		[]int{1, 2}, []Spout{&spySpout{}, &spySpout{}}, rq, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, exec.maxSpoutPending)
}
