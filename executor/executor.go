package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/streamexec/config"
	"github.com/c360/streamexec/errors"
	"github.com/c360/streamexec/metric"
	"github.com/c360/streamexec/queue"
	"github.com/c360/streamexec/rotating"
	"github.com/c360/streamexec/tuple"
	"github.com/c360/streamexec/wait"
)

const (
	// receivePollCadence drains the receive queue on every Nth iteration,
	// amortising the poll cost and rate-limiting tracker notifications.
	receivePollCadence = 8

	// inactiveSleep is the pause per iteration while the topology is
	// inactive.
	inactiveSleep = 100 * time.Millisecond

	// shutdownDrainTimeout bounds the final ack drain at shutdown.
	shutdownDrainTimeout = time.Second
)

// SpoutExecutor drives one or more spout tasks: it consumes control messages
// from its receive queue, calls NextTuple under the max-pending throttle,
// dispatches acks and fails back into user code, and rotates the pending map
// on system ticks.
//
// The executor goroutine is the sole consumer of the receive queue and the
// sole mutator of the pending map, collectors, and per-spout state. Other
// executors are producers into the receive queue only.
type SpoutExecutor struct {
	name   string
	cfg    *config.Config
	logger *slog.Logger

	worker       WorkerState
	topology     *Topology
	receiveQueue *queue.BoundedQueue[tuple.Msg]

	taskIDs     []int
	spouts      []Spout
	spoutByTask map[int]Spout
	collectors  []*OutputCollector
	transfer    *Transfer
	pending     *rotating.Map[int64, tuple.Info]

	emittedCount    atomic.Int64
	emptyEmitStreak int64
	topologyActive  atomic.Bool
	lastActive      bool
	openCalled      atomic.Bool

	maxSpoutPending int
	spoutWait       wait.Strategy
	credentials     map[string]string

	latencySampled *RunningStat
	coreMetrics    *metric.Metrics
	debug          bool

	iter      int
	runCtx    context.Context
	rotateErr error
}

// New creates a spout executor for the given tasks. taskIDs and spouts are
// parallel slices; maxSpoutPending is scaled by the task count.
func New(name string, cfg *config.Config, worker WorkerState, topology *Topology,
	taskIDs []int, spouts []Spout, receiveQueue *queue.BoundedQueue[tuple.Msg],
	credentials map[string]string, logger *slog.Logger, registry *metric.MetricsRegistry) (*SpoutExecutor, error) {

	if len(taskIDs) == 0 || len(taskIDs) != len(spouts) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("need matching task and spout lists, got %d tasks and %d spouts", len(taskIDs), len(spouts)),
			"SpoutExecutor", "New", "validating task assignment")
	}
	if cfg == nil {
		cfg = config.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	spoutWait, err := wait.New(cfg.SpoutWaitStrategy)
	if err != nil {
		return nil, err
	}

	spoutByTask := make(map[int]Spout, len(taskIDs))
	for i, taskID := range taskIDs {
		spoutByTask[taskID] = spouts[i]
	}

	var coreMetrics *metric.Metrics
	if registry != nil {
		coreMetrics = registry.CoreMetrics()
	}

	return &SpoutExecutor{
		name:            name,
		cfg:             cfg,
		logger:          logger,
		worker:          worker,
		topology:        topology,
		receiveQueue:    receiveQueue,
		taskIDs:         taskIDs,
		spouts:          spouts,
		spoutByTask:     spoutByTask,
		maxSpoutPending: cfg.MaxSpoutPending * len(taskIDs),
		spoutWait:       spoutWait,
		credentials:     credentials,
		latencySampled:  NewRunningStat("sampled-ack-latency-ms"),
		coreMetrics:     coreMetrics,
		debug:           cfg.Debug,
	}, nil
}

// SetActive toggles the topology-active flag observed by the run loop.
// Safe to call from any goroutine.
func (e *SpoutExecutor) SetActive(active bool) {
	e.topologyActive.Store(active)
}

// Active reports the current topology-active flag.
func (e *SpoutExecutor) Active() bool {
	return e.topologyActive.Load()
}

// EmittedCount returns the monotone emit counter.
func (e *SpoutExecutor) EmittedCount() int64 {
	return e.emittedCount.Load()
}

// EmptyEmitStreak returns the consecutive no-emit iteration count.
func (e *SpoutExecutor) EmptyEmitStreak() int64 {
	return e.emptyEmitStreak
}

// PendingSize returns the number of in-flight anchored tuples.
func (e *SpoutExecutor) PendingSize() int {
	if e.pending == nil {
		return 0
	}
	return e.pending.Size()
}

// LatencySampled exposes the sampled ack-latency stat.
func (e *SpoutExecutor) LatencySampled() *RunningStat {
	return e.latencySampled
}

// Init waits for the first activation, opens every spout, and builds the
// pending map and collectors. Must run on the executor goroutine before the
// first RunOnce.
func (e *SpoutExecutor) Init(ctx context.Context) error {
	if e.openCalled.Load() {
		return errors.Wrap(errors.ErrAlreadyStarted, "SpoutExecutor", "Init", "initializing executor")
	}

	for !e.topologyActive.Load() {
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCancelled, "SpoutExecutor", "Init", "waiting for activation")
		case <-time.After(inactiveSleep):
		}
	}

	e.logger.Info("opening spout", "executor", e.name, "tasks", e.taskIDs)

	e.pending = rotating.NewMap[int64, tuple.Info](config.PendingBuckets, e.onExpire)
	e.transfer = NewTransfer(e.name, e.worker, tuple.NewJSONSerializer(), e.cfg, e.logger, e.coreMetrics)

	e.collectors = make([]*OutputCollector, 0, len(e.taskIDs))
	for i, taskID := range e.taskIDs {
		spout := e.spouts[i]
		collector := newOutputCollector(e.name, taskID, spout, e.topology, e.transfer,
			e.pending, &e.emittedCount, e.debug, e.logger, e.coreMetrics)
		e.collectors = append(e.collectors, collector)

		if listener, ok := spout.(CredentialsListener); ok && e.credentials != nil {
			listener.SetCredentials(e.credentials)
		}
		if err := spout.Open(TaskContext{TaskID: taskID, ComponentID: e.name}, collector); err != nil {
			return errors.Wrap(err, "SpoutExecutor", "Init", "user open callback")
		}
	}

	e.openCalled.Store(true)
	e.logger.Info("opened spout", "executor", e.name, "tasks", e.taskIDs)
	return nil
}

// onExpire is the pending-map timeout path: the tuple tree was not acked
// within the wheel window, so the user fail callback fires once with reason
// TIMEOUT. Errors are stashed and surfaced after the Rotate call.
func (e *SpoutExecutor) onExpire(_ int64, info tuple.Info) {
	if err := e.failSpoutMsg(info, "TIMEOUT"); err != nil && e.rotateErr == nil {
		e.rotateErr = err
	}
}

func (e *SpoutExecutor) takeRotateErr() error {
	err := e.rotateErr
	e.rotateErr = nil
	return err
}

// RunOnce executes one unit of work so a higher-level scheduler may preempt
// between iterations for fairness and metrics.
func (e *SpoutExecutor) RunOnce(ctx context.Context) error {
	if !e.openCalled.Load() {
		return errors.Wrap(errors.ErrNotStarted, "SpoutExecutor", "RunOnce", "running iteration")
	}
	e.runCtx = ctx

	if e.iter == 0 {
		if _, err := e.receiveQueue.Consume(e); err != nil {
			return err
		}
	}
	e.iter++
	if e.iter == receivePollCadence {
		e.iter = 0
	}

	currCount := e.emittedCount.Load()
	reachedMax := e.maxSpoutPending > 0 && e.pending.Size() >= e.maxSpoutPending
	isActive := e.topologyActive.Load()

	if isActive {
		if !e.lastActive {
			e.lastActive = true
			e.logger.Info("activating spout", "executor", e.name, "tasks", e.taskIDs)
			for _, spout := range e.spouts {
				if err := spout.Activate(); err != nil {
					return errors.Wrap(err, "SpoutExecutor", "RunOnce", "user activate callback")
				}
			}
		}
		if !reachedMax {
			for j := 0; j < len(e.spouts); j++ { // perf critical loop, keep indexed
				if err := e.spouts[j].NextTuple(); err != nil {
					return errors.Wrap(err, "SpoutExecutor", "RunOnce", "user nextTuple callback")
				}
			}
		}
	} else {
		if e.lastActive {
			e.lastActive = false
			e.logger.Info("deactivating spout", "executor", e.name, "tasks", e.taskIDs)
			for _, spout := range e.spouts {
				if err := spout.Deactivate(); err != nil {
					return errors.Wrap(err, "SpoutExecutor", "RunOnce", "user deactivate callback")
				}
			}
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCancelled, "SpoutExecutor", "RunOnce", "inactive sleep")
		case <-time.After(inactiveSleep):
		}
		if e.coreMetrics != nil {
			e.coreMetrics.RecordSkippedInactive(e.name)
		}
	}

	if e.emittedCount.Load() == currCount && isActive {
		e.emptyEmitStreak++
		if e.emptyEmitStreak == 1 {
			// Nothing new is coming before we idle: push staged tuples out.
			if err := e.transfer.Flush(ctx); err != nil {
				return err
			}
		}
		if reachedMax && e.coreMetrics != nil {
			e.coreMetrics.RecordSkippedMaxPending(e.name)
		}
		e.spoutWait.Idle(int(e.emptyEmitStreak))
	} else {
		e.emptyEmitStreak = 0
	}

	return nil
}

// RunLoop drives RunOnce until cancellation or a fatal error, then performs
// an orderly shutdown: deactivate, flush, drain remaining acks up to a
// deadline.
func (e *SpoutExecutor) RunLoop(ctx context.Context) error {
	if !e.openCalled.Load() {
		if err := e.Init(ctx); err != nil {
			if errors.IsCancelled(err) {
				return nil
			}
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			break
		}
		if err := e.RunOnce(ctx); err != nil {
			if errors.IsCancelled(err) {
				break
			}
			e.logger.Error("executor loop failed", "executor", e.name, "error", err)
			e.shutdown()
			return err
		}
	}

	e.shutdown()
	return nil
}

// shutdown deactivates spouts, flushes the collector, and drains remaining
// acks until the queue is empty or the drain deadline passes.
func (e *SpoutExecutor) shutdown() {
	e.logger.Info("shutting down spout", "executor", e.name, "tasks", e.taskIDs)

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	e.runCtx = drainCtx

	if e.lastActive {
		e.lastActive = false
		for _, spout := range e.spouts {
			if err := spout.Deactivate(); err != nil {
				e.logger.Error("deactivate during shutdown failed", "executor", e.name, "error", err)
			}
		}
	}

	if e.transfer != nil {
		if err := e.transfer.Flush(drainCtx); err != nil {
			e.logger.Error("flush during shutdown failed", "executor", e.name, "error", err)
		}
	}

	for drainCtx.Err() == nil {
		n, err := e.receiveQueue.Consume(e)
		if err != nil || n == 0 {
			break
		}
	}

	for _, spout := range e.spouts {
		if err := spout.Close(); err != nil {
			e.logger.Error("spout close failed", "executor", e.name, "error", err)
		}
	}
}

// Accept dispatches one receive-queue message. Implements queue.Consumer.
func (e *SpoutExecutor) Accept(msg tuple.Msg) error {
	switch m := msg.(type) {
	case tuple.FlushMsg:
		return e.transfer.Flush(e.runCtx)

	case tuple.TickMsg:
		e.pending.Rotate()
		return e.takeRotateErr()

	case tuple.MetricsTickMsg:
		e.metricsTick()
		return nil

	case tuple.CredentialsMsg:
		e.credentials = m.Credentials
		for _, spout := range e.spouts {
			if listener, ok := spout.(CredentialsListener); ok {
				listener.SetCredentials(m.Credentials)
			}
		}
		return nil

	case tuple.ResetTimeoutMsg:
		// Refresh the wheel position; the stored info (including the
		// original emit timestamp) is reused unchanged.
		if info, ok := e.pending.Get(m.RootID); ok {
			e.pending.Put(m.RootID, info)
		}
		return nil

	case tuple.AckMsg:
		return e.handleAck(m)

	case tuple.FailMsg:
		return e.handleFail(m)

	case tuple.TupleMsg:
		if e.debug {
			e.logger.Debug("ignoring data tuple on spout receive queue",
				"executor", e.name, "stream", m.Tuple.StreamID)
		}
		return nil

	case tuple.InterruptMsg:
		return errors.Wrap(errors.ErrCancelled, "SpoutExecutor", "Accept", "queue interrupt")

	default:
		return nil
	}
}

// Flush implements queue.Consumer; the spout executor has no post-drain
// work of its own.
func (e *SpoutExecutor) Flush() error {
	return nil
}

func (e *SpoutExecutor) handleAck(m tuple.AckMsg) error {
	info, ok := e.pending.Remove(m.RootID)
	if !ok || info.MessageID == nil {
		return nil
	}
	if m.TaskID != info.TaskID {
		return errors.WrapFatal(
			fmt.Errorf("%w: ack addressed task %d but tuple was emitted by task %d",
				errors.ErrTaskIDMismatch, m.TaskID, info.TaskID),
			"SpoutExecutor", "handleAck", "verifying ack origin")
	}
	return e.ackSpoutMsg(info, m.TimeDeltaMs)
}

func (e *SpoutExecutor) handleFail(m tuple.FailMsg) error {
	info, ok := e.pending.Remove(m.RootID)
	if !ok || info.MessageID == nil {
		return nil
	}
	if m.TaskID != info.TaskID {
		return errors.WrapFatal(
			fmt.Errorf("%w: fail addressed task %d but tuple was emitted by task %d",
				errors.ErrTaskIDMismatch, m.TaskID, info.TaskID),
			"SpoutExecutor", "handleFail", "verifying fail origin")
	}
	return e.failSpoutMsg(info, "FAIL-STREAM")
}

func (e *SpoutExecutor) ackSpoutMsg(info tuple.Info, timeDeltaMs int64) error {
	spout, ok := e.spoutByTask[info.TaskID]
	if !ok {
		return nil
	}
	if e.debug {
		e.logger.Debug("acking message", "executor", e.name, "root", info.RootID, "message", info.MessageID)
	}
	if err := spout.Ack(info.MessageID); err != nil {
		return errors.Wrap(err, "SpoutExecutor", "ackSpoutMsg", "user ack callback")
	}

	if info.Tracked() {
		delta := time.Duration(timeDeltaMs) * time.Millisecond
		if timeDeltaMs < 0 {
			delta = time.Since(info.Timestamp)
		}
		e.latencySampled.Push(float64(delta.Milliseconds()))
		if e.coreMetrics != nil {
			e.coreMetrics.RecordAckLatency(e.name, delta)
		}
	}
	if e.coreMetrics != nil {
		e.coreMetrics.RecordAcked(e.name, info.StreamID)
	}
	return nil
}

func (e *SpoutExecutor) failSpoutMsg(info tuple.Info, reason string) error {
	spout, ok := e.spoutByTask[info.TaskID]
	if !ok {
		return nil
	}
	if e.debug {
		e.logger.Debug("failing message", "executor", e.name,
			"root", info.RootID, "message", info.MessageID, "reason", reason)
	}
	if err := spout.Fail(info.MessageID, reason); err != nil {
		return errors.Wrap(err, "SpoutExecutor", "failSpoutMsg", "user fail callback")
	}
	if e.coreMetrics != nil {
		e.coreMetrics.RecordFailed(e.name, info.StreamID, reason)
	}
	return nil
}

// metricsTick publishes the receive-queue snapshot and executor gauges.
func (e *SpoutExecutor) metricsTick() {
	if e.coreMetrics == nil {
		return
	}
	state := e.receiveQueue.Metrics().GetState()
	e.coreMetrics.RecordQueueState(e.receiveQueue.Name(),
		state.Capacity, state.Population,
		state.ArrivalRateSecs, state.InsertFailureRate, state.SojournTimeMs)
	e.coreMetrics.PendingCount.WithLabelValues(e.name).Set(float64(e.pending.Size()))
	e.coreMetrics.EmptyEmitStreak.WithLabelValues(e.name).Set(float64(e.emptyEmitStreak))
}
