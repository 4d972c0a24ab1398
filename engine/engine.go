// Package engine hosts executors inside one worker process: it owns the
// local receive queues, routes executor output to local peers or the remote
// sender, publishes the system control ticks, and supervises executor
// goroutines.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/streamexec/config"
	"github.com/c360/streamexec/errors"
	"github.com/c360/streamexec/executor"
	"github.com/c360/streamexec/metric"
	"github.com/c360/streamexec/queue"
	"github.com/c360/streamexec/tuple"
	"github.com/c360/streamexec/wait"
)

const (
	// flushInterval paces SYSTEM_FLUSH so batched producers cannot strand
	// staged tuples indefinitely.
	flushInterval = 100 * time.Millisecond

	// metricsInterval paces METRICS_TICK delivery.
	metricsInterval = 10 * time.Second
)

// RemoteSender is the sink for serialized remote batches. Implementations
// may buffer and send asynchronously; they own the map after the call.
type RemoteSender interface {
	Send(batches map[int][][]byte) error
}

// Engine is the in-process worker state: task → receive queue map plus
// executor supervision. Registration happens before Run; the maps are not
// mutated afterwards, so executor-side lookups run without locks.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	remote   RemoteSender

	mu        sync.Mutex
	queues    map[int]*queue.BoundedQueue[tuple.Msg]
	executors []*executor.SpoutExecutor
	started   bool
}

// New creates an engine. remote may be nil for single-worker topologies;
// logger and registry may be nil.
func New(cfg *config.Config, remote RemoteSender, logger *slog.Logger, registry *metric.MetricsRegistry) *Engine {
	if cfg == nil {
		cfg = config.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		remote:   remote,
		queues:   make(map[int]*queue.BoundedQueue[tuple.Msg]),
	}
}

// IsLocal implements executor.WorkerState.
func (e *Engine) IsLocal(taskID int) bool {
	_, ok := e.queues[taskID]
	return ok
}

// LocalQueue implements executor.WorkerState.
func (e *Engine) LocalQueue(taskID int) (*queue.BoundedQueue[tuple.Msg], bool) {
	q, ok := e.queues[taskID]
	return q, ok
}

// SendRemote implements executor.WorkerState.
func (e *Engine) SendRemote(batches map[int][][]byte) error {
	if e.remote == nil {
		return errors.Wrap(errors.ErrNoConnection, "Engine", "SendRemote", "routing remote batch")
	}
	return e.remote.Send(batches)
}

// RegisterQueue creates the shared receive queue for one executor and maps
// every one of its tasks to it.
func (e *Engine) RegisterQueue(name string, taskIDs []int) (*queue.BoundedQueue[tuple.Msg], error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil, errors.Wrap(errors.ErrAlreadyStarted, "Engine", "RegisterQueue", "registering queue")
	}
	for _, taskID := range taskIDs {
		if _, exists := e.queues[taskID]; exists {
			return nil, errors.WrapInvalid(
				fmt.Errorf("task %d already registered", taskID),
				"Engine", "RegisterQueue", "registering queue")
		}
	}

	backPressure, err := wait.New(e.cfg.BackPressureWaitStrategy)
	if err != nil {
		return nil, err
	}

	q := queue.NewBoundedQueue[tuple.Msg](name, e.cfg.ReceiveBufferSize,
		queue.WithProducerKind[tuple.Msg](queue.MultiProducer),
		queue.WithBatchSize[tuple.Msg](e.cfg.ProducerBatchSize),
		queue.WithBackPressureWait[tuple.Msg](backPressure),
		queue.WithHaltValue[tuple.Msg](tuple.InterruptMsg{}),
	)
	for _, taskID := range taskIDs {
		e.queues[taskID] = q
	}
	return q, nil
}

// AddSpoutExecutor registers a spout executor with its own receive queue.
func (e *Engine) AddSpoutExecutor(name string, topology *executor.Topology,
	taskIDs []int, spouts []executor.Spout, credentials map[string]string) (*executor.SpoutExecutor, error) {

	q, err := e.RegisterQueue("receive-"+name, taskIDs)
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(name, e.cfg, e, topology, taskIDs, spouts, q, credentials, e.logger, e.registry)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.executors = append(e.executors, exec)
	e.mu.Unlock()
	return exec, nil
}

// Activate marks every executor's topology active.
func (e *Engine) Activate() {
	for _, exec := range e.executors {
		exec.SetActive(true)
	}
}

// Deactivate marks every executor's topology inactive.
func (e *Engine) Deactivate() {
	for _, exec := range e.executors {
		exec.SetActive(false)
	}
}

// Run supervises all executor loops and the per-queue system timers until
// ctx is cancelled or an executor fails. On return every receive queue has
// been halted.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.Wrap(errors.ErrAlreadyStarted, "Engine", "Run", "starting engine")
	}
	e.started = true
	execs := e.executors
	e.mu.Unlock()

	if len(execs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "Run", "starting engine with no executors")
	}

	tickPeriod := time.Duration(e.cfg.MessageTimeoutSecs) * time.Second / config.PendingBuckets

	g, runCtx := errgroup.WithContext(ctx)

	for _, exec := range execs {
		exec := exec
		g.Go(func() error {
			return exec.RunLoop(runCtx)
		})
	}

	for _, q := range e.uniqueQueues() {
		q := q
		g.Go(func() error {
			return e.runTimer(runCtx, q, tickPeriod)
		})
	}

	err := g.Wait()

	for _, q := range e.uniqueQueues() {
		q.Halt()
	}

	if err != nil && !errors.IsCancelled(err) {
		return errors.Wrap(err, "Engine", "Run", "supervising executors")
	}
	return nil
}

// runTimer publishes the system control cadence into one receive queue:
// SYSTEM_TICK at the pending-wheel period, SYSTEM_FLUSH and METRICS_TICK at
// their own intervals.
func (e *Engine) runTimer(ctx context.Context, q *queue.BoundedQueue[tuple.Msg], tickPeriod time.Duration) error {
	tick := time.NewTicker(tickPeriod)
	defer tick.Stop()
	flush := time.NewTicker(flushInterval)
	defer flush.Stop()
	metrics := time.NewTicker(metricsInterval)
	defer metrics.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := q.Publish(ctx, tuple.TickMsg{}); err != nil {
				return nil
			}
		case <-flush.C:
			if err := q.Publish(ctx, tuple.FlushMsg{}); err != nil {
				return nil
			}
		case <-metrics.C:
			if err := q.Publish(ctx, tuple.MetricsTickMsg{}); err != nil {
				return nil
			}
		}
	}
}

// UpdateCredentials delivers a credentials change to every executor queue.
func (e *Engine) UpdateCredentials(ctx context.Context, credentials map[string]string) error {
	for _, q := range e.uniqueQueues() {
		if err := q.Publish(ctx, tuple.CredentialsMsg{Credentials: credentials}); err != nil {
			return err
		}
	}
	return nil
}

// uniqueQueues deduplicates the task → queue map (several tasks share one
// executor queue).
func (e *Engine) uniqueQueues() []*queue.BoundedQueue[tuple.Msg] {
	seen := make(map[*queue.BoundedQueue[tuple.Msg]]struct{}, len(e.queues))
	var qs []*queue.BoundedQueue[tuple.Msg]
	for _, q := range e.queues {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		qs = append(qs, q)
	}
	return qs
}
