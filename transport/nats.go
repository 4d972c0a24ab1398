// Package transport carries serialized tuple batches between workers over
// NATS. The sender side implements the engine's RemoteSender sink; the
// receiver side subscribes for local tasks and feeds their receive queues.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/streamexec/errors"
	"github.com/c360/streamexec/metric"
	"github.com/c360/streamexec/pkg/retry"
	"github.com/c360/streamexec/pkg/worker"
)

// DefaultSubjectPrefix is the subject root for inter-worker tuple traffic.
// The full subject is "<prefix>.<destTaskID>".
const DefaultSubjectPrefix = "streamexec.task"

// remoteBatch is one unit of async send work: all staged payloads for a
// single destination task.
type remoteBatch struct {
	taskID   int
	payloads [][]byte
}

// Sender publishes serialized tuple batches to NATS. Send is own-buffered:
// batches are handed to a worker pool and published asynchronously with
// retry; when the pool queue is full the caller's goroutine publishes
// synchronously, which is how remote back-pressure reaches the executor.
type Sender struct {
	nc            *nats.Conn
	ownsConn      bool
	subjectPrefix string
	logger        *slog.Logger
	retryCfg      retry.Config
	pool          *worker.Pool[remoteBatch]
}

// SenderOption configures a Sender.
type SenderOption func(*senderOptions)

type senderOptions struct {
	subjectPrefix string
	workers       int
	queueSize     int
	retryCfg      retry.Config
	registry      *metric.MetricsRegistry
}

// WithSubjectPrefix overrides the subject root.
func WithSubjectPrefix(prefix string) SenderOption {
	return func(o *senderOptions) {
		if prefix != "" {
			o.subjectPrefix = prefix
		}
	}
}

// WithSendWorkers sizes the async send pool.
func WithSendWorkers(workers, queueSize int) SenderOption {
	return func(o *senderOptions) {
		o.workers = workers
		o.queueSize = queueSize
	}
}

// WithRetry overrides the publish retry policy.
func WithRetry(cfg retry.Config) SenderOption {
	return func(o *senderOptions) {
		o.retryCfg = cfg
	}
}

// WithSenderMetrics registers pool counters with the framework registry.
func WithSenderMetrics(registry *metric.MetricsRegistry) SenderOption {
	return func(o *senderOptions) {
		o.registry = registry
	}
}

// NewSender creates a sender over an existing NATS connection.
func NewSender(nc *nats.Conn, logger *slog.Logger, opts ...SenderOption) (*Sender, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Sender", "NewSender", "checking connection")
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &senderOptions{
		subjectPrefix: DefaultSubjectPrefix,
		workers:       2,
		queueSize:     1024,
		retryCfg:      retry.Quick(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	s := &Sender{
		nc:            nc,
		subjectPrefix: o.subjectPrefix,
		logger:        logger,
		retryCfg:      o.retryCfg,
	}

	var poolOpts []worker.Option[remoteBatch]
	if o.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[remoteBatch](o.registry, "remote_send"))
	}
	pool, err := worker.NewPool(o.workers, o.queueSize, s.processBatch, poolOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Sender", "NewSender", "creating send pool")
	}
	s.pool = pool
	return s, nil
}

// Connect dials NATS and creates a sender that owns the connection.
func Connect(url string, logger *slog.Logger, opts ...SenderOption) (*Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("streamexec-transport"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "Sender", "Connect", "dialing nats")
	}
	s, err := NewSender(nc, logger, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.ownsConn = true
	return s, nil
}

// Start launches the async send workers.
func (s *Sender) Start(ctx context.Context) error {
	if err := s.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Sender", "Start", "starting send pool")
	}
	return nil
}

// Send implements engine.RemoteSender. The map is owned by the sender after
// the call.
func (s *Sender) Send(batches map[int][][]byte) error {
	for taskID, payloads := range batches {
		batch := remoteBatch{taskID: taskID, payloads: payloads}
		if err := s.pool.Submit(batch); err != nil {
			// Pool saturated (or not started): publish from the caller's
			// goroutine so back-pressure reaches the emitting executor.
			if err := s.processBatch(context.Background(), batch); err != nil {
				return err
			}
		}
	}
	return nil
}

// processBatch publishes every payload of one batch with retry.
func (s *Sender) processBatch(ctx context.Context, batch remoteBatch) error {
	subject := fmt.Sprintf("%s.%d", s.subjectPrefix, batch.taskID)
	for _, payload := range batch.payloads {
		err := retry.Do(ctx, s.retryCfg, func() error {
			return s.nc.Publish(subject, payload)
		})
		if err != nil {
			s.logger.Error("remote publish failed", "subject", subject, "error", err)
			return errors.WrapTransient(err, "Sender", "processBatch", "publishing remote tuple")
		}
	}
	return nil
}

// Stats returns the send pool statistics.
func (s *Sender) Stats() worker.PoolStats {
	return s.pool.Stats()
}

// Close stops the send pool and, when the sender owns the connection,
// drains it.
func (s *Sender) Close(timeout time.Duration) error {
	poolErr := s.pool.Stop(timeout)
	if s.ownsConn {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	if poolErr != nil {
		return errors.Wrap(poolErr, "Sender", "Close", "stopping send pool")
	}
	return nil
}
