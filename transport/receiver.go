package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/c360/streamexec/errors"
	"github.com/c360/streamexec/queue"
	"github.com/c360/streamexec/tuple"
)

// Receiver subscribes to the tuple subjects of local tasks and publishes
// decoded tuples into their receive queues. It is the inbound half of the
// worker-to-worker transport.
type Receiver struct {
	nc            *nats.Conn
	subjectPrefix string
	serializer    tuple.Serializer
	logger        *slog.Logger
	subs          []*nats.Subscription
}

// NewReceiver creates a receiver over an existing NATS connection.
func NewReceiver(nc *nats.Conn, serializer tuple.Serializer, logger *slog.Logger, opts ...SenderOption) (*Receiver, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Receiver", "NewReceiver", "checking connection")
	}
	if serializer == nil {
		serializer = tuple.NewJSONSerializer()
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &senderOptions{subjectPrefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	return &Receiver{
		nc:            nc,
		subjectPrefix: o.subjectPrefix,
		serializer:    serializer,
		logger:        logger,
	}, nil
}

// Listen subscribes for one local task and forwards decoded tuples into its
// receive queue. Delivery blocks on a full queue, propagating back-pressure
// into the NATS consumer.
func (r *Receiver) Listen(ctx context.Context, taskID int, q *queue.BoundedQueue[tuple.Msg]) error {
	subject := fmt.Sprintf("%s.%d", r.subjectPrefix, taskID)
	sub, err := r.nc.Subscribe(subject, func(msg *nats.Msg) {
		t, err := r.serializer.Deserialize(msg.Data)
		if err != nil {
			r.logger.Error("dropping undecodable tuple", "subject", subject, "error", err)
			return
		}
		at := tuple.AddressedTuple{Dest: taskID, Tuple: t}
		if err := q.Publish(ctx, tuple.TupleMsg{AddressedTuple: at}); err != nil {
			r.logger.Warn("inbound delivery cancelled", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "Receiver", "Listen", "subscribing to task subject")
	}
	r.subs = append(r.subs, sub)
	return nil
}

// Close unsubscribes every task subject.
func (r *Receiver) Close() error {
	var firstErr error
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	if firstErr != nil {
		return errors.Wrap(firstErr, "Receiver", "Close", "unsubscribing")
	}
	return nil
}
