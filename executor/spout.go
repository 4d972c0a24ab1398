// Package executor drives source operators: it runs the spout executor loop,
// turns user emits into routed tuples, tracks in-flight messages for
// end-to-end acknowledgement, and honors back-pressure from downstream
// queues.
package executor

// TaskContext describes the task a spout instance is bound to.
type TaskContext struct {
	// TaskID is the task this spout instance runs as.
	TaskID int
	// ComponentID names the logical component this task belongs to.
	ComponentID string
}

// Spout is a source operator. All methods are invoked from the executor
// goroutine; implementations never need internal locking for executor
// interaction. Any returned error is wrapped with context and surfaced to
// the executor's supervisor.
type Spout interface {
	// Open is called once before the first NextTuple. The collector stays
	// valid for the life of the executor.
	Open(ctx TaskContext, collector *OutputCollector) error

	// Activate is called when the topology transitions to active.
	Activate() error

	// Deactivate is called when the topology transitions to inactive.
	Deactivate() error

	// NextTuple asks the spout to emit zero or more tuples via its
	// collector. It must not block: return without emitting when there is
	// nothing to do and the executor will idle through its wait strategy.
	NextTuple() error

	// Ack signals that the tuple tree for messageID completed.
	Ack(messageID any) error

	// Fail signals that the tuple tree for messageID failed or timed out.
	Fail(messageID any, reason string) error

	// Close releases spout resources at executor shutdown.
	Close() error
}

// CredentialsListener is an optional interface for spouts that want updated
// credentials re-delivered when a CredentialsMsg arrives.
type CredentialsListener interface {
	SetCredentials(credentials map[string]string)
}
