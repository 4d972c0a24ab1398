package executor

import (
	"github.com/c360/streamexec/queue"
	"github.com/c360/streamexec/tuple"
)

// WorkerState is the executor's view of the hosting worker: which tasks are
// local, their receive queues, and the sink for remote batches.
type WorkerState interface {
	// IsLocal reports whether the destination task runs in this worker.
	IsLocal(taskID int) bool

	// LocalQueue returns the receive queue for a local task.
	LocalQueue(taskID int) (*queue.BoundedQueue[tuple.Msg], bool)

	// SendRemote hands a map of destination task to serialized tuples to
	// the remote transport. The transport owns the map after the call; it
	// may buffer and send asynchronously, and may itself back-pressure.
	SendRemote(batches map[int][][]byte) error
}
