package executor

import (
	"fmt"

	"github.com/c360/streamexec/errors"
	"github.com/c360/streamexec/tuple"
)

// Grouper chooses the destination tasks for one emitted tuple. Groupers are
// called from the owning executor goroutine only, so implementations may
// keep unsynchronized state (e.g. a round-robin cursor).
type Grouper interface {
	ChooseTasks(srcTask int, values tuple.Values) []int
}

// ShuffleGrouper distributes tuples round-robin across the target tasks.
type ShuffleGrouper struct {
	tasks []int
	next  int
}

// NewShuffleGrouper creates a round-robin grouper over the given tasks.
func NewShuffleGrouper(tasks []int) *ShuffleGrouper {
	return &ShuffleGrouper{tasks: tasks}
}

// ChooseTasks returns the next task in rotation.
func (g *ShuffleGrouper) ChooseTasks(_ int, _ tuple.Values) []int {
	if len(g.tasks) == 0 {
		return nil
	}
	task := g.tasks[g.next]
	g.next = (g.next + 1) % len(g.tasks)
	return []int{task}
}

// AllGrouper replicates every tuple to all target tasks.
type AllGrouper struct {
	tasks []int
}

// NewAllGrouper creates a grouper that targets every task.
func NewAllGrouper(tasks []int) *AllGrouper {
	return &AllGrouper{tasks: tasks}
}

// ChooseTasks returns all target tasks.
func (g *AllGrouper) ChooseTasks(_ int, _ tuple.Values) []int {
	return g.tasks
}

// Topology is the slice of topology knowledge the spout executor needs:
// which tasks each output stream routes to, and where the acker tasks live.
type Topology struct {
	// Streams maps an output stream id to its grouping.
	Streams map[string]Grouper

	// Ackers lists the acker task ids. Empty means the topology runs
	// without end-to-end acking and anchored emits ack immediately.
	Ackers []int
}

// HasAckers reports whether acker tasks exist in the topology.
func (t *Topology) HasAckers() bool {
	return len(t.Ackers) > 0
}

// AckerFor picks the acker task responsible for a tuple tree.
func (t *Topology) AckerFor(rootID int64) int {
	idx := rootID % int64(len(t.Ackers))
	if idx < 0 {
		idx += int64(len(t.Ackers))
	}
	return t.Ackers[idx]
}

// GrouperFor resolves the grouping for a stream.
func (t *Topology) GrouperFor(streamID string) (Grouper, error) {
	g, ok := t.Streams[streamID]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown stream %q", streamID),
			"Topology", "GrouperFor", "stream lookup")
	}
	return g, nil
}
