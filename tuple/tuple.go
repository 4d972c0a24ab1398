// Package tuple defines the data model flowing through the executor: tuples,
// addressed tuples, in-flight tuple metadata, and the tagged message variant
// carried on receive queues.
package tuple

import (
	"time"
)

// Wire-stable stream identifiers. DefaultStreamID and AckerInitStreamID name
// data streams carried as tuples. The control ids name the control streams;
// on a receive queue those travel as the typed Msg arms (FlushMsg, TickMsg,
// AckMsg, ...), and the executor dispatches on the arm, not on these ids.
const (
	// DefaultStreamID is the conventional id of a component's primary output
	// stream. Emit does not substitute it for an empty stream id.
	DefaultStreamID = "default"

	// SystemFlushStreamID asks the executor to flush its output collector.
	SystemFlushStreamID = "__system_flush"
	// SystemTickStreamID advances the pending-map time wheel.
	SystemTickStreamID = "__system_tick"
	// MetricsTickStreamID asks the executor to publish accumulated metrics.
	MetricsTickStreamID = "__metrics_tick"
	// CredentialsChangedStreamID re-delivers credentials to opted-in spouts.
	CredentialsChangedStreamID = "__credentials_changed"

	// AckerInitStreamID carries (rootId, checksum, taskId) bookkeeping from
	// the spout to its acker on every anchored emit.
	AckerInitStreamID = "__ack_init"
	// AckerAckStreamID signals a completed tuple tree.
	AckerAckStreamID = "__ack_ack"
	// AckerFailStreamID signals an explicitly failed tuple tree.
	AckerFailStreamID = "__ack_fail"
	// AckerResetTimeoutStreamID refreshes the timeout of a pending tuple.
	AckerResetTimeoutStreamID = "__ack_reset_timeout"
)

// Values is the ordered payload of a tuple.
type Values []any

// Tuple is an ordered list of values tagged with a source stream and the
// originating task id. Immutable once published.
type Tuple struct {
	StreamID string `json:"stream"`
	SrcTask  int    `json:"src_task"`
	Values   Values `json:"values"`

	// RootID anchors this tuple to an in-flight tree. Zero means unanchored.
	RootID int64 `json:"root_id,omitempty"`
}

// NewTuple creates a tuple on the given stream.
func NewTuple(streamID string, srcTask int, values Values) Tuple {
	return Tuple{StreamID: streamID, SrcTask: srcTask, Values: values}
}

// AddressedTuple pairs a tuple with its destination task. It is constructed
// at emit time and consumed by local delivery or serialization.
type AddressedTuple struct {
	Dest  int   `json:"dest"`
	Tuple Tuple `json:"tuple"`
}

// Info is the metadata for one in-flight emitted message. Created on
// emit-with-ack, destroyed on ack, fail, or timeout.
type Info struct {
	RootID    int64
	MessageID any
	TaskID    int
	StreamID  string

	// Timestamp is the emit time. The zero value means latency is untracked
	// for this tuple.
	Timestamp time.Time
}

// Tracked reports whether latency is measured for this tuple.
func (i Info) Tracked() bool {
	return !i.Timestamp.IsZero()
}
