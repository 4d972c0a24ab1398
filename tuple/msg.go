package tuple

// Msg is the tagged variant carried on executor receive queues. Using a
// closed set of message arms keeps the executor's dispatch total: every
// consumer handles each arm in one type switch, with no runtime casts.
//
// The Interrupt arm replaces a shared sentinel object: a queue being torn
// down publishes InterruptMsg so its consumer observes shutdown in-band.
type Msg interface {
	msg()
}

// TupleMsg carries a data tuple addressed to a local task.
type TupleMsg struct {
	AddressedTuple
}

// AckMsg signals that the tuple tree rooted at RootID completed. TaskID is
// the spout task the acker addressed; TimeDeltaMs is the tree latency as
// measured by the acker (negative when unknown).
type AckMsg struct {
	RootID      int64
	TimeDeltaMs int64
	TaskID      int
}

// FailMsg signals that the tuple tree rooted at RootID failed downstream.
type FailMsg struct {
	RootID      int64
	TimeDeltaMs int64
	TaskID      int
}

// ResetTimeoutMsg refreshes the timeout for the pending tuple RootID.
type ResetTimeoutMsg struct {
	RootID int64
}

// TickMsg advances the pending-map time wheel.
type TickMsg struct{}

// FlushMsg asks the executor to flush its output collector.
type FlushMsg struct{}

// MetricsTickMsg asks the executor to publish accumulated metrics.
type MetricsTickMsg struct{}

// CredentialsMsg re-delivers updated credentials to opted-in spouts.
type CredentialsMsg struct {
	Credentials map[string]string
}

// InterruptMsg wakes a consumer whose queue is being torn down.
type InterruptMsg struct{}

func (TupleMsg) msg()        {}
func (AckMsg) msg()          {}
func (FailMsg) msg()         {}
func (ResetTimeoutMsg) msg() {}
func (TickMsg) msg()         {}
func (FlushMsg) msg()        {}
func (MetricsTickMsg) msg()  {}
func (CredentialsMsg) msg()  {}
func (InterruptMsg) msg()    {}
