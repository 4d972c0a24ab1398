// Package streamexec implements the executor core of a distributed
// stream-processing worker: the machinery that drives source operators
// ("spouts"), emits their tuples into an inter-executor transport, tracks
// in-flight messages for end-to-end acknowledgement, and honors
// back-pressure from downstream.
//
// # Architecture
//
// The module is organised around a small set of cooperating layers:
//
//   - queue: bounded lock-free SPSC/MPSC queues with batched producer
//     handles and a pluggable back-pressure wait strategy. The only
//     cross-goroutine shared mutable state in the system.
//   - wait: idle policies (progressive park, constant sleep, no-op) used on
//     empty emits and full queues.
//   - rotating: the bucketed TTL map backing pending-tuple timeouts.
//   - executor: the spout run loop, output collector, and transfer layer.
//   - engine: the in-process worker runtime wiring queues, executors, and
//     system control ticks together.
//   - transport: the NATS-backed remote batch sender and receiver.
//
// Data flow:
//
//	user spout --emit--> collector --> transfer --local--> peer queues
//	                                     --remote--> batched bytes --> NATS
//	acks / fails / ticks --> receive queue --> executor --> pending map
//
// # Concurrency model
//
// One goroutine per executor. The executor goroutine is the sole consumer
// of its receive queue and the sole mutator of its pending map, collectors,
// and spout state; any number of peer executors hold producer handles to
// the queue. Back-pressure propagates by blocking publishes, never by
// dropping.
package streamexec
