package worker

import "errors"

var (
	// ErrNilProcessor is raised when a pool is created without a processor
	ErrNilProcessor = errors.New("worker pool processor cannot be nil")
	// ErrPoolNotStarted is returned when submitting to a pool that has not started
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStopped is returned when submitting to a stopped pool
	ErrPoolStopped = errors.New("worker pool stopped")
	// ErrPoolAlreadyStarted is returned when starting a running pool
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	// ErrQueueFull is returned when the work queue is at capacity
	ErrQueueFull = errors.New("worker pool queue full")
	// ErrStopTimeout is returned when workers do not finish within the stop timeout
	ErrStopTimeout = errors.New("worker pool stop timed out")
)
