package queue

import (
	"sync/atomic"
	"time"

	"github.com/c360/streamexec/metric"
)

// State is one point-in-time snapshot of a queue's health. SojournTimeMs
// assumes the queue is stable (arrival rate equals consumption rate); under
// that assumption an element waits population/arrivalRate seconds.
type State struct {
	Capacity          int64   `json:"capacity"`
	Population        int64   `json:"population"`
	PctFull           float64 `json:"pct_full"`
	ArrivalRateSecs   float64 `json:"arrival_rate_secs"`
	SojournTimeMs     float64 `json:"sojourn_time_ms"`
	InsertFailureRate float64 `json:"insert_failures"`
}

// Metrics tracks rolling arrival and insert-failure rates for one queue.
type Metrics struct {
	capacity   int64
	population func() int64

	arrivalsTracker       *metric.RateTracker
	insertFailuresTracker *metric.RateTracker
	emptyBatches          atomic.Int64
	insertFailures        atomic.Int64
	closed                atomic.Bool
}

func newMetrics[T any](q *BoundedQueue[T]) *Metrics {
	return &Metrics{
		capacity:              q.ring.Capacity(),
		population:            q.ring.Size,
		arrivalsTracker:       metric.NewRateTracker(10*time.Second, 10),
		insertFailuresTracker: metric.NewRateTracker(10*time.Second, 10),
	}
}

// GetState returns the current queue health snapshot.
func (m *Metrics) GetState() State {
	population := m.population()
	arrivalRate := m.arrivalsTracker.Report()

	sojourn := float64(population) / max(arrivalRate, 0.00001) * 1000.0

	return State{
		Capacity:          m.capacity,
		Population:        population,
		PctFull:           float64(population) / float64(m.capacity),
		ArrivalRateSecs:   arrivalRate,
		SojournTimeMs:     sojourn,
		InsertFailureRate: m.insertFailuresTracker.Report(),
	}
}

// InsertFailures returns the total number of failed insert attempts.
func (m *Metrics) InsertFailures() int64 {
	return m.insertFailures.Load()
}

// EmptyBatches returns how many consume calls found the queue empty.
func (m *Metrics) EmptyBatches() int64 {
	return m.emptyBatches.Load()
}

func (m *Metrics) notifyArrivals(count int64) {
	if m.closed.Load() {
		return
	}
	m.arrivalsTracker.Notify(count)
}

func (m *Metrics) notifyInsertFailure() {
	m.insertFailures.Add(1)
	if m.closed.Load() {
		return
	}
	m.insertFailuresTracker.Notify(1)
}

func (m *Metrics) notifyEmptyBatch() {
	m.emptyBatches.Add(1)
}

func (m *Metrics) close() {
	m.closed.Store(true)
}
