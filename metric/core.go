package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not spout-specific)
type Metrics struct {
	// Queue metrics
	QueueCapacity       *prometheus.GaugeVec
	QueuePopulation     *prometheus.GaugeVec
	QueuePctFull        *prometheus.GaugeVec
	QueueArrivalRate    *prometheus.GaugeVec
	QueueSojournTime    *prometheus.GaugeVec
	QueueInsertFailures *prometheus.GaugeVec

	// Executor metrics
	TuplesEmitted     *prometheus.CounterVec
	TuplesAcked       *prometheus.CounterVec
	TuplesFailed      *prometheus.CounterVec
	EmptyEmitStreak   *prometheus.GaugeVec
	PendingCount      *prometheus.GaugeVec
	SkippedInactive   *prometheus.CounterVec
	SkippedMaxPending *prometheus.CounterVec
	AckLatency        *prometheus.HistogramVec

	// Transfer metrics
	RemoteBatchesFlushed *prometheus.CounterVec
	RemoteTuplesSent     *prometheus.CounterVec
	LocalTuplesSent      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		QueueCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamexec",
				Subsystem: "queue",
				Name:      "capacity",
				Help:      "Fixed capacity of the bounded queue",
			},
			[]string{"queue"},
		),

		QueuePopulation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamexec",
				Subsystem: "queue",
				Name:      "population",
				Help:      "Estimated number of items currently in the queue",
			},
			[]string{"queue"},
		),

		QueuePctFull: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamexec",
				Subsystem: "queue",
				Name:      "pct_full",
				Help:      "Queue fill fraction (0.0 to 1.0)",
			},
			[]string{"queue"},
		),

		QueueArrivalRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamexec",
				Subsystem: "queue",
				Name:      "arrival_rate_secs",
				Help:      "Rolling arrival rate in items per second",
			},
			[]string{"queue"},
		),

		QueueSojournTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamexec",
				Subsystem: "queue",
				Name:      "sojourn_time_ms",
				Help:      "Estimated element sojourn time in milliseconds",
			},
			[]string{"queue"},
		),

		QueueInsertFailures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamexec",
				Subsystem: "queue",
				Name:      "insert_failures",
				Help:      "Rolling rate of failed insert attempts per second",
			},
			[]string{"queue"},
		),

		TuplesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamexec",
				Subsystem: "spout",
				Name:      "emitted_total",
				Help:      "Total number of tuples emitted",
			},
			[]string{"executor", "stream"},
		),

		TuplesAcked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamexec",
				Subsystem: "spout",
				Name:      "acked_total",
				Help:      "Total number of tuples acknowledged",
			},
			[]string{"executor", "stream"},
		),

		TuplesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamexec",
				Subsystem: "spout",
				Name:      "failed_total",
				Help:      "Total number of tuples failed, by reason",
			},
			[]string{"executor", "stream", "reason"},
		),

		EmptyEmitStreak: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamexec",
				Subsystem: "spout",
				Name:      "empty_emit_streak",
				Help:      "Consecutive iterations where nextTuple emitted nothing",
			},
			[]string{"executor"},
		),

		PendingCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamexec",
				Subsystem: "spout",
				Name:      "pending",
				Help:      "In-flight anchored tuples awaiting ack, fail, or timeout",
			},
			[]string{"executor"},
		),

		SkippedInactive: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamexec",
				Subsystem: "spout",
				Name:      "skipped_inactive_total",
				Help:      "Iterations skipped because the topology was inactive",
			},
			[]string{"executor"},
		),

		SkippedMaxPending: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamexec",
				Subsystem: "spout",
				Name:      "skipped_max_pending_total",
				Help:      "Iterations where nextTuple was throttled by max pending",
			},
			[]string{"executor"},
		),

		AckLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "streamexec",
				Subsystem: "spout",
				Name:      "ack_latency_seconds",
				Help:      "Sampled end-to-end latency from emit to ack",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"executor"},
		),

		RemoteBatchesFlushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamexec",
				Subsystem: "transfer",
				Name:      "remote_batches_total",
				Help:      "Total number of remote batches flushed",
			},
			[]string{"executor"},
		),

		RemoteTuplesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamexec",
				Subsystem: "transfer",
				Name:      "remote_tuples_total",
				Help:      "Total number of tuples routed to remote workers",
			},
			[]string{"executor"},
		),

		LocalTuplesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamexec",
				Subsystem: "transfer",
				Name:      "local_tuples_total",
				Help:      "Total number of tuples routed to local peer queues",
			},
			[]string{"executor"},
		),
	}
}

// RecordQueueState updates the per-queue gauges from one metrics snapshot
func (c *Metrics) RecordQueueState(queue string, capacity, population int64, arrivalRate, insertFailureRate, sojournMs float64) {
	c.QueueCapacity.WithLabelValues(queue).Set(float64(capacity))
	c.QueuePopulation.WithLabelValues(queue).Set(float64(population))
	c.QueuePctFull.WithLabelValues(queue).Set(float64(population) / float64(capacity))
	c.QueueArrivalRate.WithLabelValues(queue).Set(arrivalRate)
	c.QueueSojournTime.WithLabelValues(queue).Set(sojournMs)
	c.QueueInsertFailures.WithLabelValues(queue).Set(insertFailureRate)
}

// RecordEmitted increments the emitted tuple counter
func (c *Metrics) RecordEmitted(executor, stream string) {
	c.TuplesEmitted.WithLabelValues(executor, stream).Inc()
}

// RecordAcked increments the acked tuple counter
func (c *Metrics) RecordAcked(executor, stream string) {
	c.TuplesAcked.WithLabelValues(executor, stream).Inc()
}

// RecordFailed increments the failed tuple counter
func (c *Metrics) RecordFailed(executor, stream, reason string) {
	c.TuplesFailed.WithLabelValues(executor, stream, reason).Inc()
}

// RecordAckLatency observes one sampled emit-to-ack latency
func (c *Metrics) RecordAckLatency(executor string, latency time.Duration) {
	c.AckLatency.WithLabelValues(executor).Observe(latency.Seconds())
}

// RecordSkippedInactive counts one iteration skipped while inactive
func (c *Metrics) RecordSkippedInactive(executor string) {
	c.SkippedInactive.WithLabelValues(executor).Inc()
}

// RecordSkippedMaxPending counts one iteration throttled by max pending
func (c *Metrics) RecordSkippedMaxPending(executor string) {
	c.SkippedMaxPending.WithLabelValues(executor).Inc()
}
