package metric

import (
	"sync"
	"time"
)

// RateTracker reports a rolling rate of events per second over a sliding
// window. The window is divided into equal bucket slices; Notify adds to the
// current slice and Report rotates out slices older than the window before
// computing the rate. Safe for concurrent use.
type RateTracker struct {
	mu sync.Mutex

	window     time.Duration
	sliceLen   time.Duration
	counts     []int64
	head       int
	lastRotate time.Time
	now        func() time.Time // overridable for tests
}

// NewRateTracker creates a tracker over the given window split into numSlices
// buckets. A 10s window with 10 slices matches the queue metrics cadence.
func NewRateTracker(window time.Duration, numSlices int) *RateTracker {
	if numSlices <= 0 {
		numSlices = 10
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	rt := &RateTracker{
		window:   window,
		sliceLen: window / time.Duration(numSlices),
		counts:   make([]int64, numSlices),
		now:      time.Now,
	}
	rt.lastRotate = rt.now()
	return rt
}

// Notify records count events at the current time.
func (rt *RateTracker) Notify(count int64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.rotateLocked()
	rt.counts[rt.head] += count
}

// Report returns the current rolling rate in events per second.
func (rt *RateTracker) Report() float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.rotateLocked()

	var total int64
	for _, c := range rt.counts {
		total += c
	}
	return float64(total) / rt.window.Seconds()
}

// rotateLocked advances the head past any slices older than sliceLen,
// zeroing them. Caller must hold mu.
func (rt *RateTracker) rotateLocked() {
	elapsed := rt.now().Sub(rt.lastRotate)
	if elapsed < rt.sliceLen {
		return
	}

	steps := int(elapsed / rt.sliceLen)
	if steps > len(rt.counts) {
		steps = len(rt.counts)
	}
	for i := 0; i < steps; i++ {
		rt.head = (rt.head + 1) % len(rt.counts)
		rt.counts[rt.head] = 0
	}
	rt.lastRotate = rt.lastRotate.Add(time.Duration(steps) * rt.sliceLen)
	// If we were idle for longer than the whole window, resync the epoch.
	if rt.now().Sub(rt.lastRotate) >= rt.window {
		rt.lastRotate = rt.now()
	}
}
