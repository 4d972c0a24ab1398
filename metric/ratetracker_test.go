package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateTrackerReportsRate(t *testing.T) {
	now := time.Now()
	rt := NewRateTracker(10*time.Second, 10)
	rt.now = func() time.Time { return now }
	rt.lastRotate = now

	rt.Notify(100)
	// 100 events over a 10s window.
	assert.InDelta(t, 10.0, rt.Report(), 0.001)
}

func TestRateTrackerSlidesWindow(t *testing.T) {
	now := time.Now()
	rt := NewRateTracker(10*time.Second, 10)
	rt.now = func() time.Time { return now }
	rt.lastRotate = now

	rt.Notify(100)

	// Half the window later, the events still count.
	now = now.Add(5 * time.Second)
	assert.InDelta(t, 10.0, rt.Report(), 0.001)

	// Past the full window they have rotated out.
	now = now.Add(6 * time.Second)
	assert.InDelta(t, 0.0, rt.Report(), 0.001)
}

func TestRateTrackerAccumulatesWithinSlice(t *testing.T) {
	now := time.Now()
	rt := NewRateTracker(10*time.Second, 10)
	rt.now = func() time.Time { return now }
	rt.lastRotate = now

	rt.Notify(10)
	rt.Notify(20)
	assert.InDelta(t, 3.0, rt.Report(), 0.001)
}

func TestRateTrackerIdleResync(t *testing.T) {
	now := time.Now()
	rt := NewRateTracker(10*time.Second, 10)
	rt.now = func() time.Time { return now }
	rt.lastRotate = now

	rt.Notify(50)
	// A very long idle gap must fully clear the window.
	now = now.Add(time.Hour)
	assert.InDelta(t, 0.0, rt.Report(), 0.001)
	rt.Notify(10)
	assert.InDelta(t, 1.0, rt.Report(), 0.001)
}

func TestRateTrackerDefaults(t *testing.T) {
	rt := NewRateTracker(0, 0)
	rt.Notify(5)
	assert.Greater(t, rt.Report(), 0.0)
}
