// Package wait provides pluggable idle-loop policies used when a spout emits
// nothing and when a bounded queue is full. Strategies trade latency against
// CPU burn; the executor selects one per slot from configuration.
package wait

import (
	"fmt"
	"runtime"
	"time"

	"github.com/c360/streamexec/errors"
)

// Strategy decides how a hot loop idles. Idle is called with the current
// idle-iteration count and returns the next count (usually n+1). The caller
// owns cancellation: strategies only burn or yield time, they never block
// indefinitely.
type Strategy interface {
	Idle(n int) int
}

// Strategy identifiers accepted in configuration.
const (
	IDProgressive = "progressive"
	IDSleep       = "sleep"
	IDNoOp        = "noop"
)

// New constructs the strategy registered under id with its default tuning.
func New(id string) (Strategy, error) {
	switch id {
	case IDProgressive:
		return NewProgressive(ProgressiveConfig{}), nil
	case IDSleep:
		return NewSleep(time.Millisecond), nil
	case IDNoOp:
		return NoOp{}, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown wait strategy %q", id),
			"wait", "New", "strategy lookup")
	}
}

// ProgressiveConfig tunes the three phases of the progressive strategy.
type ProgressiveConfig struct {
	// SpinCount iterations busy-spin before yielding. Default 100.
	SpinCount int
	// YieldCount iterations yield the processor before parking. Default 1000.
	YieldCount int
	// ParkBase is the first park duration; it doubles per iteration. Default 1us.
	ParkBase time.Duration
	// ParkCap bounds the park duration. Default 1ms.
	ParkCap time.Duration
}

// Progressive spins first, then yields, then parks for growing durations up
// to a cap. This keeps latency low under short stalls without burning a core
// through long ones.
type Progressive struct {
	spinCount  int
	yieldLimit int
	parkBase   time.Duration
	parkCap    time.Duration
}

// NewProgressive creates a progressive strategy, applying defaults for any
// zero field.
func NewProgressive(cfg ProgressiveConfig) *Progressive {
	if cfg.SpinCount <= 0 {
		cfg.SpinCount = 100
	}
	if cfg.YieldCount <= 0 {
		cfg.YieldCount = 1000
	}
	if cfg.ParkBase <= 0 {
		cfg.ParkBase = time.Microsecond
	}
	if cfg.ParkCap <= 0 {
		cfg.ParkCap = time.Millisecond
	}
	return &Progressive{
		spinCount:  cfg.SpinCount,
		yieldLimit: cfg.SpinCount + cfg.YieldCount,
		parkBase:   cfg.ParkBase,
		parkCap:    cfg.ParkCap,
	}
}

// Idle advances one idle iteration: spin, yield, or park by phase.
func (p *Progressive) Idle(n int) int {
	switch {
	case n < p.spinCount:
		// busy spin
	case n < p.yieldLimit:
		runtime.Gosched()
	default:
		park := p.parkBase << uint(min(n-p.yieldLimit, 30))
		if park <= 0 || park > p.parkCap {
			park = p.parkCap
		}
		time.Sleep(park)
	}
	return n + 1
}

// Sleep sleeps a fixed duration on every idle iteration.
type Sleep struct {
	interval time.Duration
}

// NewSleep creates a constant-sleep strategy.
func NewSleep(interval time.Duration) *Sleep {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Sleep{interval: interval}
}

// Idle sleeps the configured interval.
func (s *Sleep) Idle(n int) int {
	time.Sleep(s.interval)
	return n + 1
}

// NoOp returns immediately. Useful for benchmarks and tests that drive the
// loop themselves.
type NoOp struct{}

// Idle returns without yielding.
func (NoOp) Idle(n int) int {
	return n + 1
}
