package orch

import (
	"context"
	"time"
)

// PacingMode describes how the clock relates simulation time to wall time.
type PacingMode int

const (
	// PaceFastAsPossible advances as quickly as the tick loop can run.
	PaceFastAsPossible PacingMode = iota
	// PaceRealTime holds each tick until wall clock catches up with
	// simulation time, giving 1x playback.
	PaceRealTime
)

// Clock owns the shared virtual time of a run: a monotonic tick counter
// and a fixed step size. Simulation time is always the exact product
// tick_count * step_size; integer arithmetic, so a million ticks of
// 20ms is exactly 20000s with no float drift. The clock is never rewound
// and ticks are never skipped or merged.
type Clock struct {
	tickCount uint64
	stepSize  time.Duration
	mode      PacingMode

	// start anchors pacing deadlines. Each tick's deadline is
	// start + tick_count*step_size, computed from this fixed anchor
	// rather than from "now", so one slow tick does not push every
	// later deadline back (no cumulative drift).
	start time.Time
}

// NewClock builds a clock at tick zero. stepSize must be positive; the
// scenario validator enforces that before a clock is ever constructed.
func NewClock(stepSize time.Duration, mode PacingMode) *Clock {
	return &Clock{stepSize: stepSize, mode: mode}
}

// Start records the wall-clock anchor for real-time pacing. Called once
// when the orchestrator enters its tick loop.
func (c *Clock) Start(now time.Time) {
	c.start = now
}

// TickCount returns the number of completed ticks.
func (c *Clock) TickCount() uint64 { return c.tickCount }

// StepSize returns the fixed per-tick advance.
func (c *Clock) StepSize() time.Duration { return c.stepSize }

// SimTime returns the current simulation time, tick_count * step_size.
func (c *Clock) SimTime() time.Duration {
	return time.Duration(c.tickCount) * c.stepSize
}

// Advance moves the clock forward by exactly one tick.
func (c *Clock) Advance() {
	c.tickCount++
}

// Pace blocks until wall clock reaches this tick's deadline when the mode
// is PaceRealTime; under PaceFastAsPossible it returns immediately. The
// deadline for tick n is start + n*step_size. Returns early with the
// context's error if the run is cancelled mid-wait.
func (c *Clock) Pace(ctx context.Context) error {
	if c.mode != PaceRealTime {
		return nil
	}
	deadline := c.start.Add(time.Duration(c.tickCount) * c.stepSize)
	wait := time.Until(deadline)
	if wait <= 0 {
		// Behind wall clock; the next deadline still comes off the
		// fixed anchor, so the backlog is absorbed, not compounded.
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
