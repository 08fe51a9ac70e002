package orch

import (
	"context"
	"testing"
	"time"
)

func TestClock_SimTime_ExactMultipleOfStep(t *testing.T) {
	// GIVEN a 20ms clock
	c := NewClock(20*time.Millisecond, PaceFastAsPossible)

	// WHEN it advances one million ticks
	for i := 0; i < 1_000_000; i++ {
		c.Advance()
	}

	// THEN sim time is exactly tick_count * step_size, no drift
	if got, want := c.SimTime(), time.Duration(1_000_000)*20*time.Millisecond; got != want {
		t.Errorf("SimTime: got %v, want %v", got, want)
	}
	if c.TickCount() != 1_000_000 {
		t.Errorf("TickCount: got %d, want 1000000", c.TickCount())
	}
}

func TestClock_Advance_OneStepPerTick(t *testing.T) {
	// GIVEN a clock at tick zero
	c := NewClock(5*time.Millisecond, PaceFastAsPossible)

	// THEN every advance moves sim time by exactly one step
	for i := 1; i <= 10; i++ {
		c.Advance()
		if got, want := c.SimTime(), time.Duration(i)*5*time.Millisecond; got != want {
			t.Fatalf("after %d advances: got %v, want %v", i, got, want)
		}
	}
}

func TestClock_Pace_FastAsPossible_ReturnsImmediately(t *testing.T) {
	// GIVEN an unpaced clock far ahead of wall time
	c := NewClock(time.Hour, PaceFastAsPossible)
	c.Start(time.Now())
	c.Advance()

	// WHEN Pace is called
	start := time.Now()
	if err := c.Pace(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// THEN it does not block
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Pace blocked for %v in fast-as-possible mode", elapsed)
	}
}

func TestClock_Pace_RealTime_DeadlineFromFixedAnchor(t *testing.T) {
	// GIVEN a real-time clock whose start anchor is in the past,
	// simulating a run that fell behind wall clock
	c := NewClock(10*time.Millisecond, PaceRealTime)
	c.Start(time.Now().Add(-time.Second))
	c.Advance()

	// WHEN Pace is called for a deadline that already passed
	start := time.Now()
	if err := c.Pace(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// THEN it returns immediately; the backlog is absorbed, not slept off
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Pace slept %v for an elapsed deadline", elapsed)
	}
}

func TestClock_Pace_RealTime_WaitsForDeadline(t *testing.T) {
	// GIVEN a real-time clock one tick ahead of wall clock
	c := NewClock(30*time.Millisecond, PaceRealTime)
	c.Start(time.Now())
	c.Advance()

	// WHEN Pace is called
	start := time.Now()
	if err := c.Pace(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// THEN it held until roughly the tick's deadline
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Pace returned after %v, expected ~30ms hold", elapsed)
	}
}

func TestClock_Pace_Cancelled(t *testing.T) {
	// GIVEN a real-time clock with a deadline far in the future
	c := NewClock(time.Hour, PaceRealTime)
	c.Start(time.Now())
	c.Advance()
	ctx, cancel := context.WithCancel(context.Background())

	// WHEN the run is cancelled mid-wait
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := c.Pace(ctx)

	// THEN Pace returns the context error instead of sleeping out the hour
	if err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
