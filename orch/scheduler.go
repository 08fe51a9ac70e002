package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RunState is the orchestrator's lifecycle. Stopped and Failed are
// terminal; a run is never resumed.
type RunState int

const (
	RunIdle RunState = iota
	RunConfiguring
	RunRunning
	RunStopped
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunConfiguring:
		return "configuring"
	case RunRunning:
		return "running"
	case RunStopped:
		return "stopped"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultBarrierTimeout bounds how long the barrier waits for a due sync
// topic before declaring the run inconsistent.
const DefaultBarrierTimeout = 5 * time.Second

// barrierPollInterval is how often the barrier re-checks topic snapshots
// while waiting. Snapshot reads are cheap local lookups, so polling
// tightly keeps per-tick latency low without any cross-driver signaling.
const barrierPollInterval = 200 * time.Microsecond

// Options configures an Orchestrator beyond what the scenario declares.
type Options struct {
	// Ticks is the configured run length.
	Ticks uint64
	// BarrierTimeout bounds each barrier wait; zero means
	// DefaultBarrierTimeout.
	BarrierTimeout time.Duration
	// Bus carries all inter-component traffic; nil means a fresh
	// in-process MemoryBus.
	Bus Bus
	// Registry resolves model references; required.
	Registry *Registry
	// Metrics receives run statistics; nil means a fresh aggregate
	// with no Prometheus collector.
	Metrics *Metrics
}

// Orchestrator owns the tick loop: it drives every component's step
// cycle, holds the synchronization barrier until all due sync topics
// carry the current tick's sim time, and only then lets the clock
// advance. It is the sole arbiter of global progress; drivers never
// wait on each other directly, which is what keeps the component graph
// deadlock-free.
type Orchestrator struct {
	scenario *Scenario
	clock    *Clock
	bus      Bus
	drivers  []*Driver
	metrics  *Metrics

	ticks          uint64
	barrierTimeout time.Duration

	state RunState
}

// New builds an orchestrator from a validated scenario: one router and
// driver per component, a shared clock, and the barrier's sync topic
// set. Configuration errors surface here, before Run is ever entered.
func New(sc *Scenario, opts Options) (*Orchestrator, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	bus := opts.Bus
	if bus == nil {
		bus = NewMemoryBus()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	timeout := opts.BarrierTimeout
	if timeout == 0 {
		timeout = DefaultBarrierTimeout
	}

	o := &Orchestrator{
		scenario:       sc,
		clock:          NewClock(sc.Clock.StepSize(), sc.Clock.Mode()),
		bus:            &countingBus{bus: bus, metrics: metrics},
		metrics:        metrics,
		ticks:          opts.Ticks,
		barrierTimeout: timeout,
		state:          RunIdle,
	}
	for _, spec := range sc.Components {
		router, err := NewRouter(spec)
		if err != nil {
			return nil, err
		}
		o.drivers = append(o.drivers, NewDriver(spec, router, o.bus, opts.Registry, o.clock.StepSize()))
	}
	return o, nil
}

// State returns the orchestrator's lifecycle state.
func (o *Orchestrator) State() RunState { return o.state }

// Clock exposes the run's clock for observation.
func (o *Orchestrator) Clock() *Clock { return o.clock }

// Drivers exposes the component drivers for observation.
func (o *Orchestrator) Drivers() []*Driver { return o.drivers }

// Run executes the whole lifecycle: instantiate and initialize every
// component, then the tick loop until the configured run length, a
// fatal failure, or cancellation. Every component is terminated on every
// exit path. A cancelled run ends Stopped and returns the context's
// error; SyncTimeout and StepFailure end Failed with the typed error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.state = RunConfiguring
	defer func() {
		for _, d := range o.drivers {
			d.Terminate()
		}
	}()

	for _, d := range o.drivers {
		if err := d.Instantiate(); err != nil {
			o.state = RunFailed
			return err
		}
		if err := d.Initialize(); err != nil {
			o.state = RunFailed
			return err
		}
	}

	o.clock.Start(time.Now())
	o.state = RunRunning
	logrus.Infof("run started: %d components, %d sync topics, step %v, %d ticks",
		len(o.drivers), len(o.scenario.Orchestrator.SyncTopics), o.clock.StepSize(), o.ticks)

	for o.clock.TickCount() < o.ticks {
		// Cancellation is observed between ticks; an in-flight native
		// step always completes before teardown.
		if err := ctx.Err(); err != nil {
			o.state = RunStopped
			return err
		}

		tick := o.clock.TickCount()
		simTime := o.clock.SimTime()

		if err := o.stepAll(ctx, tick, simTime); err != nil {
			o.state = RunFailed
			return err
		}
		if err := o.awaitBarrier(ctx, tick, simTime); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				o.state = RunStopped
			} else {
				o.state = RunFailed
			}
			return err
		}
		if err := o.clock.Pace(ctx); err != nil {
			o.state = RunStopped
			return err
		}
		o.clock.Advance()
		o.metrics.TickCompleted()
	}

	o.state = RunStopped
	logrus.Infof("run complete: %d ticks, sim time %v", o.clock.TickCount(), o.clock.SimTime())
	return nil
}

// stepAll fans the tick's step cycle out across the drivers, one
// goroutine each. Drivers share no mutable state except the bus, so the
// only coordination needed is waiting for all of them to finish.
func (o *Orchestrator) stepAll(ctx context.Context, tick uint64, simTime time.Duration) error {
	if len(o.drivers) == 1 {
		return o.drivers[0].Step(ctx, tick, simTime)
	}
	var wg sync.WaitGroup
	errs := make([]error, len(o.drivers))
	for i, d := range o.drivers {
		wg.Add(1)
		go func(i int, d *Driver) {
			defer wg.Done()
			errs[i] = d.Step(ctx, tick, simTime)
		}(i, d)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// awaitBarrier blocks until every sync topic due at this tick carries
// the tick's sim time, bounded by the barrier timeout. A topic is due
// when its declared interval divides the tick's sim time evenly; the
// validator already guaranteed intervals align with the step size. On
// timeout the run halts; advancing on stale data would silently break
// the time consistency every downstream consumer depends on.
func (o *Orchestrator) awaitBarrier(ctx context.Context, tick uint64, simTime time.Duration) error {
	due := due(o.scenario.Orchestrator.SyncTopics, simTime)
	if len(due) == 0 {
		return nil
	}

	start := time.Now()
	deadline := time.NewTimer(o.barrierTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(barrierPollInterval)
	defer poll.Stop()

	pending := make(map[string]bool, len(due))
	for _, topic := range due {
		pending[topic] = true
	}

	for {
		for topic := range pending {
			env, ok := o.bus.Latest(topic)
			// Per-topic delivery is ordered, so seeing simTime (or
			// anything after it) means the due message was produced;
			// duplicate redelivery of an old sim time never satisfies
			// the barrier.
			if ok && env.SimTime >= simTime {
				delete(pending, topic)
				o.metrics.SyncArrival(topic)
			}
		}
		if len(pending) == 0 {
			o.metrics.BarrierWait(time.Since(start))
			return nil
		}

		select {
		case <-poll.C:
		case <-deadline.C:
			topic := due[0]
			for _, t := range due {
				if pending[t] {
					topic = t
					break
				}
			}
			o.metrics.SyncTimeout(topic)
			return &SyncTimeoutError{Topic: topic, Component: o.scenario.PublisherOf(topic), Tick: tick}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// due returns the sync topics whose interval divides simTime evenly, in
// declaration order.
func due(specs []SyncTopicSpec, simTime time.Duration) []string {
	var topics []string
	for _, st := range specs {
		if simTime%st.Interval() == 0 {
			topics = append(topics, st.Topic)
		}
	}
	return topics
}

// countingBus decorates the run's bus so publish volume shows up in the
// metrics without the drivers knowing about metering.
type countingBus struct {
	bus     Bus
	metrics *Metrics
}

func (b *countingBus) Publish(ctx context.Context, topic string, simTime time.Duration, payload Record) error {
	if err := b.bus.Publish(ctx, topic, simTime, payload); err != nil {
		return err
	}
	b.metrics.Published(1)
	return nil
}

func (b *countingBus) Latest(topic string) (Envelope, bool) {
	return b.bus.Latest(topic)
}
