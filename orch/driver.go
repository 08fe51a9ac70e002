package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DriverState is the lifecycle state of one component instance.
type DriverState int

const (
	Uninitialized DriverState = iota
	Instantiated
	Initialized
	Stepping
	Terminated
	Failed
)

func (s DriverState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Instantiated:
		return "instantiated"
	case Initialized:
		return "initialized"
	case Stepping:
		return "stepping"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Driver owns one component instance: the exclusively-held unit handle,
// its lifecycle, and the per-tick step cycle of gather inputs, step the
// unit, publish outputs. Drivers never wait on each other; the only
// cross-component wait in the system is the scheduler's barrier.
type Driver struct {
	spec     ComponentSpec
	router   *Router
	bus      Bus
	registry *Registry
	stepSize time.Duration

	unit  Unit
	state DriverState

	// cursors track the freshest sim time observed per input topic, so
	// duplicate broker delivery of a (topic, sim_time) pair never looks
	// like new data.
	cursors map[string]*Cursor

	// lastKnown holds the most recent value per input variable, seeded
	// from declared initial values. A topic that has not published yet
	// falls back to this, which is what lets slower producers coexist
	// with faster consumers.
	lastKnown map[string]any
}

// NewDriver wires a driver for one component. The unit itself is not
// created until Instantiate.
func NewDriver(spec ComponentSpec, router *Router, bus Bus, registry *Registry, stepSize time.Duration) *Driver {
	d := &Driver{
		spec:      spec,
		router:    router,
		bus:       bus,
		registry:  registry,
		stepSize:  stepSize,
		cursors:   make(map[string]*Cursor),
		lastKnown: make(map[string]any),
	}
	for _, topic := range router.Topics() {
		d.cursors[topic] = &Cursor{}
	}
	for _, variable := range router.InputVariables() {
		if v, ok := spec.InitialValues[variable]; ok {
			d.lastKnown[variable] = v
		}
	}
	return d
}

// ID returns the component id.
func (d *Driver) ID() string { return d.spec.ID }

// State returns the current lifecycle state.
func (d *Driver) State() DriverState { return d.state }

// Instantiate creates the native unit from the component's model
// reference. Uninitialized -> Instantiated, or Failed with an
// InstantiationError when the model cannot be loaded.
func (d *Driver) Instantiate() error {
	if d.state != Uninitialized {
		return &InstantiationError{Component: d.spec.ID, ModelRef: d.spec.ModelReference,
			Err: errStatef("instantiate from %s", d.state)}
	}
	unit, err := d.registry.Load(d.spec)
	if err != nil {
		d.state = Failed
		return &InstantiationError{Component: d.spec.ID, ModelRef: d.spec.ModelReference, Err: err}
	}
	d.unit = unit
	d.state = Instantiated
	logrus.Debugf("component %s: instantiated %s", d.spec.ID, d.spec.ModelReference)
	return nil
}

// Initialize applies the component's declared initial values to the
// unit. Instantiated -> Initialized, or Failed with an
// InitializationError on a rejected value.
func (d *Driver) Initialize() error {
	if d.state != Instantiated {
		return &InitializationError{Component: d.spec.ID,
			Err: errStatef("initialize from %s", d.state)}
	}
	for _, name := range sortedKeys(d.spec.InitialValues) {
		if err := d.unit.SetValue(name, d.spec.InitialValues[name]); err != nil {
			d.state = Failed
			return &InitializationError{Component: d.spec.ID, Variable: name, Err: err}
		}
	}
	d.state = Initialized
	logrus.Debugf("component %s: initialized with %d values", d.spec.ID, len(d.spec.InitialValues))
	return nil
}

// Step runs one step cycle for a tick: gather inputs from the bus
// through the router, apply them, advance the unit by exactly one step
// size, read its outputs, and publish one message per output rule tagged
// with the tick's sim time. A rejected native step leaves the component
// Failed; it is never retried, because the unit's internal time may
// already have moved.
func (d *Driver) Step(ctx context.Context, tick uint64, simTime time.Duration) error {
	if d.state != Initialized && d.state != Stepping {
		return &StepFailureError{Component: d.spec.ID, Tick: tick,
			Err: errStatef("step from %s", d.state)}
	}

	gathered, err := d.router.GatherInputs(d.observe)
	if err != nil {
		d.state = Failed
		return err
	}
	for variable, value := range gathered {
		d.lastKnown[variable] = value
	}
	for _, variable := range sortedKeys(d.lastKnown) {
		if err := d.unit.SetValue(variable, d.lastKnown[variable]); err != nil {
			d.state = Failed
			return &StepFailureError{Component: d.spec.ID, Tick: tick, Err: err}
		}
	}

	if err := d.unit.DoStep(simTime, d.stepSize); err != nil {
		d.state = Failed
		return &StepFailureError{Component: d.spec.ID, Tick: tick, Err: err}
	}
	d.state = Stepping

	outputs := make(map[string]any)
	for _, variable := range d.router.OutputVariables() {
		v, err := d.unit.GetValue(variable)
		if err != nil {
			d.state = Failed
			return &StepFailureError{Component: d.spec.ID, Tick: tick, Err: err}
		}
		outputs[variable] = v
	}

	for _, env := range d.router.ScatterOutputs(outputs, simTime) {
		if err := d.bus.Publish(ctx, env.Topic, env.SimTime, env.Payload); err != nil {
			d.state = Failed
			return &StepFailureError{Component: d.spec.ID, Tick: tick, Err: err}
		}
	}
	logrus.Debugf("[tick %07d] component %s stepped", tick, d.spec.ID)
	return nil
}

// observe adapts the bus snapshot for the router while keeping the
// per-topic cursors current. Stale or duplicated snapshots still resolve
// to the same latest message, so reapplying them is a no-op by value.
func (d *Driver) observe(topic string) (Envelope, bool) {
	env, ok := d.bus.Latest(topic)
	if !ok {
		return Envelope{}, false
	}
	if c, tracked := d.cursors[topic]; tracked {
		c.Observe(env.SimTime)
	}
	return env, true
}

// Terminate releases the unit on any exit path. Idempotent; a Failed
// component stays Failed for diagnosis, everything else becomes
// Terminated.
func (d *Driver) Terminate() {
	if d.unit != nil {
		d.unit.Terminate()
		d.unit = nil
		logrus.Debugf("component %s: terminated", d.spec.ID)
	}
	if d.state != Failed {
		d.state = Terminated
	}
}

func errStatef(format string, args ...any) error {
	return fmt.Errorf("invalid transition: "+format, args...)
}
