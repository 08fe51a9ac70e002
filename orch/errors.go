package orch

import "fmt"

// The orchestrator's failure taxonomy. Every fatal condition carries the
// component, topic, or tick it happened at so a halted run can be diagnosed
// without log archaeology. None of these are retried: re-stepping a stateful
// native unit after its internal clock has moved is unsafe, and a missed
// sync window is a real timing fault the operator has to address.

// ConfigError reports a scenario that cannot produce a consistent run.
// Raised at load time, before the orchestrator enters Running.
type ConfigError struct {
	Field  string // dotted path into the scenario, e.g. "components[1].aux_input_mapping"
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid scenario: %s: %s", e.Field, e.Reason)
}

// InstantiationError means a component's model reference could not be
// resolved into a live co-simulation unit.
type InstantiationError struct {
	Component string
	ModelRef  string
	Err       error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("component %s: instantiating %q: %v", e.Component, e.ModelRef, e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// InitializationError means a unit rejected one of its declared initial
// values (out of range, unknown variable, wrong type).
type InitializationError struct {
	Component string
	Variable  string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("component %s: initial value %q rejected: %v", e.Component, e.Variable, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// MissingFieldError is a schema mismatch: the mapped topic has a message,
// but the message lacks the field an aux mapping names. This is distinct
// from the topic having no message at all, which is a timing condition the
// scheduler owns.
type MissingFieldError struct {
	Component string
	Topic     string
	Field     string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("component %s: topic %s has no field %q", e.Component, e.Topic, e.Field)
}

// StepFailureError means the native unit rejected a step (solver
// divergence, numerical error). The component is left in Failed state and
// the run halts; the unit's internal time may already have advanced, so the
// step is never reissued.
type StepFailureError struct {
	Component string
	Tick      uint64
	Err       error
}

func (e *StepFailureError) Error() string {
	return fmt.Sprintf("component %s: step failed at tick %d: %v", e.Component, e.Tick, e.Err)
}

func (e *StepFailureError) Unwrap() error { return e.Err }

// SyncTimeoutError means a sync topic that was due at a tick never produced
// a message carrying that tick's sim time within the barrier timeout.
type SyncTimeoutError struct {
	Topic     string
	Component string // publisher of the topic, when the scenario declares one
	Tick      uint64
}

func (e *SyncTimeoutError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("sync topic %s (published by %s) missed tick %d", e.Topic, e.Component, e.Tick)
	}
	return fmt.Sprintf("sync topic %s missed tick %d", e.Topic, e.Tick)
}
