package orch

import (
	"fmt"
	"strings"
	"time"
)

// Unit is the standardized control protocol of one co-simulation model:
// set inputs, step the internal solver by exactly one step size, read
// outputs, release. The driver is the only caller and always uses the
// fixed set/step/get order, once per tick, never re-entrantly. A unit's
// internal state is a foreign resource with no safe concurrent access;
// the handle is exclusively owned by its driver and never shared.
type Unit interface {
	// SetValue applies one named input variable. Returning an error
	// rejects the value (unknown name, out of range, wrong type).
	SetValue(name string, value any) error
	// DoStep advances the unit's internal time from currentTime by
	// stepSize. An error means the step was rejected; the unit's state
	// is then unsafe to re-step and the component fails.
	DoStep(currentTime, stepSize time.Duration) error
	// GetValue reads one named output variable after a step.
	GetValue(name string) (any, error)
	// Terminate releases the unit's resources. Idempotent.
	Terminate()
}

// UnitFactory builds a unit for one component spec. The spec is handed
// through so factories can read model parameters out of initial values
// if they need construction-time configuration.
type UnitFactory func(spec ComponentSpec) (Unit, error)

// Registry resolves model references to unit factories. In-process
// models register under "builtin://<name>"; out-of-process models (real
// FMU runners, remote units) would register their own scheme. Unknown
// references fail instantiation before the run starts.
type Registry struct {
	factories map[string]UnitFactory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]UnitFactory)}
}

// Register binds a model reference (scheme and name, e.g.
// "builtin://pointmass") to a factory. Later registrations replace
// earlier ones.
func (r *Registry) Register(ref string, f UnitFactory) {
	r.factories[ref] = f
}

// Load instantiates the unit a component spec names.
func (r *Registry) Load(spec ComponentSpec) (Unit, error) {
	f, ok := r.factories[spec.ModelReference]
	if !ok {
		scheme, _, found := strings.Cut(spec.ModelReference, "://")
		if !found {
			return nil, fmt.Errorf("model reference %q has no scheme", spec.ModelReference)
		}
		return nil, fmt.Errorf("no %s model registered for %q", scheme, spec.ModelReference)
	}
	return f(spec)
}
