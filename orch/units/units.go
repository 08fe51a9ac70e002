// Package units provides the in-process co-simulation models shipped
// with the orchestrator: a point-mass kinematics model, a waypoint
// follower, and an effector pass-through. They implement the same
// set/step/get protocol an external unit would, which makes scenarios
// runnable out of the box and gives the orchestrator tests realistic
// components to drive.
package units

import (
	"fmt"

	"github.com/lockstep-sim/lockstep-sim/orch"
)

// Register binds every builtin model into a registry under its
// builtin:// reference.
func Register(reg *orch.Registry) {
	reg.Register("builtin://pointmass", NewPointMass)
	reg.Register("builtin://waypoint", NewWaypointFollower)
	reg.Register("builtin://gain", NewGain)
}

// asFloat coerces the numeric shapes config files and JSON payloads
// produce into a float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func mustFloat(name string, v any) (float64, error) {
	f, ok := asFloat(v)
	if !ok {
		return 0, fmt.Errorf("variable %q: expected a number, got %T", name, v)
	}
	return f, nil
}

// asRecord normalizes whole-message values handed over by the router.
func asRecord(v any) (orch.Record, bool) {
	switch rec := v.(type) {
	case orch.Record:
		return rec, true
	case map[string]any:
		return orch.Record(rec), true
	default:
		return nil, false
	}
}
