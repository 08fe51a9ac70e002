package units

import (
	"fmt"
	"time"

	"github.com/lockstep-sim/lockstep-sim/orch"
)

// PointMass is a 3-DoF kinematic vehicle model: it integrates commanded
// NED velocity into position, one step size at a time. Inputs arrive
// either as the whole flight_control_command message or as individual
// velocity_* variables through aux mappings; the output is the
// vehicle_state message consumed by renderers and sensors.
type PointMass struct {
	pos [3]float64 // north, east, down (m)
	vel [3]float64 // commanded velocity (m/s)
}

// NewPointMass builds the model; position and velocity start at the
// origin until initial values say otherwise.
func NewPointMass(orch.ComponentSpec) (orch.Unit, error) {
	return &PointMass{}, nil
}

var pointMassAxes = map[string]int{"north": 0, "east": 1, "down": 2}

// SetValue accepts position_*/velocity_* scalars and the whole
// flight_control_command record with a nested velocity block.
func (u *PointMass) SetValue(name string, value any) error {
	if name == "flight_control_command" {
		rec, ok := asRecord(value)
		if !ok {
			return fmt.Errorf("flight_control_command: expected a record, got %T", value)
		}
		for axis, i := range pointMassAxes {
			if v, present := rec.Field("velocity." + axis); present {
				f, err := mustFloat("velocity."+axis, v)
				if err != nil {
					return err
				}
				u.vel[i] = f
			}
		}
		return nil
	}
	for axis, i := range pointMassAxes {
		switch name {
		case "position_" + axis:
			f, err := mustFloat(name, value)
			if err != nil {
				return err
			}
			u.pos[i] = f
			return nil
		case "velocity_" + axis:
			f, err := mustFloat(name, value)
			if err != nil {
				return err
			}
			u.vel[i] = f
			return nil
		}
	}
	return fmt.Errorf("unknown variable %q", name)
}

// DoStep integrates position by one step of commanded velocity.
func (u *PointMass) DoStep(_, stepSize time.Duration) error {
	dt := stepSize.Seconds()
	for i := range u.pos {
		u.pos[i] += u.vel[i] * dt
	}
	return nil
}

// GetValue serves the vehicle_state message and the individual scalars
// aux output mappings pick at.
func (u *PointMass) GetValue(name string) (any, error) {
	switch name {
	case "vehicle_state":
		return orch.Record{
			"position": map[string]any{"north": u.pos[0], "east": u.pos[1], "down": u.pos[2]},
			"velocity": map[string]any{"north": u.vel[0], "east": u.vel[1], "down": u.vel[2]},
		}, nil
	}
	for axis, i := range pointMassAxes {
		switch name {
		case "position_" + axis:
			return u.pos[i], nil
		case "velocity_" + axis:
			return u.vel[i], nil
		}
	}
	return nil, fmt.Errorf("unknown variable %q", name)
}

// Terminate releases nothing; the model holds no foreign resources.
func (u *PointMass) Terminate() {}
