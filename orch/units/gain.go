package units

import (
	"fmt"
	"math"
	"time"

	"github.com/lockstep-sim/lockstep-sim/orch"
)

// Gain is an effector model: it scales a commanded value and clamps it
// to a symmetric limit, the shape of a control surface servo or rotor
// collective. Input arrives on the command variable (or the whole
// flight_control_command message's command field); the output is the
// effector_state message.
type Gain struct {
	gain    float64
	limit   float64 // 0 means unlimited
	command float64
	value   float64
}

// NewGain builds the model with unit gain and no limit.
func NewGain(orch.ComponentSpec) (orch.Unit, error) {
	return &Gain{gain: 1}, nil
}

// SetValue accepts gain, limit, and the command input.
func (u *Gain) SetValue(name string, value any) error {
	switch name {
	case "gain", "limit", "command":
		f, err := mustFloat(name, value)
		if err != nil {
			return err
		}
		switch name {
		case "gain":
			u.gain = f
		case "limit":
			if f < 0 {
				return fmt.Errorf("limit must be non-negative, got %v", f)
			}
			u.limit = f
		case "command":
			u.command = f
		}
		return nil
	case "flight_control_command":
		rec, ok := asRecord(value)
		if !ok {
			return fmt.Errorf("flight_control_command: expected a record, got %T", value)
		}
		if v, present := rec.Field("command"); present {
			f, err := mustFloat("command", v)
			if err != nil {
				return err
			}
			u.command = f
		}
		return nil
	default:
		return fmt.Errorf("unknown variable %q", name)
	}
}

// DoStep applies the gain and limit to the latest command.
func (u *Gain) DoStep(_, _ time.Duration) error {
	v := u.command * u.gain
	if u.limit > 0 {
		v = math.Max(-u.limit, math.Min(u.limit, v))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("effector output diverged: %v", v)
	}
	u.value = v
	return nil
}

// GetValue serves the effector_state message and the value scalar.
func (u *Gain) GetValue(name string) (any, error) {
	switch name {
	case "effector_state":
		return orch.Record{"value": u.value}, nil
	case "value":
		return u.value, nil
	default:
		return nil, fmt.Errorf("unknown variable %q", name)
	}
}

// Terminate releases nothing.
func (u *Gain) Terminate() {}
