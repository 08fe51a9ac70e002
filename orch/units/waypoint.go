package units

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/lockstep-sim/lockstep-sim/orch"
)

// WaypointFollower replays a fixed route at constant speed: it loads a
// JSON waypoint file at initialization, then advances along the path by
// speed * step_size each tick, interpolating linearly between fixes and
// holding position at the final one. It publishes the same
// vehicle_state shape as PointMass, with velocity pointing along the
// current leg.
type WaypointFollower struct {
	waypoints [][3]float64 // north, east, down (m)
	speed     float64      // m/s along the path

	traveled float64
	pos      [3]float64
	vel      [3]float64
}

// NewWaypointFollower builds the model; the route arrives later through
// the waypoints_json_path initial value.
func NewWaypointFollower(orch.ComponentSpec) (orch.Unit, error) {
	return &WaypointFollower{speed: 10}, nil
}

// SetValue accepts waypoints_json_path and speed_m_s. The waypoint file
// is read eagerly so a missing or malformed route fails the component's
// initialization, not its fiftieth step.
func (u *WaypointFollower) SetValue(name string, value any) error {
	switch name {
	case "waypoints_json_path":
		path, ok := value.(string)
		if !ok {
			return fmt.Errorf("waypoints_json_path: expected a string, got %T", value)
		}
		return u.loadWaypoints(path)
	case "speed_m_s":
		f, err := mustFloat(name, value)
		if err != nil {
			return err
		}
		if f <= 0 {
			return fmt.Errorf("speed_m_s must be positive, got %v", f)
		}
		u.speed = f
		return nil
	default:
		return fmt.Errorf("unknown variable %q", name)
	}
}

func (u *WaypointFollower) loadWaypoints(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading waypoints: %w", err)
	}
	var points []struct {
		North float64 `json:"north"`
		East  float64 `json:"east"`
		Down  float64 `json:"down"`
	}
	if err := json.Unmarshal(data, &points); err != nil {
		return fmt.Errorf("parsing waypoints %s: %w", path, err)
	}
	if len(points) < 2 {
		return fmt.Errorf("waypoints %s: need at least 2 points, got %d", path, len(points))
	}
	u.waypoints = u.waypoints[:0]
	for _, p := range points {
		u.waypoints = append(u.waypoints, [3]float64{p.North, p.East, p.Down})
	}
	u.pos = u.waypoints[0]
	return nil
}

// DoStep advances distance traveled and re-interpolates position along
// the route.
func (u *WaypointFollower) DoStep(_, stepSize time.Duration) error {
	if len(u.waypoints) == 0 {
		return fmt.Errorf("no waypoints loaded")
	}
	u.traveled += u.speed * stepSize.Seconds()

	remaining := u.traveled
	for i := 0; i+1 < len(u.waypoints); i++ {
		a, b := u.waypoints[i], u.waypoints[i+1]
		leg := dist(a, b)
		if remaining <= leg && leg > 0 {
			t := remaining / leg
			for k := 0; k < 3; k++ {
				u.pos[k] = a[k] + (b[k]-a[k])*t
				u.vel[k] = (b[k] - a[k]) / leg * u.speed
			}
			return nil
		}
		remaining -= leg
	}
	// Past the final fix: hold position.
	u.pos = u.waypoints[len(u.waypoints)-1]
	u.vel = [3]float64{}
	return nil
}

// GetValue serves the vehicle_state message and per-axis scalars.
func (u *WaypointFollower) GetValue(name string) (any, error) {
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

// Terminate releases nothing; the route lives in process memory.
func (u *WaypointFollower) Terminate() {}

func dist(a, b [3]float64) float64 {
	dn, de, dd := b[0]-a[0], b[1]-a[1], b[2]-a[2]
	return math.Sqrt(dn*dn + de*de + dd*dd)
}
