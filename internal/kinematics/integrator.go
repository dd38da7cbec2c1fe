// Package kinematics integrates unicycle motion for ground truth and for
// the drifting odometry estimate.
package kinematics

import (
	"math"

	"github.com/stagesim/pioneer/pkg/core"
	"gonum.org/v1/gonum/stat/distuv"
)

// HeadingError scales odometry turn increments by 1 + U(0, Max).
// Src must return values in [0, 1).
type HeadingError struct {
	Max float64
	Src func() float64
}

// Factor draws the multiplier for one odometry update. It is exactly 1
// when Max is zero or no source is configured.
func (h HeadingError) Factor() float64 {
	if h.Max == 0 || h.Src == nil {
		return 1
	}
	u := distuv.Uniform{Min: 0, Max: h.Max}
	return 1 + u.Quantile(h.Src())
}

// Integrator advances poses by one time step. Scale converts metres to
// raster units.
type Integrator struct {
	Scale float64
	Error HeadingError
}

// Step returns the tentative pose after dt seconds under cmd.
func (in Integrator) Step(p core.Pose, cmd core.VelocityCommand, dt float64) core.Pose {
	return core.Pose{
		X:       p.X + cmd.Linear*in.Scale*math.Cos(p.Heading)*dt,
		Y:       p.Y + cmd.Linear*in.Scale*math.Sin(p.Heading)*dt,
		Heading: core.NormalizeAngle(p.Heading + cmd.Angular*dt),
	}
}

// Odometry advances the dead-reckoned estimate. Translation uses the
// estimate's heading before this update.
func (in Integrator) Odometry(o core.OdometryState, cmd core.VelocityCommand, dt float64) core.OdometryState {
	k := in.Error.Factor()
	return core.OdometryState{
		X:       o.X + cmd.Linear*in.Scale*math.Cos(o.Heading)*dt,
		Y:       o.Y + cmd.Linear*in.Scale*math.Sin(o.Heading)*dt,
		Heading: core.NormalizeAngle(o.Heading + cmd.Angular*dt*k),
	}
}
