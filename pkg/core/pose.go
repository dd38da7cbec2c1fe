// pkg/core/pose.go
package core

import "math"

// TwoPi is one full turn in radians.
const TwoPi = 2 * math.Pi

// NormalizeAngle maps theta into [0, 2π).
// The result is idempotent: NormalizeAngle(NormalizeAngle(x)) == NormalizeAngle(x).
func NormalizeAngle(theta float64) float64 {
	r := math.Mod(theta, TwoPi)
	if r < 0 {
		r += TwoPi
	}
	// r+2π can round up to exactly 2π for tiny negative inputs
	if r >= TwoPi {
		r = 0
	}
	return r
}

// Pose is a planar position in world units plus a heading in radians.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Normalized returns a copy of p with its heading in [0, 2π).
func (p Pose) Normalized() Pose {
	p.Heading = NormalizeAngle(p.Heading)
	return p
}

// VelocityCommand holds the commanded linear (m/s) and angular (rad/s) velocity.
type VelocityCommand struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// IsZero reports whether both components are exactly zero.
func (c VelocityCommand) IsZero() bool {
	return c.Linear == 0 && c.Angular == 0
}

// OdometryState is the dead-reckoned pose estimate. It drifts from the
// ground truth when heading error injection is enabled.
type OdometryState struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Hypothesis is a single weighted pose estimate.
type Hypothesis struct {
	Mean  Pose       `json:"mean"`
	Cov   [6]float64 `json:"cov"`
	Alpha float64    `json:"alpha"`
}
