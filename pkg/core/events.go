// pkg/core/events.go
package core

import (
	"time"
)

// OdometryFrame is the state of one device after a simulator tick.
type OdometryFrame struct {
	DeviceID  string
	Tick      uint64
	Time      time.Time
	ElapsedMs int64
	Pose      Pose
	Odometry  OdometryState
	Command   VelocityCommand
	Stall     bool
	Footprint Footprint
	Packet    []byte
}

// CollisionEvent records a rejected move.
type CollisionEvent struct {
	DeviceID  string
	Tick      uint64
	Time      time.Time
	From      Pose
	Attempted Pose
	Footprint Footprint
}

// PoseEvent kinds.
const (
	PoseEventSetPose    = "set_pose"
	PoseEventHypothesis = "hypothesis"
)

// PoseEvent records a localize interaction: a teleport or a published hypothesis.
type PoseEvent struct {
	DeviceID string
	Tick     uint64
	Time     time.Time
	Kind     string
	Pose     Pose
	Cov      [6]float64
	Alpha    float64
}

// StatusSample is a periodic snapshot of simulator health.
type StatusSample struct {
	Time  time.Time
	Ticks uint64
	// Stalls counts transitions into the stalled state; a body pressed
	// against a wall for many ticks is one stall and many collisions.
	Stalls       uint64
	Collisions   uint64
	Devices      int
	QueueLengths map[string]int
}
