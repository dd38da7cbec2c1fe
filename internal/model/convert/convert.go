package convert

import (
	"encoding/json"
	"image"
	"time"

	"github.com/stagesim/pioneer/internal/geo"
	"github.com/stagesim/pioneer/internal/model"
	"github.com/stagesim/pioneer/pkg/core"
)

// SessionToCore converts a GORM model.Session to a core.Session
func SessionToCore(s model.Session) core.Session {
	return core.Session{
		ID:              s.ID,
		SessionID:       s.SessionID,
		DeviceID:        s.DeviceID,
		StartTime:       s.StartTime,
		MapFile:         s.MapFile,
		Scale:           s.Scale,
		TimeStep:        time.Duration(s.TimeStepMs) * time.Millisecond,
		MaxAngularError: s.MaxAngularError,
		Width:           s.Width,
		Length:          s.Length,
		Origin:          geo.PointToPose(s.Origin, s.OriginHeading),
		Tag:             s.Tag,
	}
}

// OdometryFrameToCore converts a GORM model.OdometryFrame to a core.OdometryFrame.
// A footprint that cannot be read back is left zero.
func OdometryFrameToCore(f model.OdometryFrame, deviceID string) core.OdometryFrame {
	pose := geo.PointToPose(f.Position, f.Heading)
	fp, _ := geo.FootprintFromGeometry(f.Footprint.AsGeometry(), image.Pt(int(pose.X), int(pose.Y)))
	return core.OdometryFrame{
		DeviceID:  deviceID,
		Tick:      f.Tick,
		Time:      f.Time,
		ElapsedMs: f.ElapsedMs,
		Pose:      pose,
		Odometry: core.OdometryState{
			X:       f.OdomX,
			Y:       f.OdomY,
			Heading: f.OdomHeading,
		},
		Command: core.VelocityCommand{
			Linear:  f.Linear,
			Angular: f.Angular,
		},
		Stall:     f.Stall,
		Footprint: fp,
		Packet:    f.Packet,
	}
}

// CollisionEventToCore converts a GORM model.CollisionEvent to a core.CollisionEvent
func CollisionEventToCore(e model.CollisionEvent, deviceID string) core.CollisionEvent {
	from := geo.PointToPose(e.From, e.FromHeading)
	fp, _ := geo.FootprintFromGeometry(e.Footprint.AsGeometry(), image.Pt(int(from.X), int(from.Y)))
	return core.CollisionEvent{
		DeviceID:  deviceID,
		Tick:      e.Tick,
		Time:      e.Time,
		From:      from,
		Attempted: geo.PointToPose(e.Attempted, e.AttemptedHeading),
		Footprint: fp,
	}
}

// PoseEventToCore converts a GORM model.PoseEvent to a core.PoseEvent
func PoseEventToCore(e model.PoseEvent, deviceID string) core.PoseEvent {
	var cov [6]float64
	if len(e.Cov) > 0 {
		_ = json.Unmarshal(e.Cov, &cov)
	}
	return core.PoseEvent{
		DeviceID: deviceID,
		Tick:     e.Tick,
		Time:     e.Time,
		Kind:     e.Kind,
		Pose:     geo.PointToPose(e.Position, e.Heading),
		Cov:      cov,
		Alpha:    e.Alpha,
	}
}

// StatusSampleToCore converts a GORM model.StatusSample to a core.StatusSample
func StatusSampleToCore(s model.StatusSample) core.StatusSample {
	var queues map[string]int
	if len(s.QueueLengths) > 0 {
		_ = json.Unmarshal(s.QueueLengths, &queues)
	}
	return core.StatusSample{
		Time:         s.Time,
		Ticks:        s.Ticks,
		Stalls:       s.Stalls,
		Collisions:   s.Collisions,
		Devices:      s.Devices,
		QueueLengths: queues,
	}
}
