// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"

	"github.com/stagesim/pioneer/internal/geo"
	"github.com/stagesim/pioneer/internal/model"
	"github.com/stagesim/pioneer/pkg/core"
	"gorm.io/datatypes"
)

// covToJSON converts a covariance to datatypes.JSON for DB storage.
func covToJSON(cov [6]float64) datatypes.JSON {
	data, _ := json.Marshal(cov)
	return datatypes.JSON(data)
}

// queueLengthsToJSON converts queue lengths to datatypes.JSON for DB storage.
func queueLengthsToJSON(q map[string]int) datatypes.JSON {
	if len(q) == 0 {
		return datatypes.JSON("{}")
	}
	data, _ := json.Marshal(q)
	return datatypes.JSON(data)
}

// CoreToSession converts a core.Session to a GORM model.Session.
// core.Session.ID maps to the gorm primary key.
func CoreToSession(s core.Session) (model.Session, error) {
	origin, err := geo.PosePoint(s.Origin)
	if err != nil {
		return model.Session{}, err
	}
	m := model.Session{
		SessionID:       s.SessionID,
		DeviceID:        s.DeviceID,
		StartTime:       s.StartTime,
		MapFile:         s.MapFile,
		Scale:           s.Scale,
		TimeStepMs:      s.TimeStep.Milliseconds(),
		MaxAngularError: s.MaxAngularError,
		Width:           s.Width,
		Length:          s.Length,
		Origin:          origin,
		OriginHeading:   s.Origin.Heading,
		Tag:             s.Tag,
	}
	m.ID = s.ID
	return m, nil
}

// CoreToOdometryFrame converts a core.OdometryFrame to a GORM model.OdometryFrame.
func CoreToOdometryFrame(f core.OdometryFrame, sessionID uint) (model.OdometryFrame, error) {
	pos, err := geo.PosePoint(f.Pose)
	if err != nil {
		return model.OdometryFrame{}, err
	}
	fp, err := geo.FootprintPolygon(f.Footprint)
	if err != nil {
		return model.OdometryFrame{}, err
	}
	return model.OdometryFrame{
		Time:        f.Time,
		SessionID:   sessionID,
		Tick:        f.Tick,
		ElapsedMs:   f.ElapsedMs,
		Position:    pos,
		Heading:     f.Pose.Heading,
		OdomX:       f.Odometry.X,
		OdomY:       f.Odometry.Y,
		OdomHeading: f.Odometry.Heading,
		Linear:      f.Command.Linear,
		Angular:     f.Command.Angular,
		Stall:       f.Stall,
		Footprint:   fp,
		Packet:      f.Packet,
	}, nil
}

// CoreToCollisionEvent converts a core.CollisionEvent to a GORM model.CollisionEvent.
func CoreToCollisionEvent(e core.CollisionEvent, sessionID uint) (model.CollisionEvent, error) {
	from, err := geo.PosePoint(e.From)
	if err != nil {
		return model.CollisionEvent{}, err
	}
	attempted, err := geo.PosePoint(e.Attempted)
	if err != nil {
		return model.CollisionEvent{}, err
	}
	fp, err := geo.FootprintPolygon(e.Footprint)
	if err != nil {
		return model.CollisionEvent{}, err
	}
	return model.CollisionEvent{
		Time:             e.Time,
		SessionID:        sessionID,
		Tick:             e.Tick,
		From:             from,
		FromHeading:      e.From.Heading,
		Attempted:        attempted,
		AttemptedHeading: e.Attempted.Heading,
		Footprint:        fp,
	}, nil
}

// CoreToPoseEvent converts a core.PoseEvent to a GORM model.PoseEvent.
func CoreToPoseEvent(e core.PoseEvent, sessionID uint) (model.PoseEvent, error) {
	pos, err := geo.PosePoint(e.Pose)
	if err != nil {
		return model.PoseEvent{}, err
	}
	return model.PoseEvent{
		Time:      e.Time,
		SessionID: sessionID,
		Tick:      e.Tick,
		Kind:      e.Kind,
		Position:  pos,
		Heading:   e.Pose.Heading,
		Cov:       covToJSON(e.Cov),
		Alpha:     e.Alpha,
	}, nil
}

// CoreToStatusSample converts a core.StatusSample to a GORM model.StatusSample.
func CoreToStatusSample(s core.StatusSample, sessionID uint) model.StatusSample {
	return model.StatusSample{
		Time:         s.Time,
		SessionID:    sessionID,
		Ticks:        s.Ticks,
		Stalls:       s.Stalls,
		Collisions:   s.Collisions,
		Devices:      s.Devices,
		QueueLengths: queueLengthsToJSON(s.QueueLengths),
	}
}
