// Package influxstorage records odometry telemetry as InfluxDB time series.
package influxstorage

import (
	"context"
	"time"

	"github.com/stagesim/pioneer/internal/influx"
	"github.com/stagesim/pioneer/pkg/core"
)

const connectTimeout = 10 * time.Second

// Backend implements storage.Backend on an influx.Manager.
type Backend struct {
	manager   *influx.Manager
	sessionID string
}

// New wraps manager. Init connects it.
func New(manager *influx.Manager) *Backend {
	return &Backend{manager: manager}
}

// Init connects, falling back to the backup file when the server is down.
func (b *Backend) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return b.manager.Connect(ctx)
}

func (b *Backend) Close() error {
	return b.manager.Close()
}

func (b *Backend) StartSession(s *core.Session) error {
	b.sessionID = s.SessionID
	return nil
}

func (b *Backend) EndSession() error {
	b.sessionID = ""
	return nil
}

func (b *Backend) RecordFrame(f *core.OdometryFrame) error {
	return b.manager.WritePoint(influx.FramePoint(f, b.sessionID))
}

func (b *Backend) RecordCollision(e *core.CollisionEvent) error {
	return b.manager.WritePoint(influx.CollisionPoint(e, b.sessionID))
}

func (b *Backend) RecordPoseEvent(e *core.PoseEvent) error {
	return b.manager.WritePoint(influx.PosePoint(e, b.sessionID))
}

func (b *Backend) RecordStatus(s *core.StatusSample) error {
	return b.manager.WritePoint(influx.StatusPoint(s, b.sessionID))
}

// Manager exposes the underlying writer for ad-hoc metrics.
func (b *Backend) Manager() *influx.Manager {
	return b.manager
}
