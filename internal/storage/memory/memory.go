// internal/storage/memory/memory.go
package memory

import (
	"sync"

	"github.com/stagesim/pioneer/internal/config"
	"github.com/stagesim/pioneer/pkg/core"
)

// Backend keeps a session in memory and exports it to JSON (and optionally CSV) when it ends
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	frames     []core.OdometryFrame
	collisions []core.CollisionEvent
	poseEvents []core.PoseEvent
	statuses   []core.StatusSample

	lastExportPath string
	lastCSVPath    string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg: cfg,
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session and drops anything held from the last one
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = s
	b.frames = nil
	b.collisions = nil
	b.poseEvents = nil
	b.statuses = nil
	b.lastExportPath = ""
	b.lastCSVPath = ""

	return nil
}

// EndSession finalizes and exports the session
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	return b.exportJSON()
}

// RecordFrame appends an odometry frame
func (b *Backend) RecordFrame(f *core.OdometryFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, *f)
	return nil
}

// RecordCollision appends a collision event
func (b *Backend) RecordCollision(e *core.CollisionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.collisions = append(b.collisions, *e)
	return nil
}

// RecordPoseEvent appends a pose event
func (b *Backend) RecordPoseEvent(e *core.PoseEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.poseEvents = append(b.poseEvents, *e)
	return nil
}

// RecordStatus appends a status sample
func (b *Backend) RecordStatus(s *core.StatusSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.statuses = append(b.statuses, *s)
	return nil
}

// Frames returns a copy of the recorded frames
func (b *Backend) Frames() []core.OdometryFrame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.OdometryFrame, len(b.frames))
	copy(out, b.frames)
	return out
}

// Collisions returns a copy of the recorded collision events
func (b *Backend) Collisions() []core.CollisionEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.CollisionEvent, len(b.collisions))
	copy(out, b.collisions)
	return out
}

// PoseEvents returns a copy of the recorded pose events
func (b *Backend) PoseEvents() []core.PoseEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.PoseEvent, len(b.poseEvents))
	copy(out, b.poseEvents)
	return out
}

// GetExportedFilePath returns the path of the last exported file
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetCSVFilePath returns the path of the last CSV export, empty when CSV is off
func (b *Backend) GetCSVFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastCSVPath
}

// GetExportMetadata returns what the recording server needs alongside the upload
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.session == nil {
		return core.UploadMetadata{}
	}
	return core.UploadMetadata{
		SessionName: b.session.SessionID,
		DeviceID:    b.session.DeviceID,
		Duration:    b.durationSeconds(),
		Tag:         b.session.Tag,
	}
}

// durationSeconds is the simulated time covered by the recorded frames
func (b *Backend) durationSeconds() float64 {
	var maxMs int64
	for _, f := range b.frames {
		if f.ElapsedMs > maxMs {
			maxMs = f.ElapsedMs
		}
	}
	return float64(maxMs) / 1000
}
