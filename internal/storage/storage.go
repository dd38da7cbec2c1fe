package storage

import (
	"go.uber.org/multierr"

	"github.com/stagesim/pioneer/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	// Recording
	RecordFrame(f *core.OdometryFrame) error
	RecordCollision(e *core.CollisionEvent) error
	RecordPoseEvent(e *core.PoseEvent) error
	RecordStatus(s *core.StatusSample) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to the recording server.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}

// Multi fans every call out to several backends. Errors from all of them
// are combined; one failing backend does not stop the others.
type Multi struct {
	backends []Backend
}

// NewMulti returns a Backend writing to all of the given backends in order.
func NewMulti(backends ...Backend) *Multi {
	return &Multi{backends: backends}
}

// Backends returns the wrapped backends.
func (m *Multi) Backends() []Backend {
	return m.backends
}

func (m *Multi) each(fn func(Backend) error) error {
	var err error
	for _, b := range m.backends {
		err = multierr.Append(err, fn(b))
	}
	return err
}

func (m *Multi) Init() error {
	return m.each(func(b Backend) error { return b.Init() })
}

// Close closes the backends in reverse order.
func (m *Multi) Close() error {
	var err error
	for i := len(m.backends) - 1; i >= 0; i-- {
		err = multierr.Append(err, m.backends[i].Close())
	}
	return err
}

func (m *Multi) StartSession(s *core.Session) error {
	return m.each(func(b Backend) error { return b.StartSession(s) })
}

func (m *Multi) EndSession() error {
	return m.each(func(b Backend) error { return b.EndSession() })
}

func (m *Multi) RecordFrame(f *core.OdometryFrame) error {
	return m.each(func(b Backend) error { return b.RecordFrame(f) })
}

func (m *Multi) RecordCollision(e *core.CollisionEvent) error {
	return m.each(func(b Backend) error { return b.RecordCollision(e) })
}

func (m *Multi) RecordPoseEvent(e *core.PoseEvent) error {
	return m.each(func(b Backend) error { return b.RecordPoseEvent(e) })
}

func (m *Multi) RecordStatus(s *core.StatusSample) error {
	return m.each(func(b Backend) error { return b.RecordStatus(s) })
}

// Uploadables returns the wrapped backends that produce upload files.
func (m *Multi) Uploadables() []Uploadable {
	var out []Uploadable
	for _, b := range m.backends {
		if u, ok := b.(Uploadable); ok {
			out = append(out, u)
		}
	}
	return out
}
