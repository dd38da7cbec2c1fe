package worker

import (
	"log/slog"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stagesim/pioneer/internal/parser"
	"github.com/stagesim/pioneer/internal/sim"
	"github.com/stagesim/pioneer/internal/storage"
)

// MetricWriter accepts ad hoc metric points sent by front-end clients.
type MetricWriter interface {
	WritePointTo(bucket string, point *influxdb2_write.Point) error
}

// LogWriter accepts log lines forwarded by front-end clients.
type LogWriter interface {
	WriteLog(component, data, level string)
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Sim           *sim.Simulator
	ParserService *parser.Parser
	Logger        *slog.Logger
	// Metrics is optional; without it the metric command is not registered.
	Metrics MetricWriter
	// Log is optional; without it the log command is not registered.
	Log LogWriter
	// DefaultTag labels sessions started without an explicit tag.
	DefaultTag string
	MapFile    string
}

// Manager turns front-end commands into simulator calls.
type Manager struct {
	deps    Dependencies
	backend storage.Backend
	logger  *slog.Logger
}

// NewManager creates a new worker manager. backend may be nil.
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ParserService == nil {
		deps.ParserService = parser.NewParser(deps.Logger)
	}
	return &Manager{
		deps:    deps,
		backend: backend,
		logger:  deps.Logger.With("component", "worker"),
	}
}

// DBWriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastDBWriteDuration() time.Duration {
	if p, ok := m.backend.(DBWriteDurationProvider); ok {
		return p.GetLastDBWriteDuration()
	}
	return 0
}

// QueueLengthProvider is implemented by backends that buffer writes.
type QueueLengthProvider interface {
	QueueLengths() map[string]int
}

// BackendQueueLengths reports the backend's write backlog, if it has one.
func (m *Manager) BackendQueueLengths() map[string]int {
	if p, ok := m.backend.(QueueLengthProvider); ok {
		return p.QueueLengths()
	}
	return nil
}
