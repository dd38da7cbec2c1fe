// Package gormstorage implements the storage.Backend interface on top of GORM
// with internal write queues drained by a background writer goroutine.
// The postgres and sqlite backends wrap it.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stagesim/pioneer/internal/database"
	"github.com/stagesim/pioneer/internal/model"
	"github.com/stagesim/pioneer/internal/model/convert"
	"github.com/stagesim/pioneer/internal/queue"
	"github.com/stagesim/pioneer/pkg/core"

	"gorm.io/gorm"
)

const (
	defaultWriteInterval = 2 * time.Second
	defaultQueueLimit    = 100000
)

// ErrNoSession is returned when an event is recorded before StartSession.
var ErrNoSession = errors.New("no active session")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
	// Clock drives the writer ticker. Defaults to the wall clock.
	Clock         clock.Clock
	WriteInterval time.Duration
	// QueueLimit bounds each write queue; the oldest rows are dropped past it.
	QueueLimit int
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Frames     *queue.Queue[model.OdometryFrame]
	Collisions *queue.Queue[model.CollisionEvent]
	PoseEvents *queue.Queue[model.PoseEvent]
	Statuses   *queue.Queue[model.StatusSample]
}

func newQueues(limit int) *queues {
	return &queues{
		Frames:     queue.NewBounded[model.OdometryFrame](limit),
		Collisions: queue.NewBounded[model.CollisionEvent](limit),
		PoseEvents: queue.NewBounded[model.PoseEvent](limit),
		Statuses:   queue.NewBounded[model.StatusSample](limit),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	queues    *queues
	sessionID atomic.Uint64
	session   *core.Session

	writeMu       sync.Mutex
	lastWriteNano atomic.Int64

	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.WriteInterval <= 0 {
		deps.WriteInterval = defaultWriteInterval
	}
	if deps.QueueLimit <= 0 {
		deps.QueueLimit = defaultQueueLimit
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(deps.QueueLimit),
	}
}

// DB returns the underlying connection, nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the DB writer goroutine.
// Without a DB the backend only queues, which is how the unit tests run it.
func (b *Backend) Init() error {
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})

	if b.deps.DB == nil {
		close(b.done)
		return nil
	}

	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.deps.Logger.Info("Database schema migrated", "dialect", b.deps.DB.Dialector.Name())

	go b.writerLoop()
	return nil
}

// Close stops the writer goroutine and drains what is left.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	select {
	case <-b.stopChan:
		return nil
	default:
	}
	close(b.stopChan)
	<-b.done
	b.Flush()
	return nil
}

// StartSession inserts the session row synchronously so events can reference its ID.
func (b *Backend) StartSession(s *core.Session) error {
	b.session = s
	if b.deps.DB == nil {
		return nil
	}

	gormSession, err := convert.CoreToSession(*s)
	if err != nil {
		return fmt.Errorf("failed to convert session: %w", err)
	}
	if err := b.deps.DB.Create(&gormSession).Error; err != nil {
		return fmt.Errorf("failed to insert new session: %w", err)
	}
	s.ID = gormSession.ID
	b.sessionID.Store(uint64(gormSession.ID))
	return nil
}

// SessionID returns the database ID of the active session.
func (b *Backend) SessionID() uint {
	return uint(b.sessionID.Load())
}

// EndSession flushes pending rows and stamps the session end time.
func (b *Backend) EndSession() error {
	b.Flush()
	if b.deps.DB == nil || b.SessionID() == 0 {
		return nil
	}
	end := b.deps.Clock.Now().UTC()
	err := b.deps.DB.Model(&model.Session{}).
		Where("id = ?", b.SessionID()).
		Update("end_time", end).Error
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// RecordFrame converts a frame to GORM and pushes it to the write queue.
func (b *Backend) RecordFrame(f *core.OdometryFrame) error {
	m, err := convert.CoreToOdometryFrame(*f, 0)
	if err != nil {
		return fmt.Errorf("failed to convert frame %d: %w", f.Tick, err)
	}
	b.queues.Frames.Push(m)
	return nil
}

// RecordCollision converts and queues a collision event.
func (b *Backend) RecordCollision(e *core.CollisionEvent) error {
	m, err := convert.CoreToCollisionEvent(*e, 0)
	if err != nil {
		return fmt.Errorf("failed to convert collision at tick %d: %w", e.Tick, err)
	}
	b.queues.Collisions.Push(m)
	return nil
}

// RecordPoseEvent converts and queues a pose event.
func (b *Backend) RecordPoseEvent(e *core.PoseEvent) error {
	m, err := convert.CoreToPoseEvent(*e, 0)
	if err != nil {
		return fmt.Errorf("failed to convert pose event at tick %d: %w", e.Tick, err)
	}
	b.queues.PoseEvents.Push(m)
	return nil
}

// RecordStatus converts and queues a status sample.
func (b *Backend) RecordStatus(s *core.StatusSample) error {
	b.queues.Statuses.Push(convert.CoreToStatusSample(*s, 0))
	return nil
}

// QueueLengths reports the backlog per write queue.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{
		"frames":      b.queues.Frames.Len(),
		"collisions":  b.queues.Collisions.Len(),
		"pose_events": b.queues.PoseEvents.Len(),
		"statuses":    b.queues.Statuses.Len(),
	}
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWriteNano.Load())
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items go back on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, prepare func([]T)) {
	if q.Empty() {
		return
	}

	items := q.GetAndEmpty()
	if prepare != nil {
		prepare(items)
	}

	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		log.Error("Error creating rows", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Push(items...)
		return
	}
	if err := tx.Commit().Error; err != nil {
		log.Error("Error committing rows", "table", name, "error", err)
		q.Push(items...)
	}
}

// Flush drains every queue into the database once.
func (b *Backend) Flush() {
	if b.deps.DB == nil {
		return
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	start := b.deps.Clock.Now()
	sessionID := b.SessionID()
	log := b.deps.Logger

	writeQueue(b.deps.DB, b.queues.Frames, "odometry_frames", log, func(items []model.OdometryFrame) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})
	writeQueue(b.deps.DB, b.queues.Collisions, "collision_events", log, func(items []model.CollisionEvent) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})
	writeQueue(b.deps.DB, b.queues.PoseEvents, "pose_events", log, func(items []model.PoseEvent) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})
	writeQueue(b.deps.DB, b.queues.Statuses, "status_samples", log, func(items []model.StatusSample) {
		for i := range items {
			items[i].SessionID = sessionID
		}
	})

	b.lastWriteNano.Store(int64(b.deps.Clock.Since(start)))
}

// writerLoop periodically drains queues into the DB until Close.
func (b *Backend) writerLoop() {
	defer close(b.done)

	ticker := b.deps.Clock.Ticker(b.deps.WriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}
