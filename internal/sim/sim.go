// Package sim owns the simulated world: the occupancy raster, every body on
// it and the localize adapters served on top of them. Ticks and protocol
// requests are serialised by a single lock.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stagesim/pioneer/internal/cache"
	"github.com/stagesim/pioneer/internal/device"
	"github.com/stagesim/pioneer/internal/kinematics"
	"github.com/stagesim/pioneer/internal/localize"
	"github.com/stagesim/pioneer/internal/raster"
	"github.com/stagesim/pioneer/internal/storage"
	"github.com/stagesim/pioneer/internal/world"
	"github.com/stagesim/pioneer/pkg/core"
	"go.uber.org/atomic"
)

var (
	// ErrNoSession is returned by EndSession when no session is open.
	ErrNoSession = errors.New("no session in progress")
	// ErrReservedColor is returned for a body painted 0 (free space) or
	// core.Obstacle; the raster could not tell it from the map.
	ErrReservedColor = errors.New("reserved device color")
	// ErrColorInUse is returned when another body already owns the color.
	ErrColorInUse = errors.New("device color already in use")
)

// Dependencies holds the collaborators a Simulator needs.
type Dependencies struct {
	World   *world.World
	Surface *raster.Grid
	// Backend records frames and events. Nil disables recording.
	Backend storage.Backend
	Logger  *slog.Logger
	// Sink receives every composed odometry packet.
	Sink device.PacketSink
}

// SessionOptions carries the per-run fields that are not derived from the world.
type SessionOptions struct {
	MapFile string
	Tag     string
}

// Simulator steps every registered body once per tick.
type Simulator struct {
	mu      sync.Mutex
	deps    Dependencies
	devices *cache.DeviceCache
	logger  *slog.Logger

	session   *core.Session
	sessionID atomic.String

	ticks      atomic.Uint64
	stalls     atomic.Uint64
	collisions atomic.Uint64

	queueMu sync.RWMutex
	queues  []func() map[string]int
}

// New creates a Simulator. World and Surface are required.
func New(deps Dependencies) *Simulator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Simulator{
		deps:    deps,
		devices: cache.NewDeviceCache(),
		logger:  deps.Logger.With("component", "sim"),
	}
}

// World returns the shared world state.
func (s *Simulator) World() *world.World {
	return s.deps.World
}

// Devices returns the device registry.
func (s *Simulator) Devices() *cache.DeviceCache {
	return s.devices
}

// AddDevice creates a body from cfg, paints it on the raster and starts
// serving the localize interface for it. The body is scaled by the world.
func (s *Simulator) AddDevice(cfg device.Config) (*device.Pioneer, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	w := s.deps.World
	cfg.Scale = w.Scale()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices.Get(cfg.ID); ok {
		return nil, fmt.Errorf("%w: %s", cache.ErrDuplicateDevice, cfg.ID)
	}
	if cfg.Color == 0 || cfg.Color == core.Obstacle {
		return nil, fmt.Errorf("%w: %#x", ErrReservedColor, uint32(cfg.Color))
	}
	for _, e := range s.devices.Entries() {
		if e.Device.Color() == cfg.Color {
			return nil, fmt.Errorf("%w: %#x owned by %s", ErrColorInUse, uint32(cfg.Color), e.Device.ID())
		}
	}

	dev := device.New(cfg, device.Dependencies{
		Surface: s.deps.Surface,
		Manual:  w.Drag().For(cfg.ID),
		Clock:   w,
		HeadingError: kinematics.HeadingError{
			Max: w.MaxAngularError(),
			Src: w.Float64,
		},
		Sink: s.deps.Sink,
	})

	adapter, err := localize.New(dev, s.deps.Logger)
	if err != nil {
		return nil, err
	}
	if err := s.devices.Add(cache.DeviceEntry{Device: dev, Localize: adapter}); err != nil {
		return nil, err
	}
	if s.deps.Surface.TestFootprintOccupied(dev.Footprint(), dev.Color()) {
		s.logger.Warn("device placed on an occupied area", "device", cfg.ID,
			"x", cfg.Pose.X, "y", cfg.Pose.Y)
	}
	dev.MapDraw()

	s.logger.Info("device added", "device", cfg.ID,
		"x", dev.Pose().X, "y", dev.Pose().Y, "heading", dev.Pose().Heading)
	return dev, nil
}

// StartSession opens a recording session for the first registered device.
func (s *Simulator) StartSession(opts SessionOptions) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.devices.Entries()
	if len(entries) == 0 {
		return core.Session{}, fmt.Errorf("no devices registered")
	}
	dev := entries[0].Device
	w := s.deps.World

	sess := &core.Session{
		SessionID:       uuid.NewString(),
		DeviceID:        dev.ID(),
		StartTime:       w.Now(),
		MapFile:         opts.MapFile,
		Scale:           w.Scale(),
		TimeStep:        w.TimeStep(),
		MaxAngularError: w.MaxAngularError(),
		Width:           float64(s.deps.Surface.Bounds().Dx()),
		Length:          float64(s.deps.Surface.Bounds().Dy()),
		Origin:          dev.Origin(),
		Tag:             opts.Tag,
	}
	if b := s.deps.Backend; b != nil {
		if err := b.StartSession(sess); err != nil {
			return core.Session{}, fmt.Errorf("starting session: %w", err)
		}
	}
	s.session = sess
	s.sessionID.Store(sess.SessionID)
	s.logger.Info("session started", "session", sess.SessionID, "device", sess.DeviceID)
	return *sess, nil
}

// EndSession closes the current session on the backend.
func (s *Simulator) EndSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrNoSession
	}
	id := s.session.SessionID
	s.session = nil
	s.sessionID.Store("")
	if b := s.deps.Backend; b != nil {
		if err := b.EndSession(); err != nil {
			return fmt.Errorf("ending session %s: %w", id, err)
		}
	}
	s.logger.Info("session ended", "session", id, "ticks", s.ticks.Load())
	return nil
}

// Session returns the open session, if any.
func (s *Simulator) Session() (core.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return core.Session{}, false
	}
	return *s.session, true
}

// Tick advances simulated time by one step and updates every body in
// registration order.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.deps.World
	elapsed := w.Advance()
	tick := s.ticks.Inc()
	now := w.Now()

	for _, e := range s.devices.Entries() {
		dev := e.Device
		wasStalled := dev.Stalled()
		res := dev.Update()

		if dev.Stalled() && !wasStalled {
			s.stalls.Inc()
		}
		if res.Collided {
			s.collisions.Inc()
			s.logger.Debug("move rejected", "device", dev.ID(), "tick", tick,
				"x", res.Attempted.X, "y", res.Attempted.Y)
			s.record("collision", func(b storage.Backend) error {
				return b.RecordCollision(&core.CollisionEvent{
					DeviceID:  dev.ID(),
					Tick:      tick,
					Time:      now,
					From:      res.From,
					Attempted: res.Attempted,
					Footprint: res.Footprint,
				})
			})
		}

		s.record("frame", func(b storage.Backend) error {
			return b.RecordFrame(&core.OdometryFrame{
				DeviceID:  dev.ID(),
				Tick:      tick,
				Time:      now,
				ElapsedMs: elapsed.Milliseconds(),
				Pose:      dev.Pose(),
				Odometry:  dev.Odometry(),
				Command:   dev.Applied(),
				Stall:     dev.Stalled(),
				Footprint: dev.Footprint(),
				Packet:    dev.Packet(),
			})
		})
	}
}

// record forwards to the backend while a session is open. Callers hold s.mu.
func (s *Simulator) record(kind string, fn func(storage.Backend) error) {
	if s.deps.Backend == nil || s.session == nil {
		return
	}
	if err := fn(s.deps.Backend); err != nil {
		s.logger.Error("failed to record "+kind, "error", err)
	}
}

// Run ticks on the world clock every time step until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	step := s.deps.World.TimeStep()
	if step <= 0 {
		return fmt.Errorf("invalid time step %s", step)
	}
	ticker := s.deps.World.Clock().Ticker(step)
	defer ticker.Stop()

	s.logger.Info("simulation running", "timeStep", step)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulation stopped", "ticks", s.ticks.Load())
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Packet returns a copy of the last odometry record of device id. It is
// empty until the first tick.
func (s *Simulator) Packet(id string) ([]byte, error) {
	e, err := s.devices.Lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), e.Device.Packet()...), nil
}

// Pose returns the current pose of device id.
func (s *Simulator) Pose(id string) (core.Pose, error) {
	e, err := s.devices.Lookup(id)
	if err != nil {
		return core.Pose{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.Device.Pose(), nil
}

// SubmitCommand queues a raw velocity command for the next tick.
func (s *Simulator) SubmitCommand(id string, buf []byte) error {
	e, err := s.devices.Lookup(id)
	if err != nil {
		return err
	}
	return e.Device.SubmitCommand(buf)
}

// Stop zeroes a body's velocities.
func (s *Simulator) Stop(id string) error {
	e, err := s.devices.Lookup(id)
	if err != nil {
		return err
	}
	e.Device.Stop()
	return nil
}

// Hold puts a body under manual control; Release returns it.
func (s *Simulator) Hold(id string) error {
	if _, err := s.devices.Lookup(id); err != nil {
		return err
	}
	s.deps.World.Drag().Hold(id)
	return nil
}

func (s *Simulator) Release(id string) error {
	if _, err := s.devices.Lookup(id); err != nil {
		return err
	}
	s.deps.World.Drag().Release(id)
	return nil
}

// ProcessLocalize answers a localize request for device id. A successful
// set-pose is recorded as a pose event.
func (s *Simulator) ProcessLocalize(id string, msg localize.Message) (localize.Message, error) {
	e, err := s.devices.Lookup(id)
	if err != nil {
		return localize.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg.DeviceID = id
	reply, err := e.Localize.ProcessMessage(msg)
	if err != nil {
		return reply, err
	}
	if msg.Type == localize.MsgTypeReq && msg.Subtype == localize.ReqSetPose {
		s.recordPose(e.Device, core.PoseEventSetPose, 0)
	}
	return reply, nil
}

// SetPose teleports device id through its localize interface.
func (s *Simulator) SetPose(id string, req core.SetPoseRequest) error {
	_, err := s.ProcessLocalize(id, localize.Message{
		Header:  localize.Header{Type: localize.MsgTypeReq, Subtype: localize.ReqSetPose},
		Payload: req,
	})
	return err
}

// Publish returns the hypothesis message for device id and records it.
func (s *Simulator) Publish(id string) (localize.Message, error) {
	e, err := s.devices.Lookup(id)
	if err != nil {
		return localize.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := e.Localize.Publish()
	s.recordPose(e.Device, core.PoseEventHypothesis, 1)
	return msg, nil
}

func (s *Simulator) recordPose(dev *device.Pioneer, kind string, alpha float64) {
	tick := s.ticks.Load()
	now := s.deps.World.Now()
	s.record("pose event", func(b storage.Backend) error {
		return b.RecordPoseEvent(&core.PoseEvent{
			DeviceID: dev.ID(),
			Tick:     tick,
			Time:     now,
			Kind:     kind,
			Pose:     dev.Pose(),
			Alpha:    alpha,
		})
	})
}

// AddQueueSource registers a provider of queue backlogs reported by Status.
func (s *Simulator) AddQueueSource(fn func() map[string]int) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queues = append(s.queues, fn)
}

// Status returns a snapshot of the counters and registered queue lengths.
func (s *Simulator) Status() core.StatusSample {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	queues := make(map[string]int)
	for _, fn := range s.queues {
		for k, v := range fn() {
			queues[k] = v
		}
	}
	return core.StatusSample{
		Time:         s.deps.World.Now(),
		Ticks:        s.ticks.Load(),
		Stalls:       s.stalls.Load(),
		Collisions:   s.collisions.Load(),
		Devices:      s.devices.Len(),
		QueueLengths: queues,
	}
}

// RecordStatus forwards a status sample to the backend.
func (s *Simulator) RecordStatus(sample *core.StatusSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deps.Backend == nil || s.session == nil {
		return nil
	}
	return s.deps.Backend.RecordStatus(sample)
}

// Ticks returns how many ticks have run.
func (s *Simulator) Ticks() uint64 {
	return s.ticks.Load()
}

// LogContext supplies the attributes stamped on every log record. It must
// not take s.mu since records are emitted while the lock is held.
func (s *Simulator) LogContext() []slog.Attr {
	attrs := []slog.Attr{slog.Uint64("tick", s.ticks.Load())}
	if id := s.sessionID.Load(); id != "" {
		attrs = append(attrs, slog.String("session", id))
	}
	return attrs
}

// WriteMap encodes the current raster, bodies included, as a binary PPM.
func (s *Simulator) WriteMap(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps.Surface.WritePPM(w)
}

// Elapsed returns the simulated time since the world started.
func (s *Simulator) Elapsed() time.Duration {
	return s.deps.World.Elapsed()
}

// Uptime returns the wall time since the world was created.
func (s *Simulator) Uptime() time.Duration {
	return s.deps.World.Now().Sub(s.deps.World.Started())
}
