// Package device implements the simulated differential-drive base: it
// integrates velocity commands, keeps its footprint on the occupancy
// raster and publishes a fixed-layout odometry record every tick.
package device

import (
	"errors"
	"time"

	"github.com/stagesim/pioneer/internal/geo"
	"github.com/stagesim/pioneer/internal/kinematics"
	"github.com/stagesim/pioneer/internal/odometry"
	"github.com/stagesim/pioneer/pkg/core"
	"go.uber.org/atomic"
)

// Surface is the occupancy raster a body is drawn on.
type Surface interface {
	TestFootprintOccupied(fp core.Footprint, owner core.Color) bool
	DrawFootprint(fp core.Footprint, c core.Color)
	EraseFootprint(fp core.Footprint, owner core.Color)
}

// ManualControl reports whether an operator is holding the body.
type ManualControl interface {
	IsUnderManualControl() bool
}

// Clock supplies simulated time.
type Clock interface {
	Elapsed() time.Duration
	TimeStep() time.Duration
}

// PacketSink receives the encoded record after every update.
type PacketSink func(id string, packet []byte)

// ErrInvalidCommand is returned for command buffers of the wrong length.
var ErrInvalidCommand = errors.New("invalid command buffer")

// Config describes one body.
type Config struct {
	ID     string
	Width  float64 // metres, across the heading
	Length float64 // metres, along the heading
	Pose   core.Pose
	Color  core.Color
	Scale  float64 // pixels per metre
}

// Dependencies holds the collaborators a Pioneer needs.
type Dependencies struct {
	Surface      Surface
	Manual       ManualControl
	Clock        Clock
	HeadingError kinematics.HeadingError
	Sink         PacketSink
}

// MoveResult reports what a single Move did.
type MoveResult struct {
	Skipped   bool
	Moved     bool
	Collided  bool
	From      core.Pose
	Attempted core.Pose
	Footprint core.Footprint
	// Command is the velocity snapshot the step was integrated with.
	Command core.VelocityCommand
}

// Pioneer is a simulated mobile base. Apart from SubmitCommand, SetCommand
// and Stop, its methods must be serialised by the caller.
type Pioneer struct {
	id         string
	color      core.Color
	rect       geo.Rect
	integrator kinematics.Integrator
	deps       Dependencies

	command *atomic.Pointer[core.VelocityCommand]
	pending *atomic.Pointer[[]byte]

	pose      core.Pose
	origin    core.Pose
	odom      core.OdometryState
	stall     bool
	footprint core.Footprint
	previous  core.Footprint
	drawn     bool
	packet    []byte
	applied   core.VelocityCommand
}

// New creates a body at cfg.Pose. The starting pose becomes the odometry origin.
func New(cfg Config, deps Dependencies) *Pioneer {
	scale := cfg.Scale
	if scale == 0 {
		scale = 1
	}
	if deps.Manual == nil {
		deps.Manual = unheld{}
	}

	pose := cfg.Pose.Normalized()
	p := &Pioneer{
		id:    cfg.ID,
		color: cfg.Color,
		rect:  geo.RectFromSize(cfg.Width, cfg.Length, scale),
		integrator: kinematics.Integrator{
			Scale: scale,
			Error: deps.HeadingError,
		},
		deps:    deps,
		command: atomic.NewPointer(&core.VelocityCommand{}),
		pending: atomic.NewPointer[[]byte](nil),
		pose:    pose,
		origin:  pose,
	}
	p.footprint = geo.ComputeFootprint(pose, p.rect)
	p.previous = p.footprint
	return p
}

type unheld struct{}

func (unheld) IsUnderManualControl() bool { return false }

func (p *Pioneer) ID() string                        { return p.id }
func (p *Pioneer) Color() core.Color                 { return p.color }
func (p *Pioneer) Pose() core.Pose                   { return p.pose }
func (p *Pioneer) Origin() core.Pose                 { return p.origin }
func (p *Pioneer) Odometry() core.OdometryState      { return p.odom }
func (p *Pioneer) Stalled() bool                     { return p.stall }
func (p *Pioneer) Footprint() core.Footprint         { return p.footprint }
func (p *Pioneer) PreviousFootprint() core.Footprint { return p.previous }
func (p *Pioneer) Scale() float64                    { return p.integrator.Scale }

// Command returns the current velocity snapshot.
func (p *Pioneer) Command() core.VelocityCommand {
	return *p.command.Load()
}

// Packet returns the record composed by the last update.
func (p *Pioneer) Packet() []byte {
	return p.packet
}

// Applied returns the command snapshot used by the last update.
func (p *Pioneer) Applied() core.VelocityCommand {
	return p.applied
}

// SetCommand replaces the velocity command. Safe for concurrent use.
func (p *Pioneer) SetCommand(cmd core.VelocityCommand) {
	p.command.Store(&cmd)
}

// Stop zeroes both velocities. Safe for concurrent use.
func (p *Pioneer) Stop() {
	p.SetCommand(core.VelocityCommand{})
}

// SubmitCommand queues a raw command buffer for the next update. A newer
// buffer replaces one not yet consumed. Safe for concurrent use.
func (p *Pioneer) SubmitCommand(buf []byte) error {
	if len(buf) != CommandSize {
		return ErrInvalidCommand
	}
	cp := append([]byte(nil), buf...)
	p.pending.Store(&cp)
	return nil
}

// Update runs one tick: decode any pending command, lift the body off the
// raster, move, redraw, then compose and publish the odometry record. The
// command is read once, so the move and the record agree even when a new
// command lands mid-update.
func (p *Pioneer) Update() MoveResult {
	if buf := p.pending.Swap(nil); buf != nil {
		_ = p.ParseCommand(*buf)
	}
	cmd := p.Command()
	p.applied = cmd

	p.MapUnDraw()
	res := p.move(cmd)
	p.MapDraw()

	p.packet = p.compose(cmd)
	if p.deps.Sink != nil {
		p.deps.Sink(p.id, p.packet)
	}
	return res
}

// Move attempts one integration step. A footprint that would overlap
// anything but the body itself is rejected and sets the stall flag.
func (p *Pioneer) Move() MoveResult {
	return p.move(p.Command())
}

func (p *Pioneer) move(cmd core.VelocityCommand) MoveResult {
	p.previous = p.footprint

	if p.deps.Manual.IsUnderManualControl() || cmd.IsZero() {
		return MoveResult{Skipped: true, From: p.pose, Command: cmd}
	}

	dt := p.deps.Clock.TimeStep().Seconds()
	tentative := p.integrator.Step(p.pose, cmd, dt)
	fp := geo.ComputeFootprint(tentative, p.rect)

	if p.deps.Surface.TestFootprintOccupied(fp, p.color) {
		p.footprint = p.previous
		p.stall = true
		return MoveResult{Collided: true, From: p.pose, Attempted: tentative, Footprint: fp, Command: cmd}
	}

	from := p.pose
	p.pose = tentative
	p.stall = false
	p.odom = p.integrator.Odometry(p.odom, cmd, dt)
	p.footprint = fp
	p.previous = fp
	return MoveResult{Moved: true, From: from, Attempted: tentative, Footprint: fp, Command: cmd}
}

// MapDraw recomputes the footprint from the pose and paints it.
func (p *Pioneer) MapDraw() {
	p.footprint = geo.ComputeFootprint(p.pose, p.rect)
	p.deps.Surface.DrawFootprint(p.footprint, p.color)
	p.previous = p.footprint
	p.drawn = true
}

// MapUnDraw erases the footprint painted by the last MapDraw.
func (p *Pioneer) MapUnDraw() {
	if !p.drawn {
		return
	}
	p.deps.Surface.EraseFootprint(p.previous, p.color)
	p.drawn = false
}

// SetPose teleports the body. Odometry is left alone; the raster is
// updated so it never holds the old outline.
func (p *Pioneer) SetPose(pose core.Pose) {
	wasDrawn := p.drawn
	p.MapUnDraw()
	p.pose = pose.Normalized()
	p.footprint = geo.ComputeFootprint(p.pose, p.rect)
	p.previous = p.footprint
	if wasDrawn {
		p.MapDraw()
	}
}

// ComposeData encodes the current state.
func (p *Pioneer) ComposeData() []byte {
	return p.compose(p.Command())
}

func (p *Pioneer) compose(cmd core.VelocityCommand) []byte {
	return odometry.Encode(odometry.State{
		Elapsed: p.deps.Clock.Elapsed(),
		Pose:    p.pose,
		Origin:  p.origin,
		Scale:   p.integrator.Scale,
		Command: cmd,
		Stall:   p.stall,
	})
}
