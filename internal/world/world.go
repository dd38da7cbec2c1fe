package world

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Config holds the world-wide simulation parameters.
type Config struct {
	// Scale converts metres to raster pixels.
	Scale           float64
	TimeStep        time.Duration
	MaxAngularError float64
	ErrorSeed       uint64
}

// World holds the simulation clock and the parameters shared by every body.
type World struct {
	mu      sync.RWMutex
	cfg     Config
	clock   clock.Clock
	started time.Time
	elapsed time.Duration
	rng     *rand.Rand
	drag    *DragState
}

// New creates a World. A nil clk uses the wall clock.
func New(cfg Config, clk clock.Clock) *World {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	return &World{
		cfg:     cfg,
		clock:   clk,
		started: clk.Now(),
		rng:     rand.New(rand.NewPCG(cfg.ErrorSeed, cfg.ErrorSeed^0x9e3779b97f4a7c15)),
		drag:    NewDragState(),
	}
}

// Clock returns the clock pacing the simulation.
func (w *World) Clock() clock.Clock {
	return w.clock
}

// Started returns the wall time the world was created.
func (w *World) Started() time.Time {
	return w.started
}

// Now returns the current wall time.
func (w *World) Now() time.Time {
	return w.clock.Now()
}

// Elapsed returns the simulated time since start.
func (w *World) Elapsed() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.elapsed
}

// Advance moves simulated time forward by one step and returns the new elapsed time.
func (w *World) Advance() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.elapsed += w.cfg.TimeStep
	return w.elapsed
}

// TimeStep returns the simulated duration of one tick.
func (w *World) TimeStep() time.Duration {
	return w.cfg.TimeStep
}

// Scale returns pixels per metre.
func (w *World) Scale() float64 {
	return w.cfg.Scale
}

// MaxAngularError returns the upper bound of the multiplicative odometry
// heading error.
func (w *World) MaxAngularError() float64 {
	return w.cfg.MaxAngularError
}

// Float64 draws from the world's seeded source in [0, 1).
func (w *World) Float64() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng.Float64()
}

// Drag returns the manual-control registry.
func (w *World) Drag() *DragState {
	return w.drag
}
