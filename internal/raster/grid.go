// Package raster holds the occupancy surface bodies are drawn on and
// tested against.
package raster

import (
	"image"
	"image/color"
	"sync"

	"github.com/stagesim/pioneer/internal/geo"
	"github.com/stagesim/pioneer/pkg/core"
)

// Grid is a fixed-size occupancy raster. Each pixel holds the color of its
// owner, or zero when free. Pixels outside the grid count as occupied.
type Grid struct {
	mu     sync.RWMutex
	width  int
	height int
	pix    []core.Color
}

// NewGrid creates an empty width x height grid.
func NewGrid(width, height int) *Grid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Grid{
		width:  width,
		height: height,
		pix:    make([]core.Color, width*height),
	}
}

// Bounds returns the grid rectangle.
func (g *Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.width, g.height)
}

func (g *Grid) inside(p image.Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.width && p.Y < g.height
}

// At returns the owner of p, or core.Obstacle outside the grid.
func (g *Grid) At(p image.Point) core.Color {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.inside(p) {
		return core.Obstacle
	}
	return g.pix[p.Y*g.width+p.X]
}

// Set paints a single pixel. Points outside the grid are ignored.
func (g *Grid) Set(p image.Point, c core.Color) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inside(p) {
		g.pix[p.Y*g.width+p.X] = c
	}
}

// FillRect paints every pixel of r clipped to the grid.
func (g *Grid) FillRect(r image.Rectangle, c core.Color) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r = r.Intersect(g.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			g.pix[y*g.width+x] = c
		}
	}
}

// TestFootprintOccupied reports whether any pixel on the outline of fp is
// owned by something other than owner. Leaving the grid is a hit.
func (g *Grid) TestFootprintOccupied(fp core.Footprint, owner core.Color) bool {
	if !geo.Bounds(fp).In(g.Bounds()) {
		return true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	hit := false
	traceOutline(fp, func(p image.Point) bool {
		if !g.inside(p) {
			hit = true
			return false
		}
		if c := g.pix[p.Y*g.width+p.X]; c != 0 && c != owner {
			hit = true
			return false
		}
		return true
	})
	return hit
}

// DrawFootprint paints the outline of fp with c.
func (g *Grid) DrawFootprint(fp core.Footprint, c core.Color) {
	g.mu.Lock()
	defer g.mu.Unlock()
	traceOutline(fp, func(p image.Point) bool {
		if g.inside(p) {
			g.pix[p.Y*g.width+p.X] = c
		}
		return true
	})
}

// EraseFootprint clears the outline of fp where it is still owned by owner,
// leaving pixels painted by anything else untouched.
func (g *Grid) EraseFootprint(fp core.Footprint, owner core.Color) {
	g.mu.Lock()
	defer g.mu.Unlock()
	traceOutline(fp, func(p image.Point) bool {
		if g.inside(p) && g.pix[p.Y*g.width+p.X] == owner {
			g.pix[p.Y*g.width+p.X] = 0
		}
		return true
	})
}

// Count returns how many pixels c owns.
func (g *Grid) Count(c core.Color) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, v := range g.pix {
		if v == c {
			n++
		}
	}
	return n
}

// Image renders the grid: free space white, obstacles black and bodies in
// their own color interpreted as 0xRRGGBB.
func (g *Grid) Image() *image.RGBA {
	g.mu.RLock()
	defer g.mu.RUnlock()

	img := image.NewRGBA(g.Bounds())
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			img.SetRGBA(x, y, toRGBA(g.pix[y*g.width+x]))
		}
	}
	return img
}

func toRGBA(c core.Color) color.RGBA {
	switch c {
	case 0:
		return color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	case core.Obstacle:
		return color.RGBA{A: 0xff}
	default:
		return color.RGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: 0xff}
	}
}

// traceOutline visits every pixel on the closed polygon through the
// footprint corners. visit returns false to stop early.
func traceOutline(fp core.Footprint, visit func(image.Point) bool) {
	corners := fp.Corners()
	for i := range corners {
		if !traceLine(corners[i], corners[(i+1)%len(corners)], visit) {
			return
		}
	}
}

// traceLine walks from a to b inclusive using Bresenham's algorithm.
func traceLine(a, b image.Point, visit func(image.Point) bool) bool {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy

	p := a
	for {
		if !visit(p) {
			return false
		}
		if p == b {
			return true
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			p.X += sx
		}
		if e2 <= dx {
			e += dx
			p.Y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
