// pkg/core/footprint.go
package core

import "image"

// Footprint is the integer outline of a rotated rectangle in raster space.
// It is an immutable value; callers replace it wholesale.
type Footprint struct {
	TopLeft     image.Point `json:"topLeft"`
	TopRight    image.Point `json:"topRight"`
	BottomRight image.Point `json:"bottomRight"`
	BottomLeft  image.Point `json:"bottomLeft"`
	Center      image.Point `json:"center"`
}

// Corners returns the outline in drawing order.
func (f Footprint) Corners() [4]image.Point {
	return [4]image.Point{f.TopLeft, f.TopRight, f.BottomRight, f.BottomLeft}
}

// IsZero reports whether no footprint has been computed yet.
func (f Footprint) IsZero() bool {
	return f == Footprint{}
}

// Color identifies who owns a pixel on the occupancy raster. Zero is free space.
type Color uint32

// Obstacle marks static map pixels.
const Obstacle Color = 1
