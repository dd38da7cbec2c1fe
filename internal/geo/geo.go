package geo

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/stagesim/pioneer/pkg/core"
)

// Rect describes a body's rectangle by its half extents in raster units.
// HalfLength runs along the heading, HalfWidth across it.
type Rect struct {
	HalfWidth  float64
	HalfLength float64
}

// RectFromSize builds a Rect from full width and length given in metres,
// converted to raster units with scale (pixels per metre).
func RectFromSize(width, length, scale float64) Rect {
	return Rect{
		HalfWidth:  width * scale / 2,
		HalfLength: length * scale / 2,
	}
}

// ComputeFootprint returns the four integer corners and centre of r placed
// at pose. Coordinates are truncated toward zero; the result is a pure
// function of its inputs.
func ComputeFootprint(pose core.Pose, r Rect) core.Footprint {
	c, s := math.Cos(pose.Heading), math.Sin(pose.Heading)
	center := r2.Point{X: pose.X, Y: pose.Y}

	// along the heading, and across it pointing to the body's left in screen space
	along := r2.Point{X: r.HalfLength * c, Y: r.HalfLength * s}
	across := r2.Point{X: r.HalfWidth * s, Y: -r.HalfWidth * c}

	return core.Footprint{
		TopLeft:     truncate(center.Sub(along).Add(across)),
		TopRight:    truncate(center.Add(along).Add(across)),
		BottomRight: truncate(center.Add(along).Sub(across)),
		BottomLeft:  truncate(center.Sub(along).Sub(across)),
		Center:      image.Pt(int(pose.X), int(pose.Y)),
	}
}

func truncate(p r2.Point) image.Point {
	return image.Pt(int(p.X), int(p.Y))
}

// Bounds returns the smallest rectangle containing every corner of fp.
// Max is exclusive, matching image.Rectangle.
func Bounds(fp core.Footprint) image.Rectangle {
	corners := fp.Corners()
	b := image.Rectangle{Min: corners[0], Max: corners[0].Add(image.Pt(1, 1))}
	for _, p := range corners[1:] {
		b = b.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return b
}
