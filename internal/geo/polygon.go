package geo

import (
	"errors"
	"fmt"
	"image"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/stagesim/pioneer/pkg/core"
)

// ErrNotFootprint is returned when a geometry cannot be read back as a footprint.
var ErrNotFootprint = errors.New("geometry is not a footprint polygon")

// FootprintPolygon converts fp to a closed polygon ring in raster coordinates.
// Stored footprints use this form so they can be queried spatially. The
// zero footprint maps to the empty polygon.
func FootprintPolygon(fp core.Footprint) (geom.Polygon, error) {
	if fp.IsZero() {
		return geom.Polygon{}, nil
	}
	corners := fp.Corners()
	flat := make([]float64, 0, 10)
	for _, p := range corners {
		flat = append(flat, float64(p.X), float64(p.Y))
	}
	flat = append(flat, float64(corners[0].X), float64(corners[0].Y))

	ring, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return geom.Polygon{}, fmt.Errorf("footprint ring: %w", err)
	}
	poly, err := geom.NewPolygon([]geom.LineString{ring})
	if err != nil {
		return geom.Polygon{}, fmt.Errorf("footprint polygon: %w", err)
	}
	return poly, nil
}

// FootprintFromGeometry reverses FootprintPolygon. The centre is not part
// of the ring and must be supplied by the caller.
func FootprintFromGeometry(g geom.Geometry, center image.Point) (core.Footprint, error) {
	poly, ok := g.AsPolygon()
	if !ok {
		return core.Footprint{}, ErrNotFootprint
	}
	seq := poly.ExteriorRing().Coordinates()
	if seq.Length() != 5 {
		return core.Footprint{}, ErrNotFootprint
	}

	pt := func(i int) image.Point {
		xy := seq.GetXY(i)
		return image.Pt(int(xy.X), int(xy.Y))
	}
	return core.Footprint{
		TopLeft:     pt(0),
		TopRight:    pt(1),
		BottomRight: pt(2),
		BottomLeft:  pt(3),
		Center:      center,
	}, nil
}

// PosePoint converts a pose position to a 2D point.
func PosePoint(p core.Pose) (geom.Point, error) {
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.X, Y: p.Y},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("pose point: %w", err)
	}
	return pt, nil
}

// PointToPose reads a point back into a pose with the given heading.
func PointToPose(pt geom.Point, heading float64) core.Pose {
	coords, ok := pt.Coordinates()
	if !ok {
		return core.Pose{Heading: heading}
	}
	return core.Pose{X: coords.X, Y: coords.Y, Heading: heading}
}
