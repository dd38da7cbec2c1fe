package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/ppm"
	"github.com/stagesim/pioneer/pkg/core"
)

// DefaultThreshold is the luminance below which a map pixel is an obstacle.
const DefaultThreshold = 128

// LoadImage reads a PNG or PPM map file and turns dark pixels into obstacles.
func LoadImage(path string, threshold uint8) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open map: %w", err)
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ppm", ".pnm":
		img, err = ppm.Decode(f)
	default:
		img, err = png.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode map %s: %w", path, err)
	}

	return FromImage(img, threshold), nil
}

// FromImage builds a grid the size of img. Pixels darker than threshold
// become core.Obstacle; everything else is free.
func FromImage(img image.Image, threshold uint8) *Grid {
	b := img.Bounds()
	g := NewGrid(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if gray.Y < threshold {
				g.pix[(y-b.Min.Y)*g.width+(x-b.Min.X)] = core.Obstacle
			}
		}
	}
	return g
}

// WritePPM encodes the current grid as a binary PPM image.
func (g *Grid) WritePPM(w io.Writer) error {
	if err := ppm.Encode(w, g.Image()); err != nil {
		return fmt.Errorf("failed to encode grid: %w", err)
	}
	return nil
}
