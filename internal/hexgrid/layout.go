// Package hexgrid assigns hex-spiral positions to an ordered list of map nodes.
package hexgrid

import (
	"math"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

// DefaultSpacing is the world-space hex size (circumradius). Adjacent hex
// centers end up sqrt(3)*spacing apart on a pointy-top grid.
const DefaultSpacing = 100.0

// directions traverses a ring's six sides in a fixed order, which keeps the
// insertion-order → position mapping stable across calls.
var directions = [6]mapnode.AxialCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Config contains layout parameters.
type Config struct {
	Spacing      float64 // hex center spacing; DefaultSpacing when zero
	CanvasWidth  float64 // used only to center the layout
	CanvasHeight float64
}

// SpiralCoords returns the first n axial coordinates of the hex spiral:
// the origin, then ring 1 (6 cells), ring 2 (12 cells), ring k (6k cells),
// each ring walked side by side in direction order.
func SpiralCoords(n int) []mapnode.AxialCoord {
	coords := make([]mapnode.AxialCoord, 0, n)
	if n <= 0 {
		return coords
	}
	coords = append(coords, mapnode.AxialCoord{})

	for ring := 1; len(coords) < n; ring++ {
		// Each ring starts one step south-west of the previous ring's start.
		cur := mapnode.AxialCoord{Q: -ring, R: ring}
		for side := 0; side < 6 && len(coords) < n; side++ {
			for step := 0; step < ring && len(coords) < n; step++ {
				coords = append(coords, cur)
				cur = mapnode.AxialCoord{Q: cur.Q + directions[side].Q, R: cur.R + directions[side].R}
			}
		}
	}
	return coords
}

// AxialToPixel converts an axial coordinate to a world-space pixel position
// for a pointy-top hex grid with the given hex size. Zoom is never
// part of this transform; it is applied by the rendering layer.
func AxialToPixel(c mapnode.AxialCoord, spacing float64) geom.Point {
	return geom.Point{
		X: spacing * math.Sqrt(3) * (float64(c.Q) + float64(c.R)/2),
		Y: spacing * 1.5 * float64(c.R),
	}
}

// Layout assigns each node a unique spiral coordinate by insertion order and
// derives its fixed pixel position, centered on the canvas midpoint. Callers
// must supply a stable order; reordering the input changes the whole layout.
// An empty input yields an empty layout.
func Layout(nodes []*mapnode.Node, cfg Config) []mapnode.Positioned {
	if len(nodes) == 0 {
		return nil
	}
	spacing := cfg.Spacing
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	centerX := cfg.CanvasWidth / 2
	centerY := cfg.CanvasHeight / 2

	coords := SpiralCoords(len(nodes))
	out := make([]mapnode.Positioned, len(nodes))
	for i, n := range nodes {
		px := AxialToPixel(coords[i], spacing)
		out[i] = mapnode.Positioned{
			Node: n,
			Hex:  coords[i],
			Position: geom.Point{
				X: px.X + centerX,
				Y: px.Y + centerY,
			},
		}
	}
	return out
}

// RingCapacity returns the number of cells in ring k (1 for the origin ring 0).
func RingCapacity(ring int) int {
	if ring <= 0 {
		return 1
	}
	return 6 * ring
}
