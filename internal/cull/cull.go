// Package cull computes and clips the pairwise connection lines drawn
// between nearby map nodes.
package cull

import (
	"math"
	"sort"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

// DefaultMaxDistance is the proximity threshold for generating a connection.
const DefaultMaxDistance = 250.0

// epsilon guards the parametric intersection math; a denominator below this
// is treated as parallel (no intersection), never as a division error.
const epsilon = 1e-9

// Visibility classifies how a connection relates to the current bounds.
type Visibility string

const (
	// VisibilityFull means both endpoints are on screen; the segment is
	// passed through unchanged.
	VisibilityFull Visibility = "full"
	// VisibilityClipped means the segment was cut to the box boundary.
	VisibilityClipped Visibility = "clipped"
)

// Connection is a proximity edge between two nodes. From/To always hold the
// original endpoints; ClipFrom/ClipTo hold the renderable segment.
type Connection struct {
	FromID     string     `json:"from_id"`
	ToID       string     `json:"to_id"`
	From       geom.Point `json:"from"`
	To         geom.Point `json:"to"`
	ClipFrom   geom.Point `json:"clip_from"`
	ClipTo     geom.Point `json:"clip_to"`
	Visibility Visibility `json:"visibility"`
}

// GenerateConnections produces an edge for every node pair closer than
// maxDistance. This is the "near enough to draw a line" graph, not a
// semantic relationship. maxDistance <= 0 falls back to the default.
func GenerateConnections(nodes []mapnode.Positioned, maxDistance float64) []Connection {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	var out []Connection
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			a, b := nodes[i], nodes[j]
			if a.Position.DistanceTo(b.Position) >= maxDistance {
				continue
			}
			out = append(out, Connection{
				FromID:   a.Node.ID,
				ToID:     b.Node.ID,
				From:     a.Position,
				To:       b.Position,
				ClipFrom: a.Position,
				ClipTo:   b.Position,
			})
		}
	}
	return out
}

// CullConnections classifies each edge against the padded bounds and clips
// partially visible segments exactly to the box edge:
//   - both endpoints inside: fully visible, unchanged;
//   - one endpoint inside: the outside endpoint is clipped to the boundary
//     along the segment direction, the inside endpoint stays put;
//   - both outside: the segment is kept only if it crosses the box, clipped
//     to its true entry and exit points.
func CullConnections(conns []Connection, bounds geom.Bounds, padding float64) []Connection {
	box := bounds.Expanded(padding)
	var out []Connection
	for _, c := range conns {
		fromIn := box.Contains(c.From)
		toIn := box.Contains(c.To)

		switch {
		case fromIn && toIn:
			c.ClipFrom, c.ClipTo = c.From, c.To
			c.Visibility = VisibilityFull
			out = append(out, c)

		case fromIn != toIn:
			inside, outside := c.From, c.To
			if toIn {
				inside, outside = c.To, c.From
			}
			clipped, ok := clipToBox(inside, outside, box)
			if !ok {
				continue
			}
			if fromIn {
				c.ClipFrom, c.ClipTo = inside, clipped
			} else {
				c.ClipFrom, c.ClipTo = clipped, inside
			}
			c.Visibility = VisibilityClipped
			out = append(out, c)

		default:
			entry, exit, ok := crossBox(c.From, c.To, box)
			if !ok {
				continue
			}
			c.ClipFrom, c.ClipTo = entry, exit
			c.Visibility = VisibilityClipped
			out = append(out, c)
		}
	}
	return out
}

// VisibleConnections is the fast path for a node set already known to be on
// screen: every generated edge is fully visible by construction, so the
// clipping logic is skipped entirely.
func VisibleConnections(visible []mapnode.Positioned, maxDistance float64) []Connection {
	conns := GenerateConnections(visible, maxDistance)
	for i := range conns {
		conns[i].Visibility = VisibilityFull
	}
	return conns
}

// clipToBox clamps the outside endpoint of a segment to the box boundary
// using per-axis parametric clamping. The returned point lies on both the
// box edge and the original segment.
func clipToBox(inside, outside geom.Point, box geom.Bounds) (geom.Point, bool) {
	dx := outside.X - inside.X
	dy := outside.Y - inside.Y

	t := 1.0
	if math.Abs(dx) > epsilon {
		if outside.X > box.MaxX {
			t = math.Min(t, (box.MaxX-inside.X)/dx)
		} else if outside.X < box.MinX {
			t = math.Min(t, (box.MinX-inside.X)/dx)
		}
	}
	if math.Abs(dy) > epsilon {
		if outside.Y > box.MaxY {
			t = math.Min(t, (box.MaxY-inside.Y)/dy)
		} else if outside.Y < box.MinY {
			t = math.Min(t, (box.MinY-inside.Y)/dy)
		}
	}
	if t < 0 || t > 1 {
		return geom.Point{}, false
	}
	return geom.Point{X: inside.X + dx*t, Y: inside.Y + dy*t}, true
}

// crossBox intersects a segment with the four box edges via parametric
// line-line intersection. Intersections are sorted by segment parameter to
// yield true entry/exit points; fewer than two means no crossing.
func crossBox(a, b geom.Point, box geom.Bounds) (entry, exit geom.Point, ok bool) {
	corners := [4][2]geom.Point{
		{{X: box.MinX, Y: box.MinY}, {X: box.MaxX, Y: box.MinY}}, // bottom
		{{X: box.MaxX, Y: box.MinY}, {X: box.MaxX, Y: box.MaxY}}, // right
		{{X: box.MaxX, Y: box.MaxY}, {X: box.MinX, Y: box.MaxY}}, // top
		{{X: box.MinX, Y: box.MaxY}, {X: box.MinX, Y: box.MinY}}, // left
	}

	type hit struct {
		t float64
		p geom.Point
	}
	var hits []hit
	for _, edge := range corners {
		if t, p, found := segmentIntersection(a, b, edge[0], edge[1]); found {
			hits = append(hits, hit{t: t, p: p})
		}
	}
	if len(hits) < 2 {
		return geom.Point{}, geom.Point{}, false
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].t < hits[j].t })
	return hits[0].p, hits[len(hits)-1].p, true
}

// segmentIntersection returns the parameter on segment a-b and the point
// where it crosses segment c-d, if both parameters are within [0,1].
func segmentIntersection(a, b, c, d geom.Point) (float64, geom.Point, bool) {
	denom := (b.X-a.X)*(d.Y-c.Y) - (b.Y-a.Y)*(d.X-c.X)
	if math.Abs(denom) < epsilon {
		return 0, geom.Point{}, false
	}
	t := ((c.X-a.X)*(d.Y-c.Y) - (c.Y-a.Y)*(d.X-c.X)) / denom
	u := ((c.X-a.X)*(b.Y-a.Y) - (c.Y-a.Y)*(b.X-a.X)) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return 0, geom.Point{}, false
	}
	return t, geom.Point{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)}, true
}
