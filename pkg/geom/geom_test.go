package geom

import (
	"math"
	"testing"
)

func TestBoundsContains(t *testing.T) {
	b := Bounds{MinX: -10, MinY: -10, MaxX: 10, MaxY: 10}

	t.Run("inside", func(t *testing.T) {
		if !b.Contains(Point{X: 0, Y: 0}) {
			t.Error("center should be contained")
		}
	})

	t.Run("edge", func(t *testing.T) {
		if !b.Contains(Point{X: 10, Y: -10}) {
			t.Error("edges are inclusive")
		}
	})

	t.Run("outside", func(t *testing.T) {
		if b.Contains(Point{X: 10.001, Y: 0}) {
			t.Error("point past max edge should not be contained")
		}
	})

	t.Run("padded", func(t *testing.T) {
		if !b.ContainsPadded(Point{X: 12, Y: 0}, 2) {
			t.Error("padding should extend containment")
		}
	})
}

func TestBoundsIntersects(t *testing.T) {
	a := Bounds{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}

	if !a.Intersects(Bounds{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}) {
		t.Error("overlapping boxes should intersect")
	}
	if !a.Intersects(Bounds{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}) {
		t.Error("touching boxes should intersect")
	}
	if a.Intersects(Bounds{MinX: 11, MinY: 0, MaxX: 20, MaxY: 10}) {
		t.Error("disjoint boxes should not intersect")
	}
}

func TestBoundsScaled(t *testing.T) {
	b := Bounds{MinX: -10, MinY: -20, MaxX: 10, MaxY: 20}
	s := b.Scaled(2)

	if s.Width() != 2*b.Width() || s.Height() != 2*b.Height() {
		t.Errorf("unexpected scaled extents: %v", s)
	}
	if s.Center() != b.Center() {
		t.Errorf("scaling should preserve the center: %v vs %v", s.Center(), b.Center())
	}
}

func TestBoundsAround(t *testing.T) {
	points := []Point{{X: 0, Y: 0}, {X: 100, Y: 50}, {X: -20, Y: 10}}
	b := BoundsAround(points, 0.5)

	for _, p := range points {
		if !b.Contains(p) {
			t.Errorf("point %v not inside padded bounds %v", p, b)
		}
	}
	// 50% of the larger extent (120) on each side.
	if got := b.Width(); math.Abs(got-240) > 1e-9 {
		t.Errorf("expected padded width 240, got %v", got)
	}
}

func TestPointIsFinite(t *testing.T) {
	if !(Point{X: 1, Y: 2}).IsFinite() {
		t.Error("finite point reported as non-finite")
	}
	if (Point{X: math.NaN(), Y: 0}).IsFinite() {
		t.Error("NaN should be non-finite")
	}
	if (Point{X: 0, Y: math.Inf(1)}).IsFinite() {
		t.Error("Inf should be non-finite")
	}
}
