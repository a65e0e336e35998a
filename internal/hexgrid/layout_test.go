package hexgrid

import (
	"fmt"
	"math"
	"testing"

	"github.com/xkazm04/course-sub000/internal/mapnode"
)

func makeNodes(n int) []*mapnode.Node {
	nodes := make([]*mapnode.Node, n)
	for i := range nodes {
		nodes[i] = &mapnode.Node{
			ID:     fmt.Sprintf("node-%03d", i),
			Name:   fmt.Sprintf("Node %d", i),
			Kind:   mapnode.KindCourse,
			Depth:  1,
			Status: mapnode.StatusAvailable,
		}
	}
	return nodes
}

func TestSpiralCoords(t *testing.T) {
	t.Run("originFirst", func(t *testing.T) {
		coords := SpiralCoords(1)
		if len(coords) != 1 || coords[0] != (mapnode.AxialCoord{}) {
			t.Fatalf("expected single origin coord, got %v", coords)
		}
	})

	t.Run("ringSizes", func(t *testing.T) {
		// Origin + ring1 (6) + ring2 (12) = 19 cells.
		coords := SpiralCoords(19)
		if len(coords) != 19 {
			t.Fatalf("expected 19 coords, got %d", len(coords))
		}
		ringOf := func(c mapnode.AxialCoord) int {
			q, r := c.Q, c.R
			s := -q - r
			return (abs(q) + abs(r) + abs(s)) / 2
		}
		for i, c := range coords {
			want := 0
			switch {
			case i == 0:
				want = 0
			case i <= 6:
				want = 1
			default:
				want = 2
			}
			if ringOf(c) != want {
				t.Errorf("coord %d (%v): expected ring %d, got %d", i, c, want, ringOf(c))
			}
		}
	})

	t.Run("uniqueCoords", func(t *testing.T) {
		coords := SpiralCoords(169) // through ring 7
		seen := make(map[mapnode.AxialCoord]bool, len(coords))
		for _, c := range coords {
			if seen[c] {
				t.Fatalf("duplicate coord %v", c)
			}
			seen[c] = true
		}
	})
}

func TestLayoutDeterminism(t *testing.T) {
	nodes := makeNodes(50)
	cfg := Config{Spacing: 80, CanvasWidth: 1920, CanvasHeight: 1080}

	a := Layout(nodes, cfg)
	b := Layout(nodes, cfg)

	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("expected 50 positioned nodes, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Hex != b[i].Hex || a[i].Position != b[i].Position {
			t.Errorf("layout differs at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLayoutCentering(t *testing.T) {
	nodes := makeNodes(1)
	out := Layout(nodes, Config{CanvasWidth: 800, CanvasHeight: 600})
	if out[0].Position.X != 400 || out[0].Position.Y != 300 {
		t.Errorf("first node should sit at the canvas midpoint, got %v", out[0].Position)
	}
}

func TestLayoutSpacing(t *testing.T) {
	nodes := makeNodes(7)
	out := Layout(nodes, Config{Spacing: 100})

	// Every ring-1 node is exactly sqrt(3)*spacing from the origin node for a
	// pointy-top grid.
	want := math.Sqrt(3) * 100
	for _, p := range out[1:] {
		got := p.Position.DistanceTo(out[0].Position)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("node %s: expected distance %.4f from origin, got %.4f", p.Node.ID, want, got)
		}
	}
}

func TestLayoutEmpty(t *testing.T) {
	if out := Layout(nil, Config{}); len(out) != 0 {
		t.Errorf("empty input should produce empty layout, got %d", len(out))
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
