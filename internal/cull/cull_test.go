package cull

import (
	"math"
	"testing"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

func positioned(id string, x, y float64) mapnode.Positioned {
	return mapnode.Positioned{
		Node:     &mapnode.Node{ID: id, Kind: mapnode.KindChapter, Depth: 2},
		Position: geom.Point{X: x, Y: y},
	}
}

func conn(x1, y1, x2, y2 float64) Connection {
	return Connection{
		FromID: "a", ToID: "b",
		From: geom.Point{X: x1, Y: y1},
		To:   geom.Point{X: x2, Y: y2},
	}
}

func TestGenerateConnections(t *testing.T) {
	nodes := []mapnode.Positioned{
		positioned("a", 0, 0),
		positioned("b", 100, 0),
		positioned("c", 1000, 0),
	}

	conns := GenerateConnections(nodes, 250)
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection (a-b), got %d", len(conns))
	}
	if conns[0].FromID != "a" || conns[0].ToID != "b" {
		t.Errorf("unexpected edge: %s-%s", conns[0].FromID, conns[0].ToID)
	}

	t.Run("thresholdExclusive", func(t *testing.T) {
		exact := []mapnode.Positioned{positioned("a", 0, 0), positioned("b", 250, 0)}
		if got := GenerateConnections(exact, 250); len(got) != 0 {
			t.Errorf("distance equal to max should not connect, got %d edges", len(got))
		}
	})
}

func TestCullBothInside(t *testing.T) {
	box := geom.Bounds{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	out := CullConnections([]Connection{conn(10, 10, 90, 90)}, box, 0)

	if len(out) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(out))
	}
	c := out[0]
	if c.Visibility != VisibilityFull {
		t.Errorf("expected full visibility, got %s", c.Visibility)
	}
	if c.ClipFrom != c.From || c.ClipTo != c.To {
		t.Errorf("fully visible edge must be unchanged: %+v", c)
	}
}

func TestCullOneEndpointInside(t *testing.T) {
	box := geom.Bounds{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	// From (50,50) inside to (150,50) outside through the right edge.
	out := CullConnections([]Connection{conn(50, 50, 150, 50)}, box, 0)

	if len(out) != 1 {
		t.Fatalf("expected 1 clipped edge, got %d", len(out))
	}
	c := out[0]
	if c.Visibility != VisibilityClipped {
		t.Errorf("expected clipped visibility, got %s", c.Visibility)
	}
	if c.ClipFrom != c.From {
		t.Errorf("inside endpoint must stay unclipped, got %v", c.ClipFrom)
	}
	// Clip point lies exactly on the box boundary and on the segment.
	if c.ClipTo.X != 100 || c.ClipTo.Y != 50 {
		t.Errorf("expected clip point (100,50), got %v", c.ClipTo)
	}

	t.Run("diagonal", func(t *testing.T) {
		out := CullConnections([]Connection{conn(90, 90, 130, 130)}, box, 0)
		if len(out) != 1 {
			t.Fatalf("expected 1 edge, got %d", len(out))
		}
		p := out[0].ClipTo
		onBoundary := p.X == 100 || p.Y == 100
		if !onBoundary {
			t.Errorf("clip point %v not on box boundary", p)
		}
		// On the original segment: parametrize (90,90)->(130,130), t in [0,1].
		tx := (p.X - 90) / 40
		ty := (p.Y - 90) / 40
		if math.Abs(tx-ty) > 1e-9 || tx < 0 || tx > 1 {
			t.Errorf("clip point %v not on segment (tx=%v ty=%v)", p, tx, ty)
		}
	})
}

func TestCullBothOutside(t *testing.T) {
	box := geom.Bounds{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}

	t.Run("crossing", func(t *testing.T) {
		// Horizontal segment passing straight through the box.
		out := CullConnections([]Connection{conn(-50, 50, 150, 50)}, box, 0)
		if len(out) != 1 {
			t.Fatalf("expected crossing edge to survive, got %d", len(out))
		}
		c := out[0]
		if c.ClipFrom.X != 0 || c.ClipTo.X != 100 {
			t.Errorf("expected entry x=0 exit x=100, got %v -> %v", c.ClipFrom, c.ClipTo)
		}
		if c.ClipFrom.Y != 50 || c.ClipTo.Y != 50 {
			t.Errorf("clip points should stay on the segment line: %v -> %v", c.ClipFrom, c.ClipTo)
		}
	})

	t.Run("missing", func(t *testing.T) {
		// Entirely above the box, parallel to its top edge.
		out := CullConnections([]Connection{conn(-50, 200, 150, 200)}, box, 0)
		if len(out) != 0 {
			t.Errorf("non-crossing edge should be discarded, got %d", len(out))
		}
	})

	t.Run("diagonalCorner", func(t *testing.T) {
		out := CullConnections([]Connection{conn(-10, 60, 60, -10)}, box, 0)
		if len(out) != 1 {
			t.Fatalf("corner-cutting edge should survive, got %d", len(out))
		}
		c := out[0]
		// Entry is ordered before exit along the segment direction.
		if !(c.ClipFrom.X < c.ClipTo.X) {
			t.Errorf("entry/exit not ordered by segment parameter: %v -> %v", c.ClipFrom, c.ClipTo)
		}
	})
}

func TestCullPadding(t *testing.T) {
	box := geom.Bounds{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	// Endpoint at 110 is outside the box but inside 20 units of padding.
	out := CullConnections([]Connection{conn(50, 50, 110, 50)}, box, 20)
	if len(out) != 1 || out[0].Visibility != VisibilityFull {
		t.Fatalf("padded endpoint should count as inside: %+v", out)
	}
}

func TestVisibleConnectionsFastPath(t *testing.T) {
	nodes := []mapnode.Positioned{
		positioned("a", 0, 0),
		positioned("b", 50, 0),
		positioned("c", 60, 40),
	}
	conns := VisibleConnections(nodes, 250)
	if len(conns) != 3 {
		t.Fatalf("expected 3 pairwise edges, got %d", len(conns))
	}
	for _, c := range conns {
		if c.Visibility != VisibilityFull {
			t.Errorf("fast path must mark every edge fully visible, got %s", c.Visibility)
		}
		if c.ClipFrom != c.From || c.ClipTo != c.To {
			t.Errorf("fast path must not clip: %+v", c)
		}
	}
}
