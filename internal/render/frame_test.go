package render

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/xkazm04/course-sub000/internal/cull"
	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/internal/service"
	"github.com/xkazm04/course-sub000/internal/spatial"
	"github.com/xkazm04/course-sub000/internal/viewport"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

func testFrame() *service.Frame {
	a := mapnode.Positioned{
		Node:     &mapnode.Node{ID: "a", Name: "a", Kind: mapnode.KindCourse, Depth: 1, Status: mapnode.StatusCompleted, Progress: 100},
		Position: geom.Point{X: 100, Y: 100},
	}
	b := mapnode.Positioned{
		Node:     &mapnode.Node{ID: "b", Name: "b", Kind: mapnode.KindCourse, Depth: 1, Status: mapnode.StatusAvailable},
		Position: geom.Point{X: 250, Y: 100},
	}
	return &service.Frame{
		Viewport:    viewport.State{Scale: 1},
		Bounds:      geom.Bounds{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 800},
		Tier:        "node",
		Nodes:       []mapnode.Positioned{a, b},
		Connections: cull.GenerateConnections([]mapnode.Positioned{a, b}, 250),
		BuiltAt:     time.Now(),
	}
}

func TestRenderFramePNG(t *testing.T) {
	r := NewFrameRenderer(Config{Width: 320, Height: 240, HexRadius: 40})

	data, err := r.RenderFrame(testFrame())
	if err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a decodable PNG: %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Fatalf("unexpected image size: %v", img.Bounds())
	}
}

func TestRenderClusterFrame(t *testing.T) {
	r := NewFrameRenderer(Config{Width: 128, Height: 128})

	f := &service.Frame{
		Viewport: viewport.State{Scale: 0.3},
		Bounds:   geom.Bounds{MinX: 0, MinY: 0, MaxX: 3000, MaxY: 3000},
		Tier:     "cluster",
		Clusters: []spatial.Cluster{
			{ID: "cluster:0:0", Centroid: geom.Point{X: 200, Y: 200}, Count: 12, Status: mapnode.StatusInProgress},
		},
		BuiltAt: time.Now(),
	}
	data, err := r.RenderFrame(f)
	if err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("output is not a decodable PNG: %v", err)
	}
}

func TestRenderNilFrame(t *testing.T) {
	r := NewFrameRenderer(Config{})
	if _, err := r.RenderFrame(nil); err == nil {
		t.Fatalf("expected error for nil frame")
	}
}
