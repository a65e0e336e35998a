package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/internal/viewport"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

func testService(t *testing.T) *MapService {
	t.Helper()
	s := NewMapService(MapServiceConfig{
		Domain:       "testing",
		CanvasWidth:  1000,
		CanvasHeight: 1000,
	})
	t.Cleanup(s.Close)
	return s
}

func posItem(id string, x, y float64) mapnode.Positioned {
	return mapnode.Positioned{
		Node: &mapnode.Node{
			ID:     id,
			Name:   id,
			Kind:   mapnode.KindCourse,
			Depth:  1,
			Status: mapnode.StatusAvailable,
		},
		Position: geom.Point{X: x, Y: y},
	}
}

func TestFrameCoherenceAcrossVisibilityBoundary(t *testing.T) {
	s := testService(t)
	s.SetViewport(context.Background(), viewport.State{Scale: 1}, time.Now())

	// 37 nodes inside the visible box, the rest far outside it.
	for i := 0; i < 500; i++ {
		var x, y float64
		if i < 37 {
			x, y = 100+float64(i)*20, 500
		} else {
			x, y = 8000+float64(i)*20, 8000
		}
		require.NoError(t, s.UpsertNode(posItem(fmt.Sprintf("n%03d", i), x, y)))
	}

	s.rebuildFrame()
	f := s.Frame()
	assert.Equal(t, "node", f.Tier)
	assert.Equal(t, 500, f.Stats.TotalNodes)
	assert.Equal(t, 37, f.Stats.VisibleNodes)
	assert.Equal(t, 37, f.Stats.RenderedNodes)
	assert.Len(t, f.Nodes, 37)
	for _, n := range f.Nodes {
		assert.True(t, f.Bounds.Contains(n.Position), "frame node %s outside frame bounds", n.Node.ID)
	}
}

func TestRenderCapKeepsNodesNearestCenter(t *testing.T) {
	s := testService(t)
	s.SetViewport(context.Background(), viewport.State{Scale: 1}, time.Now())

	// 100 nodes near the viewport center (500,500), 200 near the edges.
	near := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("near%03d", i)
		near[id] = true
		require.NoError(t, s.UpsertNode(posItem(id, 480+float64(i%10)*4, 480+float64(i/10)*4)))
	}
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("edge%03d", i)
		require.NoError(t, s.UpsertNode(posItem(id, 10+float64(i%20)*2, 10+float64(i/20)*2)))
	}

	s.rebuildFrame()
	f := s.Frame()
	assert.Equal(t, 300, f.Stats.VisibleNodes)
	assert.Equal(t, DefaultMaxRenderNodes, f.Stats.RenderedNodes)
	assert.Equal(t, 100, f.Stats.TruncatedNodes)

	rendered := make(map[string]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		rendered[n.Node.ID] = true
	}
	for id := range near {
		assert.True(t, rendered[id], "node %s near the center must survive the cap", id)
	}
}

func TestClusterTierFrame(t *testing.T) {
	s := testService(t)
	for i := 0; i < 20; i++ {
		require.NoError(t, s.UpsertNode(posItem(fmt.Sprintf("n%02d", i), float64(i)*50, float64(i)*50)))
	}
	s.SetViewport(context.Background(), viewport.State{Scale: 0.3}, time.Now())

	// The throttled rebuild may trail; wait for the cluster frame.
	var f *Frame
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f = s.Frame()
		if f.Tier == "cluster" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, "cluster", f.Tier)
	assert.Empty(t, f.Nodes)
	assert.NotEmpty(t, f.Clusters)
	assert.Equal(t, len(f.Clusters), f.Stats.ClusterCount)
}

func TestSetNodesLaysOutSpiral(t *testing.T) {
	s := testService(t)
	nodes := make([]*mapnode.Node, 7)
	for i := range nodes {
		nodes[i] = &mapnode.Node{
			ID:     fmt.Sprintf("n%d", i),
			Name:   fmt.Sprintf("node %d", i),
			Kind:   mapnode.KindCourse,
			Depth:  1,
			Status: mapnode.StatusAvailable,
		}
	}
	require.NoError(t, s.SetNodes(nodes))

	assert.Equal(t, 7, s.NodeCount())
	center, ok := s.GetNode("n0")
	require.True(t, ok)
	assert.InDelta(t, 500, center.Position.X, 1e-9, "first node sits at the canvas center")
	assert.InDelta(t, 500, center.Position.Y, 1e-9)
}

func TestNearestNodes(t *testing.T) {
	s := testService(t)
	require.NoError(t, s.UpsertNode(posItem("a", 0, 0)))
	require.NoError(t, s.UpsertNode(posItem("b", 100, 0)))
	require.NoError(t, s.UpsertNode(posItem("c", 500, 0)))

	got := s.NearestNodes(geom.Point{X: 10, Y: 0}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Node.ID)
	assert.Equal(t, "b", got[1].Node.ID)
}

func TestIsInViewport(t *testing.T) {
	s := testService(t)
	s.SetViewport(context.Background(), viewport.State{Scale: 1}, time.Now())
	require.NoError(t, s.UpsertNode(posItem("in", 500, 500)))
	require.NoError(t, s.UpsertNode(posItem("out", 5000, 5000)))

	assert.True(t, s.IsInViewport("in"))
	assert.False(t, s.IsInViewport("out"))
	assert.False(t, s.IsInViewport("missing"))
}

func TestRemoveNodeUpdatesFrame(t *testing.T) {
	s := testService(t)
	s.SetViewport(context.Background(), viewport.State{Scale: 1}, time.Now())
	require.NoError(t, s.UpsertNode(posItem("a", 500, 500)))
	s.rebuildFrame()
	require.Equal(t, 1, s.Frame().Stats.TotalNodes)

	assert.True(t, s.RemoveNode("a"))
	assert.False(t, s.RemoveNode("a"))
	assert.Equal(t, 0, s.NodeCount())
}
