// Package service provides the map view engine: it owns the viewport,
// the spatial index and the LOD selector for one map session and turns
// viewport updates into throttled render frames.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkazm04/course-sub000/internal/cull"
	"github.com/xkazm04/course-sub000/internal/hexgrid"
	"github.com/xkazm04/course-sub000/internal/loader"
	"github.com/xkazm04/course-sub000/internal/lod"
	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/internal/spatial"
	"github.com/xkazm04/course-sub000/internal/viewport"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

// DefaultMaxRenderNodes caps the per-frame node count. Past this the frame
// keeps the nodes closest to the viewport center.
const DefaultMaxRenderNodes = 200

// MapServiceConfig contains map service configuration.
type MapServiceConfig struct {
	Domain          string
	CanvasWidth     float64
	CanvasHeight    float64
	HexSpacing      float64 // hex size; DefaultSpacing when zero
	MaxRenderNodes  int
	ConnectionDist  float64       // max connection length; DefaultMaxDistance when zero
	ClusterGridSize float64       // cluster aggregation cell; package default when zero
	FrameInterval   time.Duration // frame throttle; DefaultFrameInterval when zero
	WorldBounds     geom.Bounds   // initial index bounds; sensible default when zero
	Loader          *loader.Loader
	Logger          *zap.Logger
}

// FrameStats carries per-frame diagnostics.
type FrameStats struct {
	TotalNodes     int     `json:"total_nodes"`
	VisibleNodes   int     `json:"visible_nodes"`
	RenderedNodes  int     `json:"rendered_nodes"`
	ClusterCount   int     `json:"cluster_count"`
	ConnectionCnt  int     `json:"connection_count"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	BuildMicros    int64   `json:"build_micros"`
	FramesBuilt    uint64  `json:"frames_built"`
	TruncatedNodes int     `json:"truncated_nodes"`
}

// Frame is one rendered snapshot of the map view. Exactly one of Clusters
// or Nodes is populated, per the LOD tier.
type Frame struct {
	Viewport    viewport.State       `json:"viewport"`
	Bounds      geom.Bounds          `json:"bounds"`
	Tier        string               `json:"tier"`
	Clusters    []spatial.Cluster    `json:"clusters,omitempty"`
	Nodes       []mapnode.Positioned `json:"nodes,omitempty"`
	Connections []cull.Connection    `json:"connections,omitempty"`
	Stats       FrameStats           `json:"stats"`
	BuiltAt     time.Time            `json:"built_at"`
}

// MapService coordinates the per-session render pipeline.
type MapService struct {
	cfg      MapServiceConfig
	vp       *viewport.Manager
	tree     *spatial.Quadtree
	selector *lod.Selector
	loader   *loader.Loader
	sched    *Scheduler
	log      *zap.Logger

	// stateMu guards the viewport manager and the quadtree, neither of
	// which carries its own locking. Mutations arrive on request
	// goroutines while the frame scheduler reads on its timer goroutine.
	stateMu sync.RWMutex

	frameMu     sync.RWMutex
	frame       *Frame
	framesBuilt uint64
}

// NewMapService creates a map service for one session.
func NewMapService(cfg MapServiceConfig) *MapService {
	if cfg.CanvasWidth <= 0 {
		cfg.CanvasWidth = 1920
	}
	if cfg.CanvasHeight <= 0 {
		cfg.CanvasHeight = 1080
	}
	if cfg.HexSpacing <= 0 {
		cfg.HexSpacing = hexgrid.DefaultSpacing
	}
	if cfg.MaxRenderNodes <= 0 {
		cfg.MaxRenderNodes = DefaultMaxRenderNodes
	}
	if cfg.ConnectionDist <= 0 {
		cfg.ConnectionDist = cull.DefaultMaxDistance
	}
	world := cfg.WorldBounds
	if world.MinX == 0 && world.MaxX == 0 && world.MinY == 0 && world.MaxY == 0 {
		world = geom.Bounds{MinX: -10000, MinY: -10000, MaxX: 10000, MaxY: 10000}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	tree := spatial.New(world)
	s := &MapService{
		cfg:      cfg,
		vp:       viewport.New(cfg.CanvasWidth, cfg.CanvasHeight, cfg.HexSpacing),
		tree:     tree,
		selector: lod.NewSelector(tree, cfg.ClusterGridSize),
		loader:   cfg.Loader,
		log:      log.Named("mapservice"),
	}
	s.sched = NewScheduler(cfg.FrameInterval, s.rebuildFrame)
	return s
}

// SetNodes lays out the node set on the hex spiral and rebuilds the index.
func (s *MapService) SetNodes(nodes []*mapnode.Node) error {
	placed := hexgrid.Layout(nodes, hexgrid.Config{
		Spacing:      s.cfg.HexSpacing,
		CanvasWidth:  s.cfg.CanvasWidth,
		CanvasHeight: s.cfg.CanvasHeight,
	})

	s.stateMu.Lock()
	err := s.tree.BulkInsert(placed)
	s.stateMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to index nodes: %w", err)
	}

	s.selector.InvalidateCache()
	s.rebuildFrame()
	s.log.Info("node set replaced", zap.Int("count", len(placed)))
	return nil
}

// UpsertNode inserts or repositions a single node in the index.
func (s *MapService) UpsertNode(item mapnode.Positioned) error {
	s.stateMu.Lock()
	err := s.tree.Update(item)
	s.stateMu.Unlock()
	if err != nil {
		return err
	}
	s.selector.InvalidateCache()
	s.sched.Trigger()
	return nil
}

// RemoveNode drops a node from the index.
func (s *MapService) RemoveNode(id string) bool {
	s.stateMu.Lock()
	removed := s.tree.Remove(id)
	s.stateMu.Unlock()
	if removed {
		s.selector.InvalidateCache()
		s.sched.Trigger()
	}
	return removed
}

// SetViewport applies a pan/zoom update. Frame recomputation is throttled;
// bursts of updates coalesce into the trailing frame. Prefetch for the
// predicted travel direction runs in the background and never blocks.
func (s *MapService) SetViewport(ctx context.Context, state viewport.State, now time.Time) {
	s.stateMu.Lock()
	s.vp.SetViewport(state, now)
	var prefetchBounds geom.Bounds
	if s.loader != nil {
		prefetchBounds, _ = s.vp.ExtendedBounds()
	}
	s.stateMu.Unlock()

	s.sched.Trigger()
	if s.loader != nil {
		s.loader.Prefetch(ctx, prefetchBounds, s.cfg.Domain, "")
	}
}

// Resize updates the canvas dimensions.
func (s *MapService) Resize(w, h float64) {
	s.stateMu.Lock()
	s.vp.Resize(w, h)
	s.stateMu.Unlock()
	s.sched.Trigger()
}

// Frame returns the latest built frame, building one synchronously if none
// exists yet.
func (s *MapService) Frame() *Frame {
	s.frameMu.RLock()
	f := s.frame
	s.frameMu.RUnlock()
	if f != nil {
		return f
	}
	s.rebuildFrame()
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frame
}

// rebuildFrame computes a frame from one coherent snapshot of viewport and
// index state: the read lock is held across the whole query, so a pan or
// index mutation arriving mid-build cannot mix two viewports in one frame.
func (s *MapService) rebuildFrame() {
	start := time.Now()

	s.stateMu.RLock()
	state := s.vp.State()
	visible := s.vp.VisibleBounds()
	r := s.selector.Renderables(visible, state.Scale)
	total := s.tree.Len()
	s.stateMu.RUnlock()

	frame := &Frame{
		Viewport: state,
		Bounds:   visible,
		Tier:     r.Tier.String(),
		BuiltAt:  start,
	}

	switch r.Tier {
	case lod.TierCluster:
		frame.Clusters = r.Clusters
		frame.Stats.ClusterCount = len(r.Clusters)
	default:
		nodes := r.Nodes
		frame.Stats.VisibleNodes = len(nodes)
		if len(nodes) > s.cfg.MaxRenderNodes {
			center := visible.Center()
			sort.Slice(nodes, func(i, j int) bool {
				return nodes[i].Position.DistanceTo(center) < nodes[j].Position.DistanceTo(center)
			})
			frame.Stats.TruncatedNodes = len(nodes) - s.cfg.MaxRenderNodes
			nodes = nodes[:s.cfg.MaxRenderNodes]
		}
		frame.Nodes = nodes
		frame.Connections = cull.VisibleConnections(nodes, s.cfg.ConnectionDist)
		frame.Stats.RenderedNodes = len(nodes)
		frame.Stats.ConnectionCnt = len(frame.Connections)
	}

	frame.Stats.TotalNodes = total
	if s.loader != nil {
		frame.Stats.CacheHitRate = s.loader.CacheHitRate()
	}
	frame.Stats.BuildMicros = time.Since(start).Microseconds()

	s.frameMu.Lock()
	s.framesBuilt++
	frame.Stats.FramesBuilt = s.framesBuilt
	s.frame = frame
	s.frameMu.Unlock()
}

// GetNode looks up a node in the index by id.
func (s *MapService) GetNode(id string) (mapnode.Positioned, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.tree.Get(id)
}

// NearestNodes returns the k indexed nodes closest to a world point.
func (s *MapService) NearestNodes(p geom.Point, k int) []mapnode.Positioned {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.tree.KNearest(p, k)
}

// IsInViewport reports whether the node with id sits inside the current
// visible bounds.
func (s *MapService) IsInViewport(id string) bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	item, ok := s.tree.Get(id)
	if !ok {
		return false
	}
	return s.vp.VisibleBounds().Contains(item.Position)
}

// Categorize splits the indexed nodes around the current viewport into
// visible, prefetch and far rings.
func (s *MapService) Categorize() viewport.Categorized {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	_, far := s.vp.ExtendedBounds()
	return s.vp.CategorizeNodes(s.tree.Query(far))
}

// NodeCount returns the number of indexed nodes.
func (s *MapService) NodeCount() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.tree.Len()
}

// Refresh loads the nodes inside the current visible bounds from upstream
// and merges them into the index at their hex positions.
func (s *MapService) Refresh(ctx context.Context) error {
	if s.loader == nil {
		return nil
	}
	s.stateMu.RLock()
	visible := s.vp.VisibleBounds()
	s.stateMu.RUnlock()

	nodes, err := s.loader.LoadViewportNodes(ctx, visible, s.cfg.Domain, "")
	if err != nil {
		return fmt.Errorf("failed to refresh viewport nodes: %w", err)
	}
	return s.SetNodes(nodes)
}

// CacheHitRate reports the loader's cache hit rate, 0 when no loader is
// attached.
func (s *MapService) CacheHitRate() float64 {
	if s.loader == nil {
		return 0
	}
	return s.loader.CacheHitRate()
}

// ClearCaches drops loader caches and memoized cluster results.
func (s *MapService) ClearCaches() error {
	s.selector.InvalidateCache()
	if s.loader != nil {
		return s.loader.ClearCaches()
	}
	return nil
}

// Close stops the frame scheduler.
func (s *MapService) Close() {
	s.sched.Stop()
}
