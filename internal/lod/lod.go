// Package lod selects the level of detail for a rendered frame from the
// viewport zoom scale, trading per-node fidelity for cluster aggregates as
// the camera zooms out.
package lod

import (
	"fmt"
	"sync"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/internal/spatial"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

// Tier is a discrete detail level.
type Tier int

const (
	// TierCluster renders grid-aggregated clusters only.
	TierCluster Tier = iota
	// TierNode renders individual nodes without secondary detail.
	TierNode
	// TierDetailed renders nodes with full detail (labels, progress).
	TierDetailed
)

func (t Tier) String() string {
	switch t {
	case TierCluster:
		return "cluster"
	case TierNode:
		return "node"
	case TierDetailed:
		return "detailed"
	}
	return "unknown"
}

// Scale thresholds between tiers. Scales below clusterMaxScale collapse to
// clusters; at detailedMinScale and above full detail is shown.
const (
	clusterMaxScale  = 0.5
	detailedMinScale = 1.2
)

// DefaultClusterGridSize is the world-space cell size used to aggregate
// nodes at the cluster tier.
const DefaultClusterGridSize = 400.0

// TierForScale maps a zoom scale to its detail tier.
func TierForScale(scale float64) Tier {
	switch {
	case scale < clusterMaxScale:
		return TierCluster
	case scale < detailedMinScale:
		return TierNode
	default:
		return TierDetailed
	}
}

// Renderables is the LOD-resolved content of one frame: exactly one of
// Clusters or Nodes is populated, depending on Tier.
type Renderables struct {
	Tier     Tier
	Clusters []spatial.Cluster
	Nodes    []mapnode.Positioned
}

// Selector resolves frame content at the right detail level, memoizing
// cluster computations between index changes. Cluster queries repeat with
// identical inputs on every frame while the camera pans a zoomed-out view,
// so caching them is the difference between O(1) and O(n) per frame.
type Selector struct {
	tree     *spatial.Quadtree
	gridSize float64

	mu    sync.Mutex
	cache map[string][]spatial.Cluster
}

// NewSelector creates a selector over the given index. gridSize <= 0 uses
// DefaultClusterGridSize.
func NewSelector(tree *spatial.Quadtree, gridSize float64) *Selector {
	if gridSize <= 0 {
		gridSize = DefaultClusterGridSize
	}
	return &Selector{
		tree:     tree,
		gridSize: gridSize,
		cache:    make(map[string][]spatial.Cluster),
	}
}

// Renderables resolves the content for a frame at the given scale over the
// query bounds. At the cluster tier the per-node query is skipped entirely.
func (s *Selector) Renderables(bounds geom.Bounds, scale float64) Renderables {
	tier := TierForScale(scale)
	if tier == TierCluster {
		return Renderables{Tier: tier, Clusters: s.clusters(bounds)}
	}
	return Renderables{Tier: tier, Nodes: s.tree.Query(bounds)}
}

func (s *Selector) clusters(bounds geom.Bounds) []spatial.Cluster {
	key := clusterCacheKey(bounds, s.gridSize)

	s.mu.Lock()
	cached, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return cached
	}

	clusters := s.tree.Clusters(bounds, s.gridSize)

	s.mu.Lock()
	s.cache[key] = clusters
	s.mu.Unlock()
	return clusters
}

// InvalidateCache drops memoized clusters. Call after any index mutation.
func (s *Selector) InvalidateCache() {
	s.mu.Lock()
	s.cache = make(map[string][]spatial.Cluster)
	s.mu.Unlock()
}

// GridSize returns the cluster aggregation cell size.
func (s *Selector) GridSize() float64 { return s.gridSize }

// clusterCacheKey quantizes bounds to whole units; sub-unit pans hit the
// same entry.
func clusterCacheKey(b geom.Bounds, gridSize float64) string {
	return fmt.Sprintf("%.0f:%.0f:%.0f:%.0f:%.0f", b.MinX, b.MinY, b.MaxX, b.MaxY, gridSize)
}
