// Package spatial provides a region quadtree over positioned map nodes,
// supporting range queries, count queries, k-nearest lookups and grid
// clustering for the level-of-detail layer.
package spatial

import (
	"fmt"
	"math"
	"sort"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

const (
	// NodeCapacity is the item count at which a leaf subdivides.
	NodeCapacity = 8
	// MaxDepth bounds subdivision; leaves at MaxDepth grow past capacity.
	MaxDepth = 10

	// kNearest search starts with this window radius and doubles it until
	// enough candidates are found or the ceiling is reached.
	knnInitialRadius = 100.0
	knnMaxRadius     = 100000.0

	// bulkPadFraction pads the rebuilt world bounds so subsequent small
	// drifts do not force another full rebuild.
	bulkPadFraction = 0.5
)

// cell is a single quadtree node. Once subdivided it keeps exactly four
// children partitioning its box into quadrants; items are held only in
// leaves and are never duplicated across siblings.
type cell struct {
	bounds   geom.Bounds
	depth    int
	items    []mapnode.Positioned
	children *[4]*cell
	total    int // item count of the whole subtree
}

func (c *cell) isLeaf() bool { return c.children == nil }

// Quadtree is a region quadtree over world-space positions. It is mutated
// only from the session goroutine that owns it, so it carries no locking.
type Quadtree struct {
	root      *cell
	locations map[string]*cell // id -> owning leaf
}

// New creates a quadtree covering the given world bounds.
func New(world geom.Bounds) *Quadtree {
	return &Quadtree{
		root:      &cell{bounds: world},
		locations: make(map[string]*cell),
	}
}

// Len returns the number of indexed items.
func (q *Quadtree) Len() int { return q.root.total }

// WorldBounds returns the current world box.
func (q *Quadtree) WorldBounds() geom.Bounds { return q.root.bounds }

// Insert adds an item to the index. If the position falls outside the world
// bounds, the world box is expanded and the whole tree rebuilt, so callers
// should prefer BulkInsert when replacing the full entity set. A duplicate
// id replaces the existing entry. Non-finite positions are rejected.
func (q *Quadtree) Insert(item mapnode.Positioned) error {
	if item.Node == nil || item.Node.ID == "" {
		return fmt.Errorf("insert: item without node id")
	}
	if !item.Position.IsFinite() {
		return fmt.Errorf("insert %s: non-finite position (%v, %v)", item.Node.ID, item.Position.X, item.Position.Y)
	}
	if _, ok := q.locations[item.Node.ID]; ok {
		return q.Update(item)
	}
	if !q.root.bounds.Contains(item.Position) {
		q.expandTo(item.Position)
	}
	q.insertInto(q.root, item)
	return nil
}

func (q *Quadtree) insertInto(c *cell, item mapnode.Positioned) {
	c.total++
	for !c.isLeaf() {
		c = c.children[c.quadrantFor(item.Position)]
		c.total++
	}

	c.items = append(c.items, item)
	q.locations[item.Node.ID] = c

	if len(c.items) > NodeCapacity && c.depth < MaxDepth {
		q.subdivide(c)
	}
}

// quadrantFor maps a position to a child index: 0=NW 1=NE 2=SW 3=SE.
func (c *cell) quadrantFor(p geom.Point) int {
	midX := (c.bounds.MinX + c.bounds.MaxX) / 2
	midY := (c.bounds.MinY + c.bounds.MaxY) / 2
	idx := 0
	if p.X >= midX {
		idx |= 1
	}
	if p.Y >= midY {
		idx |= 2
	}
	return idx
}

// subdivide splits a leaf into four quadrants and redistributes its items.
// Subdivision is irreversible; removal never merges cells back.
func (q *Quadtree) subdivide(c *cell) {
	b := c.bounds
	midX := (b.MinX + b.MaxX) / 2
	midY := (b.MinY + b.MaxY) / 2

	children := [4]*cell{
		{bounds: geom.Bounds{MinX: b.MinX, MinY: b.MinY, MaxX: midX, MaxY: midY}, depth: c.depth + 1},
		{bounds: geom.Bounds{MinX: midX, MinY: b.MinY, MaxX: b.MaxX, MaxY: midY}, depth: c.depth + 1},
		{bounds: geom.Bounds{MinX: b.MinX, MinY: midY, MaxX: midX, MaxY: b.MaxY}, depth: c.depth + 1},
		{bounds: geom.Bounds{MinX: midX, MinY: midY, MaxX: b.MaxX, MaxY: b.MaxY}, depth: c.depth + 1},
	}
	c.children = &children

	items := c.items
	c.items = nil
	for _, item := range items {
		child := children[c.quadrantFor(item.Position)]
		child.items = append(child.items, item)
		child.total++
		q.locations[item.Node.ID] = child
	}
}

// Remove deletes the item with the given id. Returns false if unknown.
func (q *Quadtree) Remove(id string) bool {
	leaf, ok := q.locations[id]
	if !ok {
		return false
	}
	for i, item := range leaf.items {
		if item.Node.ID == id {
			leaf.items = append(leaf.items[:i], leaf.items[i+1:]...)
			break
		}
	}
	delete(q.locations, id)
	q.decrementTotals(q.root, leaf)
	return true
}

// decrementTotals walks from the root down to target, fixing subtree totals.
func (q *Quadtree) decrementTotals(c, target *cell) {
	c.total--
	if c == target || c.isLeaf() {
		return
	}
	for _, child := range c.children {
		if child.bounds.ContainsBounds(target.bounds) {
			q.decrementTotals(child, target)
			return
		}
	}
}

// Update moves an item to its new position. When the new position is still
// inside the owning leaf's box the item is replaced in place; otherwise it
// is removed and reinserted to handle the cell-boundary crossing.
func (q *Quadtree) Update(item mapnode.Positioned) error {
	if item.Node == nil || item.Node.ID == "" {
		return fmt.Errorf("update: item without node id")
	}
	if !item.Position.IsFinite() {
		return fmt.Errorf("update %s: non-finite position", item.Node.ID)
	}
	leaf, ok := q.locations[item.Node.ID]
	if !ok {
		return q.Insert(item)
	}
	if leaf.bounds.Contains(item.Position) {
		for i := range leaf.items {
			if leaf.items[i].Node.ID == item.Node.ID {
				leaf.items[i] = item
				return nil
			}
		}
	}
	q.Remove(item.Node.ID)
	return q.Insert(item)
}

// Get returns the indexed item for id.
func (q *Quadtree) Get(id string) (mapnode.Positioned, bool) {
	leaf, ok := q.locations[id]
	if !ok {
		return mapnode.Positioned{}, false
	}
	for _, item := range leaf.items {
		if item.Node.ID == id {
			return item, true
		}
	}
	return mapnode.Positioned{}, false
}

// Query returns all items whose position lies within bounds. Only cells
// whose box intersects the query box are visited, so cost tracks the
// spatial density inside bounds rather than total item count.
func (q *Quadtree) Query(bounds geom.Bounds) []mapnode.Positioned {
	var out []mapnode.Positioned
	q.collect(q.root, bounds, &out)
	return out
}

func (q *Quadtree) collect(c *cell, bounds geom.Bounds, out *[]mapnode.Positioned) {
	if c.total == 0 || !c.bounds.Intersects(bounds) {
		return
	}
	if c.isLeaf() {
		for _, item := range c.items {
			if bounds.Contains(item.Position) {
				*out = append(*out, item)
			}
		}
		return
	}
	for _, child := range c.children {
		q.collect(child, bounds, out)
	}
}

// QueryCount counts items within bounds. Cells wholly inside the query box
// contribute their precomputed subtree totals without enumerating items.
func (q *Quadtree) QueryCount(bounds geom.Bounds) int {
	return q.count(q.root, bounds)
}

func (q *Quadtree) count(c *cell, bounds geom.Bounds) int {
	if c.total == 0 || !c.bounds.Intersects(bounds) {
		return 0
	}
	if bounds.ContainsBounds(c.bounds) {
		return c.total
	}
	if c.isLeaf() {
		n := 0
		for _, item := range c.items {
			if bounds.Contains(item.Position) {
				n++
			}
		}
		return n
	}
	n := 0
	for _, child := range c.children {
		n += q.count(child, bounds)
	}
	return n
}

// KNearest returns up to k items closest to point, ordered by Euclidean
// distance. The search window starts small and doubles until at least k
// candidates are found or the radius ceiling is hit.
func (q *Quadtree) KNearest(point geom.Point, k int) []mapnode.Positioned {
	if k <= 0 || q.root.total == 0 {
		return nil
	}

	var candidates []mapnode.Positioned
	for radius := knnInitialRadius; radius <= knnMaxRadius; radius *= 2 {
		window := geom.Bounds{
			MinX: point.X - radius,
			MinY: point.Y - radius,
			MaxX: point.X + radius,
			MaxY: point.Y + radius,
		}
		candidates = q.Query(window)
		if len(candidates) >= k || len(candidates) == q.root.total {
			break
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Position.DistanceTo(point) < candidates[j].Position.DistanceTo(point)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// BulkInsert replaces the index contents with the given items, rebuilding
// the tree around their padded bounding box. This is the normal path when
// the full entity list changes; it avoids repeated expansion rebuilds.
func (q *Quadtree) BulkInsert(items []mapnode.Positioned) error {
	// Last occurrence of a repeated id wins, matching Insert's replace
	// semantics.
	deduped := make([]mapnode.Positioned, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.Node == nil || item.Node.ID == "" {
			return fmt.Errorf("bulk insert: item without node id")
		}
		if !item.Position.IsFinite() {
			return fmt.Errorf("bulk insert %s: non-finite position", item.Node.ID)
		}
		if at, ok := index[item.Node.ID]; ok {
			deduped[at] = item
			continue
		}
		index[item.Node.ID] = len(deduped)
		deduped = append(deduped, item)
	}

	points := make([]geom.Point, 0, len(deduped))
	for _, item := range deduped {
		points = append(points, item.Position)
	}

	world := geom.BoundsAround(points, bulkPadFraction)
	if len(deduped) == 0 {
		world = q.root.bounds
	}
	q.root = &cell{bounds: world}
	q.locations = make(map[string]*cell, len(deduped))

	for _, item := range deduped {
		q.insertInto(q.root, item)
	}
	return nil
}

// expandTo grows the world bounds until they contain p, then rebuilds the
// whole tree. O(n); callers batch inserts to avoid rebuild thrashing.
func (q *Quadtree) expandTo(p geom.Point) {
	world := q.root.bounds
	if world.Width() == 0 || world.Height() == 0 {
		size := math.Max(math.Abs(p.X), math.Abs(p.Y)) + 1
		world = geom.Bounds{MinX: -size, MinY: -size, MaxX: size, MaxY: size}
	}
	for !world.Contains(p) {
		world = world.Scaled(2)
	}

	items := q.Query(q.root.bounds)
	q.root = &cell{bounds: world}
	q.locations = make(map[string]*cell, len(items))
	for _, item := range items {
		q.insertInto(q.root, item)
	}
}
