package spatial

import (
	"fmt"
	"math"
	"sort"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

// Cluster is an on-demand aggregate of the items in one grid cell. Dominant
// status is the highest-progress status present among members; the rule is
// deterministic regardless of member order.
type Cluster struct {
	ID          string          `json:"id"`
	Centroid    geom.Point      `json:"centroid"`
	Count       int             `json:"count"`
	Status      mapnode.Status  `json:"status"`
	AvgProgress float64         `json:"avg_progress"`
	MemberIDs   []string        `json:"member_ids"`
}

type gridKey struct {
	gx, gy int
}

// Clusters buckets the items inside bounds by floor-divided grid cell of the
// given size, maintaining a running centroid average per bucket. Results are
// ordered by grid cell for deterministic output.
func (q *Quadtree) Clusters(bounds geom.Bounds, gridSize float64) []Cluster {
	if gridSize <= 0 {
		return nil
	}
	items := q.Query(bounds)
	if len(items) == 0 {
		return nil
	}

	buckets := make(map[gridKey]*Cluster)
	order := make([]gridKey, 0, 16)
	for _, item := range items {
		key := gridKey{
			gx: int(math.Floor(item.Position.X / gridSize)),
			gy: int(math.Floor(item.Position.Y / gridSize)),
		}
		c, ok := buckets[key]
		if !ok {
			c = &Cluster{Status: mapnode.StatusLocked}
			buckets[key] = c
			order = append(order, key)
		}

		// Incremental centroid: avg_n = avg_{n-1} + (x - avg_{n-1}) / n.
		c.Count++
		c.Centroid.X += (item.Position.X - c.Centroid.X) / float64(c.Count)
		c.Centroid.Y += (item.Position.Y - c.Centroid.Y) / float64(c.Count)
		c.AvgProgress += (item.Node.Progress - c.AvgProgress) / float64(c.Count)
		c.Status = mapnode.DominantStatus([]mapnode.Status{c.Status, item.Node.Status})
		c.MemberIDs = append(c.MemberIDs, item.Node.ID)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].gy != order[j].gy {
			return order[i].gy < order[j].gy
		}
		return order[i].gx < order[j].gx
	})

	out := make([]Cluster, 0, len(order))
	for _, key := range order {
		c := buckets[key]
		c.ID = clusterID(key)
		sort.Strings(c.MemberIDs)
		out = append(out, *c)
	}
	return out
}

func clusterID(k gridKey) string {
	return fmt.Sprintf("cluster:%d:%d", k.gx, k.gy)
}
