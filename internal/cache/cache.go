// Package cache provides caching for node payloads and viewport query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

// Config contains cache configuration.
type Config struct {
	QueryCacheSizeMB int           // serialized viewport query payloads
	QueryTTL         time.Duration // bounded staleness for bbox results
	NodeCacheSize    int           // max individually cached nodes
	NodeTTL          time.Duration // per-node freshness window
}

// Manager manages the node and viewport-query caches used by the loader.
type Manager struct {
	queryCache *bigcache.BigCache
	nodeCache  *expirable.LRU[string, *mapnode.Node]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	queryConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.QueryTTL,
		CleanWindow:        cfg.QueryTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       256 * 1024, // one serialized bbox result
		HardMaxCacheSize:   cfg.QueryCacheSizeMB,
		Verbose:            false,
	}

	queryCache, err := bigcache.New(context.Background(), queryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		queryCache: queryCache,
		nodeCache:  expirable.NewLRU[string, *mapnode.Node](cfg.NodeCacheSize, nil, cfg.NodeTTL),
	}, nil
}

// GetNode retrieves a node from the per-id cache.
func (m *Manager) GetNode(id string) (*mapnode.Node, bool) {
	return m.nodeCache.Get(id)
}

// SetNode stores a node in the per-id cache.
func (m *Manager) SetNode(n *mapnode.Node) {
	if n == nil || n.ID == "" {
		return
	}
	m.nodeCache.Add(n.ID, n)
}

// GetQuery retrieves a serialized viewport query result.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	data, err := m.queryCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetQuery stores a serialized viewport query result.
func (m *Manager) SetQuery(key string, data []byte) error {
	return m.queryCache.Set(key, data)
}

// Purge drops all cached entries.
func (m *Manager) Purge() error {
	m.nodeCache.Purge()
	return m.queryCache.Reset()
}

// BoundsKey generates a cache key for a viewport bbox query. Coordinates
// are quantized so that near-identical viewports share an entry.
func BoundsKey(b geom.Bounds, domain, parentID string) string {
	base := fmt.Sprintf("bounds:%.0f/%.0f/%.0f/%.0f", b.MinX, b.MinY, b.MaxX, b.MaxY)
	if domain == "" && parentID == "" {
		return base
	}
	return base + ":" + domain + ":" + parentID
}

// BatchKey generates a stable cache key for a batch-by-id request.
func BatchKey(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(strings.Join(sorted, "\x00")))
	return "batch:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"query_cache_len": m.queryCache.Len(),
		"query_cache_cap": m.queryCache.Capacity(),
		"node_cache_len":  m.nodeCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.queryCache.Close()
}
