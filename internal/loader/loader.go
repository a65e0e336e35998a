// Package loader fetches map nodes from the upstream entity API with
// caching, request coalescing and best-effort prefetching.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkazm04/course-sub000/internal/cache"
	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/internal/upstream"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

const (
	// DefaultBatchWindow is the debounce window during which concurrent
	// per-id requests are coalesced into one upstream round trip.
	DefaultBatchWindow = 50 * time.Millisecond
	// DefaultMaxBatch chunks batched requests to bound payload size.
	DefaultMaxBatch = 100
)

// Fetcher is the subset of the upstream client the loader needs.
type Fetcher interface {
	FetchNodesInBounds(ctx context.Context, bounds geom.Bounds, domain, parentID string) (*upstream.NodesResult, error)
	FetchNodesByID(ctx context.Context, ids []string) ([]*mapnode.Node, error)
}

// Config contains loader configuration.
type Config struct {
	Fetcher     Fetcher
	Cache       *cache.Manager
	BatchWindow time.Duration
	MaxBatch    int
	Logger      *zap.Logger
}

// Loader coordinates node fetches. Concurrent per-id lookups inside one
// batch window share a single upstream request; identical in-flight bbox
// queries are deduplicated via singleflight.
type Loader struct {
	fetcher     Fetcher
	cache       *cache.Manager
	batchWindow time.Duration
	maxBatch    int
	log         *zap.Logger

	bboxGroup singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
	waiters []*batchWaiter
	timer   *time.Timer

	hits   atomic.Int64
	misses atomic.Int64
}

type batchWaiter struct {
	ids  []string
	done chan batchResult
}

type batchResult struct {
	nodes map[string]*mapnode.Node
	err   error
}

// New creates a loader.
func New(cfg Config) *Loader {
	window := cfg.BatchWindow
	if window <= 0 {
		window = DefaultBatchWindow
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		fetcher:     cfg.Fetcher,
		cache:       cfg.Cache,
		batchWindow: window,
		maxBatch:    maxBatch,
		log:         log.Named("loader"),
		pending:     make(map[string]struct{}),
	}
}

// LoadViewportNodes fetches all entities inside the world-space box. The
// serialized result is cached under a quantized bounds key, and every
// returned node is also entered into the per-id cache.
func (l *Loader) LoadViewportNodes(ctx context.Context, bounds geom.Bounds, domain, parentID string) ([]*mapnode.Node, error) {
	key := cache.BoundsKey(bounds, domain, parentID)
	if data, ok := l.cache.GetQuery(key); ok {
		var result upstream.NodesResult
		if err := json.Unmarshal(data, &result); err == nil {
			l.hits.Add(1)
			return result.Nodes, nil
		}
		// Corrupt cache entry: fall through to a fresh fetch.
	}
	l.misses.Add(1)

	v, err, _ := l.bboxGroup.Do(key, func() (any, error) {
		result, err := l.fetcher.FetchNodesInBounds(ctx, bounds, domain, parentID)
		if err != nil {
			return nil, err
		}
		for _, n := range result.Nodes {
			l.cache.SetNode(n)
		}
		if data, err := json.Marshal(result); err == nil {
			if err := l.cache.SetQuery(key, data); err != nil {
				l.log.Debug("query cache set failed", zap.Error(err))
			}
		}
		return result.Nodes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*mapnode.Node), nil
}

// LoadNode fetches a single node, serving from cache when fresh.
func (l *Loader) LoadNode(ctx context.Context, id string) (*mapnode.Node, error) {
	nodes, err := l.LoadNodes(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if n, ok := nodes[id]; ok {
		return n, nil
	}
	return nil, nil
}

// LoadNodes fetches a set of nodes by id. Cache hits resolve immediately;
// misses join the shared batch window so overlapping concurrent callers
// ride one upstream request, and each caller resolves independently from
// the shared result.
func (l *Loader) LoadNodes(ctx context.Context, ids []string) (map[string]*mapnode.Node, error) {
	out := make(map[string]*mapnode.Node, len(ids))
	var missing []string
	for _, id := range ids {
		if n, ok := l.cache.GetNode(id); ok {
			l.hits.Add(1)
			out[id] = n
			continue
		}
		l.misses.Add(1)
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	w := &batchWaiter{ids: missing, done: make(chan batchResult, 1)}
	l.enqueue(w)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-w.done:
		if res.err != nil && len(res.nodes) == 0 {
			return nil, res.err
		}
		for _, id := range missing {
			if n, ok := res.nodes[id]; ok {
				out[id] = n
			}
		}
		return out, nil
	}
}

func (l *Loader) enqueue(w *batchWaiter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range w.ids {
		l.pending[id] = struct{}{}
	}
	l.waiters = append(l.waiters, w)

	if l.timer == nil {
		l.timer = time.AfterFunc(l.batchWindow, l.flush)
	}
}

// flush drains the pending id set, fetches it in bounded chunks and fans
// the shared result out to every waiter. A failed chunk does not abort its
// siblings; partial results are still delivered.
func (l *Loader) flush() {
	l.mu.Lock()
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	waiters := l.waiters
	l.pending = make(map[string]struct{})
	l.waiters = nil
	l.timer = nil
	l.mu.Unlock()

	if len(waiters) == 0 {
		return
	}

	nodes := make(map[string]*mapnode.Node, len(ids))
	var errs []error

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for start := 0; start < len(ids); start += l.maxBatch {
		end := min(start+l.maxBatch, len(ids))
		chunk := ids[start:end]

		fetched, err := l.fetcher.FetchNodesByID(ctx, chunk)
		if err != nil {
			l.log.Warn("batch chunk failed", zap.Int("size", len(chunk)), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		for _, n := range fetched {
			if n == nil {
				continue
			}
			l.cache.SetNode(n)
			nodes[n.ID] = n
		}
	}

	res := batchResult{nodes: nodes, err: errors.Join(errs...)}
	for _, w := range waiters {
		w.done <- res
	}
}

// Prefetch speculatively warms the caches for the given bounds. Failures
// are logged and swallowed: prefetching is a pure optimization and must
// never block or fail the primary interaction path. The fetch is detached
// from the caller's cancellation so it outlives the originating request,
// bounded by its own timeout.
func (l *Loader) Prefetch(ctx context.Context, bounds geom.Bounds, domain, parentID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, err := l.LoadViewportNodes(ctx, bounds, domain, parentID); err != nil {
			l.log.Debug("prefetch failed", zap.Error(err))
		}
	}()
}

// CacheHitRate returns the fraction of lookups served from cache since the
// loader was created, or 0 before any lookup.
func (l *Loader) CacheHitRate() float64 {
	hits := l.hits.Load()
	total := hits + l.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// ClearCaches drops all cached data.
func (l *Loader) ClearCaches() error {
	return l.cache.Purge()
}
