package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkazm04/course-sub000/internal/cache"
	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/internal/upstream"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

type fakeFetcher struct {
	mu         sync.Mutex
	bboxCalls  atomic.Int64
	batchCalls atomic.Int64
	batches    [][]string
	failIDs    map[string]bool // ids whose chunk should fail
}

func (f *fakeFetcher) FetchNodesInBounds(ctx context.Context, bounds geom.Bounds, domain, parentID string) (*upstream.NodesResult, error) {
	f.bboxCalls.Add(1)
	return &upstream.NodesResult{
		Nodes: []*mapnode.Node{
			{ID: "b1", Name: "Bounds 1", Kind: mapnode.KindCourse, Depth: 1},
			{ID: "b2", Name: "Bounds 2", Kind: mapnode.KindCourse, Depth: 1},
		},
		Total: 2,
	}, nil
}

func (f *fakeFetcher) FetchNodesByID(ctx context.Context, ids []string) ([]*mapnode.Node, error) {
	f.batchCalls.Add(1)
	f.mu.Lock()
	f.batches = append(f.batches, ids)
	f.mu.Unlock()

	nodes := make([]*mapnode.Node, 0, len(ids))
	for _, id := range ids {
		if f.failIDs[id] {
			return nil, errors.New("upstream unavailable")
		}
		nodes = append(nodes, &mapnode.Node{ID: id, Name: "Node " + id, Kind: mapnode.KindChapter, Depth: 2})
	}
	return nodes, nil
}

func newTestLoader(t *testing.T, f Fetcher, window time.Duration, maxBatch int) *Loader {
	t.Helper()
	cm, err := cache.NewManager(cache.Config{
		QueryCacheSizeMB: 8,
		QueryTTL:         5 * time.Minute,
		NodeCacheSize:    1000,
		NodeTTL:          5 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { cm.Close() })

	return New(Config{Fetcher: f, Cache: cm, BatchWindow: window, MaxBatch: maxBatch})
}

func TestLoadNodesCoalescing(t *testing.T) {
	f := &fakeFetcher{}
	l := newTestLoader(t, f, 30*time.Millisecond, 100)

	// Concurrent callers inside one batch window share a single round trip.
	var wg sync.WaitGroup
	results := make([]map[string]*mapnode.Node, 3)
	reqs := [][]string{{"a", "b"}, {"b", "c"}, {"c", "a"}}
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nodes, err := l.LoadNodes(context.Background(), reqs[i])
			assert.NoError(t, err)
			results[i] = nodes
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.batchCalls.Load(), "overlapping callers should share one upstream request")
	for i, nodes := range results {
		require.Len(t, nodes, 2, "caller %d", i)
		for _, id := range reqs[i] {
			assert.Equal(t, id, nodes[id].ID)
		}
	}
}

func TestLoadNodesCacheHit(t *testing.T) {
	f := &fakeFetcher{}
	l := newTestLoader(t, f, 5*time.Millisecond, 100)

	_, err := l.LoadNodes(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.EqualValues(t, 1, f.batchCalls.Load())

	// Second load inside the TTL window never touches upstream.
	nodes, err := l.LoadNodes(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.batchCalls.Load())
	assert.Equal(t, "x", nodes["x"].ID)
	assert.Greater(t, l.CacheHitRate(), 0.0)
}

func TestLoadNodesChunking(t *testing.T) {
	f := &fakeFetcher{}
	l := newTestLoader(t, f, 5*time.Millisecond, 100)

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%03d", i)
	}

	nodes, err := l.LoadNodes(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, nodes, 250)
	assert.EqualValues(t, 3, f.batchCalls.Load(), "250 ids should split into 3 chunks of <=100")

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.batches {
		assert.LessOrEqual(t, len(b), 100)
	}
}

func TestChunkFailureIsolation(t *testing.T) {
	f := &fakeFetcher{failIDs: map[string]bool{"bad-000": true}}
	l := newTestLoader(t, f, 5*time.Millisecond, 2)

	// Chunks of 2: the chunk containing bad-000 fails (taking at most one
	// sibling id with it), the remaining chunk still resolves.
	nodes, err := l.LoadNodes(context.Background(), []string{"bad-000", "ok-1", "ok-2", "ok-3"})
	require.NoError(t, err, "partial results should not surface as an error")
	assert.NotContains(t, nodes, "bad-000")
	assert.GreaterOrEqual(t, len(nodes), 2, "chunks without the failing id must survive")
}

func TestLoadViewportNodes(t *testing.T) {
	f := &fakeFetcher{}
	l := newTestLoader(t, f, 5*time.Millisecond, 100)
	bounds := geom.Bounds{MinX: 0, MinY: 0, MaxX: 500, MaxY: 500}

	nodes, err := l.LoadViewportNodes(context.Background(), bounds, "", "")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.EqualValues(t, 1, f.bboxCalls.Load())

	t.Run("servedFromQueryCache", func(t *testing.T) {
		again, err := l.LoadViewportNodes(context.Background(), bounds, "", "")
		require.NoError(t, err)
		assert.Len(t, again, 2)
		assert.EqualValues(t, 1, f.bboxCalls.Load(), "identical viewport should be served from cache")
	})

	t.Run("nodesEnterIDCache", func(t *testing.T) {
		_, err := l.LoadNodes(context.Background(), []string{"b1"})
		require.NoError(t, err)
		assert.EqualValues(t, 0, f.batchCalls.Load(), "bbox-fetched nodes should be id-cache hits")
	})
}

func TestPrefetchSwallowsErrors(t *testing.T) {
	f := &failingBBoxFetcher{}
	l := newTestLoader(t, f, 5*time.Millisecond, 100)

	// Must not panic or propagate; just give the goroutine time to run.
	l.Prefetch(context.Background(), geom.Bounds{MaxX: 100, MaxY: 100}, "", "")
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestPrefetchOutlivesCallerContext(t *testing.T) {
	f := &contextCheckFetcher{}
	l := newTestLoader(t, f, 5*time.Millisecond, 100)
	bounds := geom.Bounds{MaxX: 100, MaxY: 100}

	// Cancel the originating context immediately, as a request context is
	// once the handler returns. The warm-up fetch must still complete.
	ctx, cancel := context.WithCancel(context.Background())
	l.Prefetch(ctx, bounds, "", "")
	cancel()

	require.Eventually(t, func() bool {
		return f.calls.Load() == 1
	}, time.Second, 5*time.Millisecond, "prefetch fetch never ran")
	assert.EqualValues(t, 0, f.cancelled.Load(), "prefetch observed the caller's cancellation")

	// The warmed query cache serves the same viewport without a second
	// upstream round trip.
	nodes, err := l.LoadViewportNodes(context.Background(), bounds, "", "")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
	assert.EqualValues(t, 1, f.calls.Load(), "viewport should be served from the prefetched cache")
}

type contextCheckFetcher struct {
	calls     atomic.Int64
	cancelled atomic.Int64
}

func (f *contextCheckFetcher) FetchNodesInBounds(ctx context.Context, bounds geom.Bounds, domain, parentID string) (*upstream.NodesResult, error) {
	f.calls.Add(1)
	if ctx.Err() != nil {
		f.cancelled.Add(1)
		return nil, ctx.Err()
	}
	return &upstream.NodesResult{
		Nodes: []*mapnode.Node{{ID: "warm", Name: "Warm", Kind: mapnode.KindCourse, Depth: 1, ParentID: "d"}},
		Total: 1,
	}, nil
}

func (f *contextCheckFetcher) FetchNodesByID(ctx context.Context, ids []string) ([]*mapnode.Node, error) {
	return nil, errors.New("unexpected batch fetch")
}

type failingBBoxFetcher struct {
	calls atomic.Int64
}

func (f *failingBBoxFetcher) FetchNodesInBounds(ctx context.Context, bounds geom.Bounds, domain, parentID string) (*upstream.NodesResult, error) {
	f.calls.Add(1)
	return nil, errors.New("boom")
}

func (f *failingBBoxFetcher) FetchNodesByID(ctx context.Context, ids []string) ([]*mapnode.Node, error) {
	return nil, errors.New("boom")
}
