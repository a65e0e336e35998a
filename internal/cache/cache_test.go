package cache

import (
	"testing"
	"time"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		QueryCacheSizeMB: 8,
		QueryTTL:         time.Minute,
		NodeCacheSize:    100,
		NodeTTL:          time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create cache manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNodeCache(t *testing.T) {
	m := newTestManager(t)

	if _, ok := m.GetNode("missing"); ok {
		t.Error("expected miss for unknown id")
	}

	n := &mapnode.Node{ID: "n1", Name: "Intro", Kind: mapnode.KindCourse, Depth: 1}
	m.SetNode(n)
	got, ok := m.GetNode("n1")
	if !ok || got.Name != "Intro" {
		t.Errorf("expected cached node back, got %+v ok=%v", got, ok)
	}
}

func TestQueryCache(t *testing.T) {
	m := newTestManager(t)
	key := BoundsKey(geom.Bounds{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, "", "")

	if _, ok := m.GetQuery(key); ok {
		t.Error("expected miss before set")
	}
	if err := m.SetQuery(key, []byte(`{"nodes":[]}`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if data, ok := m.GetQuery(key); !ok || string(data) != `{"nodes":[]}` {
		t.Errorf("unexpected cached payload: %q ok=%v", data, ok)
	}
}

func TestBoundsKey(t *testing.T) {
	b := geom.Bounds{MinX: 0.2, MinY: 0.4, MaxX: 100.1, MaxY: 100.3}

	t.Run("quantized", func(t *testing.T) {
		near := geom.Bounds{MinX: 0.4, MinY: 0.1, MaxX: 100.2, MaxY: 100.4}
		if BoundsKey(b, "", "") != BoundsKey(near, "", "") {
			t.Error("near-identical viewports should share a key")
		}
	})

	t.Run("scoped", func(t *testing.T) {
		if BoundsKey(b, "math", "") == BoundsKey(b, "", "") {
			t.Error("domain scope must change the key")
		}
	})
}

func TestBatchKey(t *testing.T) {
	a := BatchKey([]string{"n2", "n1", "n3"})
	b := BatchKey([]string{"n1", "n3", "n2"})
	if a != b {
		t.Errorf("batch key must be order independent: %q vs %q", a, b)
	}
	if a == BatchKey([]string{"n1", "n2"}) {
		t.Error("different id sets must produce different keys")
	}
}
