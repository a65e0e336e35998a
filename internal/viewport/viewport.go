// Package viewport converts screen-space pan/zoom state into world-space
// bounding boxes and tracks pan velocity for prefetch prediction.
package viewport

import (
	"time"

	"github.com/xkazm04/course-sub000/internal/mapnode"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

const (
	// velocitySamples bounds the ring buffer of recent pan samples.
	velocitySamples = 5
	// maxSampleGap discards samples across stale gaps; velocity derived
	// from a gap this large would be meaningless.
	maxSampleGap = 100 * time.Millisecond

	// prefetch bounds grow ~1.5x, biased toward the direction of travel;
	// far bounds grow a symmetric 2x for clustering at far zoom.
	prefetchScale = 1.5
	farScale      = 2.0

	// velocityBias converts smoothed velocity (world units/s) into extra
	// prefetch padding in the travel direction.
	velocityBias = 0.25
)

// State is the current screen-space camera: zoom scale plus pixel offset.
type State struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// Category buckets a node by its relation to the current bounds tiers.
type Category int

const (
	CategoryVisible Category = iota
	CategoryPrefetch
	CategoryFar
	CategoryHidden
)

// Categorized partitions a node list across the bounds tiers.
type Categorized struct {
	Visible  []mapnode.Positioned
	Prefetch []mapnode.Positioned
	Far      []mapnode.Positioned
	Hidden   []mapnode.Positioned
}

type velocitySample struct {
	vx, vy float64
}

// Manager owns the viewport state for one map session. Pure synchronous
// computation; mutated only from the owning session goroutine.
type Manager struct {
	canvasW, canvasH float64
	hexRadius        float64

	state    State
	lastSet  time.Time
	hasState bool

	samples [velocitySamples]velocitySample
	nSample int
	next    int
}

// New creates a manager for the given canvas size. hexRadius pads
// point-in-box tests so hexes straddling the viewport edge are not dropped
// early.
func New(canvasW, canvasH, hexRadius float64) *Manager {
	return &Manager{canvasW: canvasW, canvasH: canvasH, hexRadius: hexRadius}
}

// Resize updates the canvas size.
func (m *Manager) Resize(w, h float64) {
	m.canvasW = w
	m.canvasH = h
}

// SetViewport replaces the camera state, recording a velocity sample when
// the elapsed time since the previous state is in (0, 100ms].
func (m *Manager) SetViewport(s State, now time.Time) {
	if s.Scale <= 0 {
		s.Scale = 1
	}
	if m.hasState {
		dt := now.Sub(m.lastSet)
		if dt > 0 && dt <= maxSampleGap {
			secs := dt.Seconds()
			m.addSample(velocitySample{
				vx: (s.OffsetX - m.state.OffsetX) / secs,
				vy: (s.OffsetY - m.state.OffsetY) / secs,
			})
		}
	}
	m.state = s
	m.lastSet = now
	m.hasState = true
}

// State returns the current camera state.
func (m *Manager) State() State { return m.state }

func (m *Manager) addSample(s velocitySample) {
	m.samples[m.next] = s
	m.next = (m.next + 1) % velocitySamples
	if m.nSample < velocitySamples {
		m.nSample++
	}
}

// Velocity returns the smoothed pan velocity in screen pixels per second.
func (m *Manager) Velocity() (vx, vy float64) {
	if m.nSample == 0 {
		return 0, 0
	}
	for i := 0; i < m.nSample; i++ {
		vx += m.samples[i].vx
		vy += m.samples[i].vy
	}
	return vx / float64(m.nSample), vy / float64(m.nSample)
}

// VisibleBounds inverse-projects the four canvas corners through the
// current scale/offset to world space.
func (m *Manager) VisibleBounds() geom.Bounds {
	scale := m.state.Scale
	if scale <= 0 {
		scale = 1
	}
	return geom.NewBounds(
		(0-m.state.OffsetX)/scale,
		(0-m.state.OffsetY)/scale,
		(m.canvasW-m.state.OffsetX)/scale,
		(m.canvasH-m.state.OffsetY)/scale,
	)
}

// ExtendedBounds derives the prefetch and far tiers from the visible box.
// Prefetch padding is biased toward the sign of the smoothed velocity, so
// the box expands more in the direction of travel and less against it.
// With zero velocity, visible ⊆ prefetch ⊆ far by containment.
func (m *Manager) ExtendedBounds() (prefetch, far geom.Bounds) {
	visible := m.VisibleBounds()

	padX := visible.Width() * (prefetchScale - 1) / 2
	padY := visible.Height() * (prefetchScale - 1) / 2

	// Pan velocity is in screen pixels; the camera moving right (positive
	// offset delta) reveals world content on the left, so the world-space
	// travel direction is the negated velocity divided by scale.
	vx, vy := m.Velocity()
	scale := m.state.Scale
	if scale <= 0 {
		scale = 1
	}
	biasX := -vx / scale * velocityBias
	biasY := -vy / scale * velocityBias

	prefetch = geom.Bounds{
		MinX: visible.MinX - padX + min(biasX, 0),
		MinY: visible.MinY - padY + min(biasY, 0),
		MaxX: visible.MaxX + padX + max(biasX, 0),
		MaxY: visible.MaxY + padY + max(biasY, 0),
	}
	far = visible.Scaled(farScale)
	return prefetch, far
}

// CategorizeNodes partitions nodes into visible/prefetch/far/hidden using
// point-in-box tests padded by the rendered hex radius.
func (m *Manager) CategorizeNodes(nodes []mapnode.Positioned) Categorized {
	visible := m.VisibleBounds()
	prefetch, far := m.ExtendedBounds()

	var out Categorized
	for _, n := range nodes {
		switch {
		case visible.ContainsPadded(n.Position, m.hexRadius):
			out.Visible = append(out.Visible, n)
		case prefetch.ContainsPadded(n.Position, m.hexRadius):
			out.Prefetch = append(out.Prefetch, n)
		case far.ContainsPadded(n.Position, m.hexRadius):
			out.Far = append(out.Far, n)
		default:
			out.Hidden = append(out.Hidden, n)
		}
	}
	return out
}

// PredictState linearly extrapolates the camera offset ahead seconds into
// the future using the smoothed velocity.
func (m *Manager) PredictState(ahead time.Duration) State {
	vx, vy := m.Velocity()
	secs := ahead.Seconds()
	return State{
		Scale:   m.state.Scale,
		OffsetX: m.state.OffsetX + vx*secs,
		OffsetY: m.state.OffsetY + vy*secs,
	}
}

// PredictedBounds returns the visible bounds the camera is expected to
// reach ahead seconds from now, for lookahead prefetching.
func (m *Manager) PredictedBounds(ahead time.Duration) geom.Bounds {
	predicted := m.PredictState(ahead)
	scale := predicted.Scale
	if scale <= 0 {
		scale = 1
	}
	return geom.NewBounds(
		(0-predicted.OffsetX)/scale,
		(0-predicted.OffsetY)/scale,
		(m.canvasW-predicted.OffsetX)/scale,
		(m.canvasH-predicted.OffsetY)/scale,
	)
}
