// Package render rasterizes map frames to PNG previews using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/xkazm04/course-sub000/internal/service"
	"github.com/xkazm04/course-sub000/pkg/colormap"
	"github.com/xkazm04/course-sub000/pkg/geom"
)

// Config contains renderer configuration.
type Config struct {
	Width     int
	Height    int
	HexRadius float64 // hex dot radius in world units
}

// FrameRenderer draws frame previews: hex dots at the node tier, count
// badges at the cluster tier, connection segments underneath both.
type FrameRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewFrameRenderer creates a frame renderer.
func NewFrameRenderer(cfg Config) *FrameRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 768
	}
	if cfg.HexRadius <= 0 {
		cfg.HexRadius = 40
	}
	return &FrameRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// RenderFrame rasterizes a frame to PNG.
func (r *FrameRenderer) RenderFrame(f *service.Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("render: nil frame")
	}

	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.RGBA{15, 23, 42, 255})
	dc.Clear()

	// Map frame world bounds onto the output canvas.
	w := f.Bounds.MaxX - f.Bounds.MinX
	h := f.Bounds.MaxY - f.Bounds.MinY
	if w <= 0 || h <= 0 {
		return r.encodeContext(dc)
	}
	sx := float64(r.config.Width) / w
	sy := float64(r.config.Height) / h
	project := func(p geom.Point) (float64, float64) {
		return (p.X - f.Bounds.MinX) * sx, (p.Y - f.Bounds.MinY) * sy
	}

	for _, conn := range f.Connections {
		x1, y1 := project(conn.ClipFrom)
		x2, y2 := project(conn.ClipTo)
		dc.SetColor(color.RGBA{71, 85, 105, 200})
		dc.SetLineWidth(1.5)
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}

	dotRadius := r.config.HexRadius * math.Min(sx, sy)
	if dotRadius < 2 {
		dotRadius = 2
	}
	for _, n := range f.Nodes {
		x, y := project(n.Position)
		dc.SetColor(colormap.StatusColor(string(n.Node.Status)))
		drawHex(dc, x, y, dotRadius)

		if n.Node.Progress > 0 {
			dc.SetColor(colormap.Progress.At(n.Node.Progress / 100))
			dc.SetLineWidth(2)
			dc.DrawCircle(x, y, dotRadius+2)
			dc.Stroke()
		}
	}

	for i, c := range f.Clusters {
		x, y := project(c.Centroid)
		radius := badgeRadius(c.Count)

		dc.SetColor(colormap.Categorical.AtIndex(i))
		dc.DrawCircle(x, y, radius)
		dc.Fill()
		dc.SetColor(colormap.StatusColor(string(c.Status)))
		dc.SetLineWidth(3)
		dc.DrawCircle(x, y, radius)
		dc.Stroke()

		dc.SetColor(color.White)
		dc.DrawStringAnchored(fmt.Sprintf("%d", c.Count), x, y, 0.5, 0.5)
	}

	return r.encodeContext(dc)
}

// drawHex fills a pointy-top hexagon centered at (x, y).
func drawHex(dc *gg.Context, x, y, radius float64) {
	for i := 0; i < 6; i++ {
		angle := math.Pi/6 + float64(i)*math.Pi/3
		px := x + radius*math.Cos(angle)
		py := y + radius*math.Sin(angle)
		if i == 0 {
			dc.MoveTo(px, py)
		} else {
			dc.LineTo(px, py)
		}
	}
	dc.ClosePath()
	dc.Fill()
}

// badgeRadius scales cluster badges with the log of their member count.
func badgeRadius(count int) float64 {
	if count < 1 {
		count = 1
	}
	return 12 + 6*math.Log1p(float64(count))
}

func (r *FrameRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
