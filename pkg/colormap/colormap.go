// Package colormap provides color schemes for map rendering.
package colormap

import (
	"image/color"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// LinearColormap is a linear interpolation colormap.
type LinearColormap struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

// AtIndex returns color at index i (wraps around).
func (c LinearColormap) AtIndex(i int) color.Color {
	return c.colors[i%len(c.colors)]
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// Progress ramps from slate gray through amber to green as completion
// approaches 100%.
var Progress = LinearColormap{
	colors: []color.RGBA{
		{100, 116, 139, 255},
		{217, 119, 6, 255},
		{202, 138, 4, 255},
		{101, 163, 13, 255},
		{22, 163, 74, 255},
	},
}

// statusColors keys node/cluster status names to their fill colors.
var statusColors = map[string]color.RGBA{
	"locked":      {71, 85, 105, 255},
	"available":   {37, 99, 235, 255},
	"in_progress": {217, 119, 6, 255},
	"completed":   {22, 163, 74, 255},
	"pending":     {100, 116, 139, 255},
	"generating":  {147, 51, 234, 255},
	"ready":       {37, 99, 235, 255},
	"failed":      {220, 38, 38, 255},
}

// statusFallback is used for unknown status names.
var statusFallback = color.RGBA{148, 163, 184, 255}

// StatusColor returns the fill color for a status name.
func StatusColor(name string) color.Color {
	if c, ok := statusColors[name]; ok {
		return c
	}
	return statusFallback
}

// CategoricalColormap provides distinct colors for categories.
type CategoricalColormap struct {
	colors []color.RGBA
}

// At returns color at position t.
func (c CategoricalColormap) At(t float64) color.Color {
	idx := int(t * float64(len(c.colors)))
	if idx >= len(c.colors) {
		idx = len(c.colors) - 1
	}
	return c.colors[idx]
}

// AtIndex returns color at index.
func (c CategoricalColormap) AtIndex(i int) color.Color {
	return c.colors[i%len(c.colors)]
}

// Categorical colormap with 10 distinct colors, used for cluster badges.
var Categorical = CategoricalColormap{
	colors: []color.RGBA{
		{31, 119, 180, 255},  // Blue
		{255, 127, 14, 255},  // Orange
		{44, 160, 44, 255},   // Green
		{214, 39, 40, 255},   // Red
		{148, 103, 189, 255}, // Purple
		{140, 86, 75, 255},   // Brown
		{227, 119, 194, 255}, // Pink
		{127, 127, 127, 255}, // Gray
		{188, 189, 34, 255},  // Olive
		{23, 190, 207, 255},  // Cyan
	},
}
