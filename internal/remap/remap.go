// Package remap maps net-space boxes and points back into original image
// pixels, undoing the letterbox transform.
package remap

import (
	"image"
	"math"

	"github.com/MeKo-Tech/segpost/internal/letterbox"
)

const minScale = 1e-6

// Rect is an integer pixel rectangle in original image space.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"width"`
	H int `json:"height"`
}

// Empty is returned for boxes that collapse to zero area after remapping.
var Empty = Rect{}

// IsEmpty reports whether r has no area.
func (r Rect) IsEmpty() bool { return r.W <= 0 || r.H <= 0 }

// Image converts r to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// ToOriginal maps a net-space point back into original pixels without
// clamping.
func ToOriginal(x, y float64, g letterbox.Geometry) (float64, float64) {
	inv := 1 / math.Max(minScale, g.Scale)
	return (x - float64(g.PadX)) * inv, (y - float64(g.PadY)) * inv
}

// Box maps a net-space box (left, top, right, bottom) to an original-image
// rectangle. Coordinates are clamped into the image, inverted edges are
// swapped, and the result is clipped so it never extends past the image.
// Boxes with no remaining area yield Empty.
func Box(l, t, r, b float32, g letterbox.Geometry) Rect {
	if g.OrigW <= 0 || g.OrigH <= 0 {
		return Empty
	}
	maxX := float64(g.OrigW - 1)
	maxY := float64(g.OrigH - 1)

	x0, y0 := ToOriginal(float64(l), float64(t), g)
	x1, y1 := ToOriginal(float64(r), float64(b), g)
	x0, x1 = clamp(x0, maxX), clamp(x1, maxX)
	y0, y1 = clamp(y0, maxY), clamp(y1, maxY)
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}

	out := Rect{
		X: int(math.Floor(x0)),
		Y: int(math.Floor(y0)),
		W: int(math.Ceil(x1 - x0)),
		H: int(math.Ceil(y1 - y0)),
	}
	if out.IsEmpty() {
		return Empty
	}
	if out.X+out.W > g.OrigW {
		out.W = g.OrigW - out.X
	}
	if out.Y+out.H > g.OrigH {
		out.H = g.OrigH - out.Y
	}
	return out
}

func clamp(v, hi float64) float64 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
