// Package letterbox fits an image into the square network input with a
// uniform scale and centered black padding, and writes it as normalized
// R, G, B planes.
package letterbox

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

var (
	// ErrNilImage is returned when no source image is given.
	ErrNilImage = errors.New("input image is nil")
	// ErrLengthMismatch is returned when the output buffer is not 3*N*N long.
	ErrLengthMismatch = errors.New("preprocess buffer length mismatch")
)

const inv255 = float32(1.0 / 255.0)

// Geometry records how an original image was placed in net space.
type Geometry struct {
	NetSize  int     `json:"net_size"`
	Scale    float64 `json:"scale"`
	PadX     int     `json:"pad_x"`
	PadY     int     `json:"pad_y"`
	ResizedW int     `json:"resized_width"`
	ResizedH int     `json:"resized_height"`
	OrigW    int     `json:"original_width"`
	OrigH    int     `json:"original_height"`
}

// Compute returns the letterbox geometry for a w x h image in an n x n net.
func Compute(w, h, n int) Geometry {
	scale := math.Min(float64(n)/float64(w), float64(n)/float64(h))
	rw := clampSide(int(math.Round(float64(w)*scale)), n)
	rh := clampSide(int(math.Round(float64(h)*scale)), n)
	return Geometry{
		NetSize:  n,
		Scale:    scale,
		PadX:     (n - rw) / 2,
		PadY:     (n - rh) / 2,
		ResizedW: rw,
		ResizedH: rh,
		OrigW:    w,
		OrigH:    h,
	}
}

func clampSide(v, n int) int {
	if v < 1 {
		return 1
	}
	if v > n {
		return n
	}
	return v
}

// ToNet maps a point from original-image pixels into net space.
func (g Geometry) ToNet(x, y float64) (float64, float64) {
	return x*g.Scale + float64(g.PadX), y*g.Scale + float64(g.PadY)
}

// Content returns the net-space rectangle covered by the resized image.
func (g Geometry) Content() image.Rectangle {
	return image.Rect(g.PadX, g.PadY, g.PadX+g.ResizedW, g.PadY+g.ResizedH)
}

// Preprocessor letterboxes images into a fixed net size. It owns the N x N
// canvas it resizes into, so one Preprocessor must not be used by two
// goroutines at the same time.
type Preprocessor struct {
	size   int
	canvas *image.NRGBA
}

// NewPreprocessor creates a preprocessor for an n x n network input.
func NewPreprocessor(n int) (*Preprocessor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("net size must be positive, got %d", n)
	}
	return &Preprocessor{size: n, canvas: imaging.New(n, n, color.Black)}, nil
}

// Size returns the net size N.
func (p *Preprocessor) Size() int { return p.size }

// BufferLen returns the required output buffer length, 3*N*N.
func (p *Preprocessor) BufferLen() int { return 3 * p.size * p.size }

// Run letterboxes img and writes planar RGB values in [0,1] into buf, which
// must hold exactly 3*N*N floats.
func (p *Preprocessor) Run(img image.Image, buf []float32) (Geometry, error) {
	if img == nil {
		return Geometry{}, ErrNilImage
	}
	if len(buf) != p.BufferLen() {
		return Geometry{}, fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, len(buf), p.BufferLen())
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Geometry{}, fmt.Errorf("invalid image size %dx%d", b.Dx(), b.Dy())
	}

	g := Compute(b.Dx(), b.Dy(), p.size)

	draw.Draw(p.canvas, p.canvas.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.BiLinear.Scale(p.canvas, g.Content(), img, b, draw.Src, nil)

	n := p.size
	plane := n * n
	rPlane := buf[:plane]
	gPlane := buf[plane : 2*plane]
	bPlane := buf[2*plane:]
	for y := range n {
		row := p.canvas.Pix[y*p.canvas.Stride : y*p.canvas.Stride+4*n]
		off := y * n
		for x := range n {
			px := row[4*x : 4*x+3 : 4*x+3]
			rPlane[off+x] = float32(px[0]) * inv255
			gPlane[off+x] = float32(px[1]) * inv255
			bPlane[off+x] = float32(px[2]) * inv255
		}
	}

	return g, nil
}
