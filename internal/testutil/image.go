package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test image sizes.
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
	WideSize   = ImageSize{800, 400}
)

// SceneObject is a filled rectangle with an optional caption.
type SceneObject struct {
	Rect    image.Rectangle
	Color   color.Color
	Caption string
}

// Scene describes a synthetic image.
type Scene struct {
	Size       ImageSize
	Background color.Color
	Objects    []SceneObject
}

// DefaultScene returns a medium gray scene with one centered object.
func DefaultScene() Scene {
	return Scene{
		Size:       MediumSize,
		Background: color.Gray{Y: 128},
		Objects: []SceneObject{{
			Rect:    image.Rect(270, 190, 370, 290),
			Color:   color.NRGBA{R: 220, G: 40, B: 40, A: 255},
			Caption: "object",
		}},
	}
}

// GenerateScene renders s.
func GenerateScene(s Scene) *image.NRGBA {
	bg := s.Background
	if bg == nil {
		bg = color.White
	}
	img := imaging.New(s.Size.Width, s.Size.Height, bg)
	for _, o := range s.Objects {
		r := o.Rect.Intersect(img.Bounds())
		if r.Empty() {
			continue
		}
		fill := imaging.New(r.Dx(), r.Dy(), o.Color)
		img = imaging.Paste(img, fill, r.Min)
		if o.Caption != "" {
			drawCaption(img, o.Caption, r.Min.X+2, r.Min.Y+13)
		}
	}
	return img
}

func drawCaption(img *image.NRGBA, text string, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// WritePNG saves img as dir/name and returns the path.
func WritePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	return WriteFile(t, dir, name, EncodePNG(t, img))
}

// CompareImages reports whether two images have the same bounds and a mean
// absolute channel difference of at most tolerance (0..255).
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	b1, b2 := img1.Bounds(), img2.Bounds()
	if b1.Dx() != b2.Dx() || b1.Dy() != b2.Dy() {
		return false
	}

	var total float64
	for y := range b1.Dy() {
		for x := range b1.Dx() {
			r1, g1, bl1, _ := img1.At(b1.Min.X+x, b1.Min.Y+y).RGBA()
			r2, g2, bl2, _ := img2.At(b2.Min.X+x, b2.Min.Y+y).RGBA()
			total += math.Abs(float64(r1>>8)-float64(r2>>8)) +
				math.Abs(float64(g1>>8)-float64(g2>>8)) +
				math.Abs(float64(bl1>>8)-float64(bl2>>8))
		}
	}
	pixels := float64(b1.Dx() * b1.Dy() * 3)
	if pixels == 0 {
		return true
	}
	return total/pixels <= tolerance
}
