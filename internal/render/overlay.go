// Package render turns segmentation results into pixels: per-detection
// masks at original image resolution and annotated overlay images.
package render

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/segpost/internal/mempool"
	"github.com/MeKo-Tech/segpost/internal/remap"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/MeKo-Tech/segpost/internal/utils"
	"github.com/disintegration/imaging"
)

// ErrNoResult is returned when no segmentation result is given.
var ErrNoResult = errors.New("segmentation result is nil")

// Options control overlay drawing.
type Options struct {
	// Alpha is the opacity of the mask fill in [0,1].
	Alpha float64
	// MaskThreshold is the probability above which a pixel belongs to the mask.
	MaskThreshold float32
	// BoxColor overrides the per-class palette when set.
	BoxColor *color.NRGBA
	// Thickness of the box outline in pixels.
	Thickness int
}

// DefaultOptions returns the overlay defaults.
func DefaultOptions() Options {
	return Options{Alpha: 0.45, MaskThreshold: 0.5, Thickness: 2}
}

// maskContent returns the part of the mask grid covered by the resized
// image, i.e. the letterbox content rectangle scaled to mask resolution.
func maskContent(res *segment.Result) image.Rectangle {
	n := float64(res.NetSize)
	sx := float64(res.MaskW) / n
	sy := float64(res.MaskH) / n
	x0 := int(math.Floor(float64(res.PadX) * sx))
	y0 := int(math.Floor(float64(res.PadY) * sy))
	x1 := int(math.Ceil(float64(res.PadX+res.ResizedW) * sx))
	y1 := int(math.Ceil(float64(res.PadY+res.ResizedH) * sy))
	r := image.Rect(x0, y0, max(x1, x0+1), max(y1, y0+1))
	return r.Intersect(image.Rect(0, 0, res.MaskW, res.MaskH))
}

// OriginalMask returns the mask probabilities of detection i scaled to the
// original image size, as 8-bit values (p*255).
func OriginalMask(res *segment.Result, i int) (*image.Gray, error) {
	if res == nil {
		return nil, ErrNoResult
	}
	buf := mempool.GetFloat32(res.MaskLen())
	defer mempool.PutFloat32(buf)
	if err := res.Mask(i, buf); err != nil {
		return nil, err
	}

	small := image.NewGray(image.Rect(0, 0, res.MaskW, res.MaskH))
	for j, v := range buf {
		small.Pix[j] = uint8(v*255 + 0.5)
	}

	content := maskContent(res)
	if content.Empty() {
		return image.NewGray(image.Rect(0, 0, res.OrigW, res.OrigH)), nil
	}
	up := imaging.Resize(imaging.Crop(small, content), res.OrigW, res.OrigH, imaging.Linear)

	out := image.NewGray(image.Rect(0, 0, res.OrigW, res.OrigH))
	for y := range res.OrigH {
		src := up.Pix[y*up.Stride : y*up.Stride+4*res.OrigW]
		dst := out.Pix[y*out.Stride : y*out.Stride+res.OrigW]
		for x := range dst {
			dst[x] = src[4*x]
		}
	}
	return out, nil
}

func threshold8(t float32) uint8 {
	return uint8(math.Round(float64(min(max(t, 0), 1)) * 255))
}

// BinaryMask returns the binarized mask of detection i cropped to its box in
// original pixels. The image is nil when the box is empty.
func BinaryMask(res *segment.Result, i int, threshold float32) (*image.Gray, remap.Rect, error) {
	if res == nil {
		return nil, remap.Empty, ErrNoResult
	}
	box := res.Box(i)
	if box.IsEmpty() {
		return nil, remap.Empty, nil
	}
	full, err := OriginalMask(res, i)
	if err != nil {
		return nil, remap.Empty, err
	}

	thr := threshold8(threshold)
	out := image.NewGray(image.Rect(0, 0, box.W, box.H))
	for y := range box.H {
		src := full.Pix[(box.Y+y)*full.Stride+box.X : (box.Y+y)*full.Stride+box.X+box.W]
		dst := out.Pix[y*out.Stride : y*out.Stride+box.W]
		for x, v := range src {
			if v > thr {
				dst[x] = 255
			}
		}
	}
	return out, box, nil
}

// Overlay draws every detection of res over a copy of img: the mask filled
// with the class color inside its box, then the box outline. Results without
// protos get outlines only.
func Overlay(img image.Image, res *segment.Result, opts Options) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	if res == nil {
		return nil, ErrNoResult
	}
	dst := imaging.Clone(img)
	alpha := min(max(opts.Alpha, 0), 1)
	thr := threshold8(opts.MaskThreshold)

	for i, det := range res.Detections {
		box := res.Box(i)
		if box.IsEmpty() {
			continue
		}
		col := utils.ClassColor(det.Class)
		if opts.BoxColor != nil {
			col = *opts.BoxColor
		}

		if res.HasMasks() && alpha > 0 {
			m, err := OriginalMask(res, i)
			if err != nil {
				return nil, err
			}
			fill(dst, m, box, col, alpha, thr)
		}
		utils.DrawRect(dst, box.Image(), col, opts.Thickness)
	}
	return dst, nil
}

func fill(dst *image.NRGBA, m *image.Gray, box remap.Rect, col color.NRGBA, alpha float64, thr uint8) {
	a := alpha
	for y := box.Y; y < box.Y+box.H; y++ {
		mrow := m.Pix[y*m.Stride : y*m.Stride+m.Rect.Dx()]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+4*dst.Rect.Dx()]
		for x := box.X; x < box.X+box.W; x++ {
			if mrow[x] <= thr {
				continue
			}
			px := drow[4*x : 4*x+3 : 4*x+3]
			px[0] = blend(px[0], col.R, a)
			px[1] = blend(px[1], col.G, a)
			px[2] = blend(px[2], col.B, a)
		}
	}
}

func blend(dst, src uint8, a float64) uint8 {
	return uint8(float64(dst)*(1-a) + float64(src)*a + 0.5)
}
