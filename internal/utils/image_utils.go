package utils

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// CropImageRect crops an image to the given rectangle.
func CropImageRect(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return imaging.New(0, 0, color.Transparent)
	}
	return imaging.Crop(img, rect)
}

// DrawRect draws an axis-aligned rectangle outline into dst.
func DrawRect(dst *image.NRGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	c := color.NRGBAModel.Convert(col).(color.NRGBA)
	// Top and bottom edges
	for t := range thickness {
		yTop := rect.Min.Y + t
		yBot := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.SetNRGBA(x, yTop, c)
			dst.SetNRGBA(x, yBot, c)
		}
	}
	// Left and right edges
	for t := range thickness {
		xLeft := rect.Min.X + t
		xRight := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.SetNRGBA(xLeft, y, c)
			dst.SetNRGBA(xRight, y, c)
		}
	}
}

// ParseHexColor parses "#rrggbb" or "#rgb" (the '#' is optional).
func ParseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

var palette = []color.NRGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 146, G: 204, B: 23, A: 255},
	{R: 61, G: 219, B: 134, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
	{R: 0, G: 212, B: 187, A: 255},
	{R: 44, G: 153, B: 168, A: 255},
	{R: 0, G: 194, B: 255, A: 255},
	{R: 52, G: 69, B: 147, A: 255},
	{R: 100, G: 115, B: 255, A: 255},
	{R: 0, G: 24, B: 236, A: 255},
	{R: 132, G: 56, B: 255, A: 255},
	{R: 82, G: 0, B: 133, A: 255},
	{R: 203, G: 56, B: 255, A: 255},
	{R: 255, G: 149, B: 200, A: 255},
	{R: 255, G: 55, B: 199, A: 255},
}

// ClassColor returns a stable color for a class index.
func ClassColor(class int) color.NRGBA {
	if class < 0 {
		class = -class
	}
	return palette[class%len(palette)]
}
