package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateScene(t *testing.T) {
	img := GenerateScene(DefaultScene())
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 480, img.Bounds().Dy())

	// Background and object interior away from the caption.
	assert.Equal(t, color.NRGBA{R: 128, G: 128, B: 128, A: 255}, img.NRGBAAt(10, 10))
	assert.Equal(t, color.NRGBA{R: 220, G: 40, B: 40, A: 255}, img.NRGBAAt(360, 280))
}

func TestGenerateScene_ClipsObjects(t *testing.T) {
	img := GenerateScene(Scene{
		Size:    ImageSize{32, 32},
		Objects: []SceneObject{{Rect: image.Rect(20, 20, 100, 100), Color: color.Black}, {Rect: image.Rect(50, 50, 60, 60), Color: color.Black}},
	})
	assert.Equal(t, color.NRGBA{A: 255}, img.NRGBAAt(31, 31))
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, img.NRGBAAt(0, 0))
}

func TestEncodePNG(t *testing.T) {
	img := GenerateScene(Scene{Size: ImageSize{8, 4}, Background: color.Black})
	data := EncodePNG(t, img)
	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, CompareImages(img, decoded, 0))
}

func TestCompareImages(t *testing.T) {
	a := GenerateScene(Scene{Size: ImageSize{4, 4}, Background: color.Gray{Y: 100}})
	b := GenerateScene(Scene{Size: ImageSize{4, 4}, Background: color.Gray{Y: 104}})
	c := GenerateScene(Scene{Size: ImageSize{5, 4}, Background: color.Gray{Y: 100}})

	assert.True(t, CompareImages(a, b, 4))
	assert.False(t, CompareImages(a, b, 3))
	assert.False(t, CompareImages(a, c, 255))
}
