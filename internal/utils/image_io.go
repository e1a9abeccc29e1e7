// Package utils holds image loading, encoding and drawing helpers shared by
// the CLI, the renderer and the HTTP service.
package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp" // register BMP decoder
)

// SupportedImageExtensions lists supported file extensions for loading.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// ImageMetadata captures lightweight file and pixel information.
type ImageMetadata struct {
	Path        string  `json:"path,omitempty"`
	Format      string  `json:"format"`
	SizeBytes   int64   `json:"size_bytes"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// LoadImage opens and decodes an image file, returning the image and metadata.
// EXIF orientation is applied so boxes line up with what viewers display.
func LoadImage(path string) (image.Image, ImageMetadata, error) {
	if path == "" {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		return nil, ImageMetadata{}, &ImageProcessingError{
			Operation: "load",
			Err:       fmt.Errorf("unsupported format: %s", filepath.Ext(path)),
		}
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a user-provided image path is expected
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: err}
	}

	img, meta, err := DecodeImage(data)
	if err != nil {
		return nil, ImageMetadata{}, err
	}
	meta.Path = path
	return img, meta, nil
}

// DecodeImage decodes an in-memory image (uploads, websocket frames).
func DecodeImage(data []byte) (image.Image, ImageMetadata, error) {
	if len(data) == 0 {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: errors.New("empty image data")}
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: err}
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: err}
	}

	b := img.Bounds()
	meta := ImageMetadata{
		Format:    format,
		SizeBytes: int64(len(data)),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
	if b.Dy() > 0 {
		meta.AspectRatio = float64(b.Dx()) / float64(b.Dy())
	}
	return img, meta, nil
}

// BatchImageResult is one entry of BatchLoadImages.
type BatchImageResult struct {
	Path string
	Img  image.Image
	Meta ImageMetadata
	Err  error
}

// BatchLoadImages loads multiple images and returns results in order.
// A failed load is reported in its entry and does not stop the batch.
func BatchLoadImages(paths []string) []BatchImageResult {
	results := make([]BatchImageResult, 0, len(paths))
	for _, p := range paths {
		img, meta, err := LoadImage(p)
		results = append(results, BatchImageResult{Path: p, Img: img, Meta: meta, Err: err})
	}
	return results
}

// ValidateImageConstraints checks dimensions against the provided constraints.
// Zero limits are not enforced.
func ValidateImageConstraints(img image.Image, constraints ImageConstraints) error {
	if img == nil {
		return &ImageProcessingError{Operation: "validate", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < constraints.MinWidth || h < constraints.MinHeight {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("image too small: %dx%d < %dx%d", w, h, constraints.MinWidth, constraints.MinHeight),
		}
	}
	if (constraints.MaxWidth > 0 && w > constraints.MaxWidth) ||
		(constraints.MaxHeight > 0 && h > constraints.MaxHeight) {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("image too large: %dx%d > %dx%d", w, h, constraints.MaxWidth, constraints.MaxHeight),
		}
	}
	return nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return &ImageProcessingError{Operation: "encode", Err: err}
	}
	return nil
}

// EncodePNGBase64 returns img as a base64 (standard encoding) PNG string.
func EncodePNGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage writes img to path; the format follows the extension.
func SaveImage(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &ImageProcessingError{Operation: "save", Err: err}
		}
	}
	if err := imaging.Save(img, path); err != nil {
		return &ImageProcessingError{Operation: "save", Err: err}
	}
	return nil
}
