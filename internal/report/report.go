// Package report turns segmentation results into the JSON, text and CSV
// documents returned by the CLI and the HTTP service.
package report

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/MeKo-Tech/segpost/internal/detector"
	"github.com/MeKo-Tech/segpost/internal/letterbox"
	"github.com/MeKo-Tech/segpost/internal/models"
	"github.com/MeKo-Tech/segpost/internal/remap"
	"github.com/MeKo-Tech/segpost/internal/render"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/MeKo-Tech/segpost/internal/utils"
)

// Detection is one reported object in original image pixels.
type Detection struct {
	Box     remap.Rect   `json:"box"`
	NetBox  detector.Box `json:"net_box"`
	Score   float32      `json:"score"`
	ClassID int          `json:"class_id"`
	Label   string       `json:"label"`
	// Mask is a base64 PNG of the binarized mask cropped to Box.
	Mask string `json:"mask,omitempty"`
}

// Timing is the per-stage time in milliseconds.
type Timing struct {
	PreprocessMs  float64 `json:"preprocess_ms"`
	InferenceMs   float64 `json:"inference_ms"`
	PostprocessMs float64 `json:"postprocess_ms"`
	TotalMs       float64 `json:"total_ms"`
}

// Report describes the segmentation of one image.
type Report struct {
	Source      string             `json:"source,omitempty"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	Count       int                `json:"count"`
	Detections  []Detection        `json:"detections"`
	Geometry    letterbox.Geometry `json:"geometry"`
	MaskSize    [2]int             `json:"mask_size"`
	ProtoLayout string             `json:"proto_layout"`
	Backend     string             `json:"backend"`
	Timing      Timing             `json:"timing"`
	// Overlay is a base64 PNG of the annotated image.
	Overlay string `json:"overlay,omitempty"`
}

// Options select the optional parts of a report.
type Options struct {
	Masks   bool
	Overlay bool
	Render  render.Options
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// Build converts res into a Report. img is only needed for overlays.
// Detections whose box is empty after remapping are left out.
func Build(res *segment.Result, img image.Image, labels *models.Labels, opts Options) (*Report, error) {
	if res == nil {
		return nil, errors.New("nil result")
	}
	rep := &Report{
		Width:       res.OrigW,
		Height:      res.OrigH,
		Detections:  make([]Detection, 0, res.Len()),
		Geometry:    res.Geometry,
		MaskSize:    [2]int{res.MaskW, res.MaskH},
		ProtoLayout: res.SourceLayout.String(),
		Backend:     res.Backend,
		Timing: Timing{
			PreprocessMs:  ms(res.Timing.Preprocess),
			InferenceMs:   ms(res.Timing.Inference),
			PostprocessMs: ms(res.Timing.Postprocess),
			TotalMs:       ms(res.Timing.Total),
		},
	}

	for i, det := range res.Detections {
		box := res.Box(i)
		if box.IsEmpty() {
			continue
		}
		d := Detection{
			Box:     box,
			NetBox:  det.Box,
			Score:   det.Score,
			ClassID: det.Class,
			Label:   labels.Name(det.Class),
		}
		if opts.Masks && res.HasMasks() {
			m, _, err := render.BinaryMask(res, i, opts.Render.MaskThreshold)
			if err != nil {
				return nil, fmt.Errorf("mask %d: %w", i, err)
			}
			if d.Mask, err = utils.EncodePNGBase64(m); err != nil {
				return nil, err
			}
		}
		rep.Detections = append(rep.Detections, d)
	}
	rep.Count = len(rep.Detections)

	if opts.Overlay {
		ov, err := render.Overlay(img, res, opts.Render)
		if err != nil {
			return nil, fmt.Errorf("overlay: %w", err)
		}
		if rep.Overlay, err = utils.EncodePNGBase64(ov); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// Validate performs simple consistency checks.
func Validate(rep *Report) error {
	if rep == nil {
		return errors.New("nil report")
	}
	if rep.Width <= 0 || rep.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", rep.Width, rep.Height)
	}
	for i, d := range rep.Detections {
		b := d.Box
		if b.W <= 0 || b.H <= 0 || b.X < 0 || b.Y < 0 {
			return fmt.Errorf("detection %d has an invalid box", i)
		}
		if b.X+b.W > rep.Width || b.Y+b.H > rep.Height {
			return fmt.Errorf("detection %d exceeds the image", i)
		}
		if d.Score < 0 || d.Score > 1 {
			return fmt.Errorf("detection %d score out of range", i)
		}
	}
	return nil
}
