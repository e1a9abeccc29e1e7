package segment

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/segpost/internal/detector"
	"github.com/MeKo-Tech/segpost/internal/letterbox"
	"github.com/MeKo-Tech/segpost/internal/mask"
	"github.com/MeKo-Tech/segpost/internal/proto"
	"github.com/MeKo-Tech/segpost/internal/remap"
)

// Timing records how long each stage of one call took. It is informational.
type Timing struct {
	Preprocess  time.Duration `json:"preprocess_ns"`
	Inference   time.Duration `json:"inference_ns"`
	Postprocess time.Duration `json:"postprocess_ns"`
	Total       time.Duration `json:"total_ns"`
}

// Result is the output of one segmentation call. It is not modified after
// Process returns.
type Result struct {
	letterbox.Geometry

	Detections []detector.Detection
	SegDim     int
	MaskH      int
	MaskW      int
	// Proto is the channel-major proto buffer (SegDim*MaskH*MaskW), or nil
	// when its layout could not be resolved.
	Proto []float32
	// SourceLayout is the layout the backend delivered the proto in.
	SourceLayout proto.Layout
	Backend      string
	Timing       Timing
}

// Len returns the number of detections.
func (r *Result) Len() int { return len(r.Detections) }

// MaskLen returns the length of one mask buffer, MaskH*MaskW.
func (r *Result) MaskLen() int { return r.MaskH * r.MaskW }

// HasMasks reports whether masks can be synthesized.
func (r *Result) HasMasks() bool { return r.Proto != nil }

// Mask synthesizes the mask of detection i into dst, which must hold
// MaskLen values. Values are probabilities in net-space mask coordinates.
func (r *Result) Mask(i int, dst []float32) error {
	if i < 0 || i >= len(r.Detections) {
		return fmt.Errorf("detection index %d out of range [0,%d)", i, len(r.Detections))
	}
	if r.Proto == nil {
		return ErrNoProto
	}
	return mask.Synthesize(dst, r.Detections[i].Coeffs, r.Proto, r.SegDim, r.MaskH, r.MaskW)
}

// Box maps detection i into original image pixels. It returns remap.Empty
// for out-of-range indices and boxes with no area left after clipping.
func (r *Result) Box(i int) remap.Rect {
	if i < 0 || i >= len(r.Detections) {
		return remap.Empty
	}
	b := r.Detections[i].Box
	return remap.Box(b.Left, b.Top, b.Right, b.Bottom, r.Geometry)
}
