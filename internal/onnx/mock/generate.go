// Package mock builds synthetic segmentation heads, prototype buffers and
// fake backends for tests.
package mock

import (
	"math"

	"github.com/MeKo-Tech/segpost/internal/adapter"
	"github.com/MeKo-Tech/segpost/internal/onnx"
)

// BackgroundLogit is the class logit written for every non-hot prediction.
const BackgroundLogit = -10

// Pred describes one crafted prediction in net pixels.
type Pred struct {
	CX, CY, W, H float32
	Class        int
	Logit        float32 // raw class score written at Class
	Coeffs       []float32
}

// HeadSpec fixes the shape of a synthetic detection head.
type HeadSpec struct {
	NPred      int
	NumClasses int
	SegDim     int
}

// Channels returns 4 + NumClasses + SegDim.
func (s HeadSpec) Channels() int { return adapter.BoxChannels + s.NumClasses + s.SegDim }

// NewHead returns prediction-major head data [NPred, Channels]. preds fill
// the leading rows; remaining rows carry zero boxes and background logits.
func NewHead(spec HeadSpec, preds []Pred) []float32 {
	if spec.NPred <= 0 || spec.NumClasses <= 0 || spec.SegDim < 0 {
		return nil
	}
	ch := spec.Channels()
	data := make([]float32, spec.NPred*ch)
	for p := range spec.NPred {
		row := data[p*ch : (p+1)*ch]
		for c := range spec.NumClasses {
			row[adapter.BoxChannels+c] = BackgroundLogit
		}
		if p >= len(preds) {
			continue
		}
		pr := preds[p]
		row[0], row[1], row[2], row[3] = pr.CX, pr.CY, pr.W, pr.H
		if pr.Class >= 0 && pr.Class < spec.NumClasses {
			row[adapter.BoxChannels+pr.Class] = pr.Logit
		}
		copy(row[adapter.BoxChannels+spec.NumClasses:], pr.Coeffs)
	}
	return data
}

// Transpose returns the [cols, rows] transpose of a row-major [rows, cols]
// buffer.
func Transpose(data []float32, rows, cols int) []float32 {
	out := make([]float32, len(data))
	for r := range rows {
		for c := range cols {
			out[c*rows+r] = data[r*cols+c]
		}
	}
	return out
}

// ToSpatialMajor rewrites a channel-major [K, H, W] proto as [H, W, K].
func ToSpatialMajor(proto []float32, segDim, h, w int) []float32 {
	return Transpose(proto, segDim, h*w)
}

// NewTensorOutput builds a tensor-runtime output. With channelsFirst the
// detection tensor is [1, C, P], otherwise [1, P, C].
func NewTensorOutput(spec HeadSpec, preds []Pred, proto []float32, maskH, maskW int, channelsFirst bool) *adapter.TensorOutput {
	ch := spec.Channels()
	det := NewHead(spec, preds)
	shape := []int64{1, int64(spec.NPred), int64(ch)}
	if channelsFirst {
		det = Transpose(det, spec.NPred, ch)
		shape = []int64{1, int64(ch), int64(spec.NPred)}
	}
	return &adapter.TensorOutput{
		Det:   onnx.Tensor{Data: det, Shape: shape},
		Proto: onnx.Tensor{Data: proto, Shape: []int64{1, int64(spec.SegDim), int64(maskH), int64(maskW)}},
	}
}

// NewFlatOutput builds a native-engine output. With transposed the
// detection buffer is [C, P] and reported as Count=C, Width=P.
func NewFlatOutput(spec HeadSpec, preds []Pred, proto []float32, maskH, maskW int, transposed bool) *adapter.FlatOutput {
	ch := spec.Channels()
	det := NewHead(spec, preds)
	count, width := spec.NPred, ch
	if transposed {
		det = Transpose(det, spec.NPred, ch)
		count, width = ch, spec.NPred
	}
	return &adapter.FlatOutput{
		Det:    det,
		Count:  count,
		Width:  width,
		Proto:  proto,
		SegDim: spec.SegDim,
		MaskH:  maskH,
		MaskW:  maskW,
	}
}

// NewHalfPlaneProto returns a channel-major proto whose channel 0 is +amp on
// the left half of each row and -amp on the right half. All other channels
// are zero.
func NewHalfPlaneProto(segDim, h, w int, amp float32) []float32 {
	if segDim <= 0 || h <= 0 || w <= 0 {
		return nil
	}
	data := make([]float32, segDim*h*w)
	for y := range h {
		for x := range w {
			v := amp
			if x >= w/2 {
				v = -amp
			}
			data[y*w+x] = v
		}
	}
	return data
}

// NewUniformProto returns a proto filled with value.
func NewUniformProto(segDim, h, w int, value float32) []float32 {
	if segDim <= 0 || h <= 0 || w <= 0 {
		return nil
	}
	data := make([]float32, segDim*h*w)
	for i := range data {
		data[i] = value
	}
	return data
}

// NewCenteredBlobProto returns a channel-major proto whose channel 0 holds a
// Gaussian-like blob centered in the map, scaled so the peak equals peak and
// shifted so the border sits near -peak. sigma controls spread.
func NewCenteredBlobProto(segDim, h, w int, peak float32, sigma float64) []float32 {
	if segDim <= 0 || h <= 0 || w <= 0 {
		return nil
	}
	data := make([]float32, segDim*h*w)
	cx := float64(w-1) / 2.0
	cy := float64(h-1) / 2.0
	inv2s2 := 1.0 / (2.0 * sigma * sigma)
	for y := range h {
		for x := range w {
			dx := float64(x) - cx
			dy := float64(y) - cy
			g := float32(math.Exp(-(dx*dx + dy*dy) * inv2s2))
			data[y*w+x] = peak * (2*g - 1)
		}
	}
	return data
}

// UnitCoeffs returns a coefficient vector of length segDim selecting
// channel 0.
func UnitCoeffs(segDim int) []float32 {
	c := make([]float32, segDim)
	if segDim > 0 {
		c[0] = 1
	}
	return c
}
