// Package adapter turns the raw outputs of either execution backend into a
// single canonical view: a detection head iterable by (prediction, channel)
// and a prototype buffer with known dimensions and layout.
package adapter

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/segpost/internal/onnx"
	"github.com/MeKo-Tech/segpost/internal/proto"
)

// ErrInvalidLayout is returned when a raw output cannot be interpreted as a
// segmentation head.
var ErrInvalidLayout = errors.New("invalid head layout")

const (
	// BoxChannels is the number of leading box channels (cx, cy, w, h).
	BoxChannels = 4

	maxChannelAxis   = 512
	minPredAxis      = 1000
	channelSlack     = 256
	coordSampleLimit = 128
	normalizedMaxWH  = 3.5
)

// RawOutput is the output of one backend call: either a *TensorOutput or a
// *FlatOutput.
type RawOutput interface {
	backendKind() string
}

// TensorOutput is what a tensor runtime returns: a rank-3 detection tensor
// with ambiguous axis order and a rank-4 [1, K, H, W] proto tensor.
type TensorOutput struct {
	Det   onnx.Tensor
	Proto onnx.Tensor
}

func (*TensorOutput) backendKind() string { return "tensor" }

// FlatOutput is what a native engine returns: a flat [Count, Width]
// detection buffer and a flat proto buffer whose layout is not known.
type FlatOutput struct {
	Det    []float32
	Count  int
	Width  int
	Proto  []float32
	SegDim int
	MaskH  int
	MaskW  int
}

func (*FlatOutput) backendKind() string { return "flat" }

// Kind names the backend convention of raw ("tensor" or "flat").
func Kind(raw RawOutput) string {
	if raw == nil {
		return ""
	}
	return raw.backendKind()
}

// Head is a canonical view of a detection head. Each of NPred predictions
// has Channels values: 4 box values, NumClasses class scores, then SegDim
// mask coefficients.
type Head struct {
	data         []float32
	nPred        int
	channels     int
	segDim       int
	channelMajor bool
	coordScale   float32
}

// At returns channel c of prediction p, without the coordinate scale.
func (h *Head) At(p, c int) float32 {
	if h.channelMajor {
		return h.data[c*h.nPred+p]
	}
	return h.data[p*h.channels+c]
}

// NPred returns the number of predictions.
func (h *Head) NPred() int { return h.nPred }

// Channels returns the number of values per prediction.
func (h *Head) Channels() int { return h.channels }

// NumClasses returns the number of class score channels.
func (h *Head) NumClasses() int { return h.channels - BoxChannels - h.segDim }

// SegDim returns the number of mask coefficients per prediction.
func (h *Head) SegDim() int { return h.segDim }

// ChannelMajor reports whether the underlying data is laid out
// [channels, nPred].
func (h *Head) ChannelMajor() bool { return h.channelMajor }

// CoordScale is the factor box values are multiplied by to reach net pixels:
// N for normalized heads, 1 otherwise.
func (h *Head) CoordScale() float32 { return h.coordScale }

// CoeffOffset is the channel index of the first mask coefficient.
func (h *Head) CoeffOffset() int { return BoxChannels + h.NumClasses() }

// ProtoSource is a prototype buffer with known dimensions. Layout is
// proto.Unknown for backends that do not fix it.
type ProtoSource struct {
	Data   []float32
	SegDim int
	H      int
	W      int
	Layout proto.Layout
}

// Adapted is the canonical form of one backend output.
type Adapted struct {
	Head  Head
	Proto ProtoSource
}

// Adapt normalizes raw into a Head and a ProtoSource for a net of size
// netSize.
func Adapt(raw RawOutput, netSize int) (*Adapted, error) {
	var (
		out *Adapted
		err error
	)
	switch r := raw.(type) {
	case *TensorOutput:
		out, err = adaptTensor(r)
	case *FlatOutput:
		out, err = adaptFlat(r)
	case nil:
		return nil, fmt.Errorf("%w: nil output", ErrInvalidLayout)
	default:
		return nil, fmt.Errorf("%w: unsupported output type %T", ErrInvalidLayout, raw)
	}
	if err != nil {
		return nil, err
	}
	if out.Head.NumClasses() <= 0 {
		return nil, fmt.Errorf("%w: %d channels leave no class scores with %d coefficients",
			ErrInvalidLayout, out.Head.channels, out.Head.segDim)
	}
	out.Head.coordScale = inferCoordScale(&out.Head, netSize)
	return out, nil
}

func adaptTensor(r *TensorOutput) (*Adapted, error) {
	if err := onnx.Verify(r.Proto, 4); err != nil {
		return nil, fmt.Errorf("%w: proto: %w", ErrInvalidLayout, err)
	}
	if err := onnx.Verify(r.Det, 3); err != nil {
		return nil, fmt.Errorf("%w: detection: %w", ErrInvalidLayout, err)
	}
	if r.Det.Shape[0] != 1 || r.Proto.Shape[0] != 1 {
		return nil, fmt.Errorf("%w: batch size detection=%d proto=%d, want 1",
			ErrInvalidLayout, r.Det.Shape[0], r.Proto.Shape[0])
	}
	segDim := int(r.Proto.Shape[1])
	a, b := int(r.Det.Shape[1]), int(r.Det.Shape[2])

	head := Head{data: r.Det.Data, segDim: segDim}
	if (a <= maxChannelAxis && b >= minPredAxis) || a <= segDim+BoxChannels+channelSlack {
		head.channels, head.nPred, head.channelMajor = a, b, true
	} else {
		head.channels, head.nPred, head.channelMajor = b, a, false
	}

	return &Adapted{
		Head: head,
		Proto: ProtoSource{
			Data:   r.Proto.Data,
			SegDim: segDim,
			H:      int(r.Proto.Shape[2]),
			W:      int(r.Proto.Shape[3]),
			Layout: proto.ChannelMajor,
		},
	}, nil
}

func adaptFlat(r *FlatOutput) (*Adapted, error) {
	if r.Count < 0 || r.Width <= 0 {
		return nil, fmt.Errorf("%w: detection dims %dx%d", ErrInvalidLayout, r.Count, r.Width)
	}
	if len(r.Det) != r.Count*r.Width {
		return nil, fmt.Errorf("%w: detection length %d != %d*%d", ErrInvalidLayout, len(r.Det), r.Count, r.Width)
	}
	if r.SegDim <= 0 || r.MaskH <= 0 || r.MaskW <= 0 {
		return nil, fmt.Errorf("%w: proto dims %dx%dx%d", ErrInvalidLayout, r.SegDim, r.MaskH, r.MaskW)
	}
	if len(r.Proto) != r.SegDim*r.MaskH*r.MaskW {
		return nil, fmt.Errorf("%w: proto length %d != %d", ErrInvalidLayout, len(r.Proto), r.SegDim*r.MaskH*r.MaskW)
	}

	head := Head{data: r.Det, segDim: r.SegDim}
	if r.Width > maxChannelAxis && r.Count <= maxChannelAxis {
		head.channels, head.nPred, head.channelMajor = r.Count, r.Width, true
	} else {
		head.channels, head.nPred, head.channelMajor = r.Width, r.Count, false
	}

	return &Adapted{
		Head: head,
		Proto: ProtoSource{
			Data:   r.Proto,
			SegDim: r.SegDim,
			H:      r.MaskH,
			W:      r.MaskW,
			Layout: proto.Unknown,
		},
	}, nil
}

// inferCoordScale samples the leading predictions' width and height. Heads
// whose sizes never exceed 3.5 are taken to be normalized to [0,1].
func inferCoordScale(h *Head, netSize int) float32 {
	n := min(h.nPred, coordSampleLimit)
	maxWH := float32(math.Inf(-1))
	for p := range n {
		maxWH = max(maxWH, h.At(p, 2), h.At(p, 3))
	}
	if n > 0 && maxWH <= normalizedMaxWH {
		return float32(netSize)
	}
	return 1
}
