// Package proto resolves and normalizes the memory layout of prototype mask
// buffers. Backends that do not document their proto layout hand over a flat
// buffer that is either channel-major (K,H,W) or spatial-major (H,W,K); the
// mask synthesizer only consumes channel-major data.
package proto

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/segpost/internal/mask"
	"github.com/MeKo-Tech/segpost/internal/mempool"
	"gonum.org/v1/gonum/stat"
)

// Layout describes how a flat proto buffer is ordered.
type Layout int

const (
	// Unknown means the layout has not been determined yet.
	Unknown Layout = iota
	// ChannelMajor is (K,H,W): the spatial index varies fastest.
	ChannelMajor
	// SpatialMajor is (H,W,K): the channel index varies fastest.
	SpatialMajor
)

// ErrLengthMismatch is returned when a buffer does not hold segDim*h*w values.
var ErrLengthMismatch = errors.New("proto buffer length mismatch")

func (l Layout) String() string {
	switch l {
	case ChannelMajor:
		return "channel-major"
	case SpatialMajor:
		return "spatial-major"
	default:
		return "unknown"
	}
}

// Resolve guesses the layout of data by synthesizing one mask from coeffs
// under each interpretation and keeping the one with the higher spatial
// variance. Reading a buffer with the wrong stride mixes unrelated channels
// and spatial positions, which tends to flatten the result. Ties resolve to
// ChannelMajor. The heuristic is best effort: proto data that is nearly
// uniform under both readings can be misclassified.
func Resolve(coeffs, data []float32, segDim, h, w int) (Layout, error) {
	n := h * w
	khw := mempool.GetFloat32(n)
	hwk := mempool.GetFloat32(n)
	defer mempool.PutFloat32(khw)
	defer mempool.PutFloat32(hwk)

	if err := mask.Synthesize(khw, coeffs, data, segDim, h, w); err != nil {
		return Unknown, fmt.Errorf("channel-major probe: %w", err)
	}
	if err := mask.SynthesizeSpatialMajor(hwk, coeffs, data, segDim, h, w); err != nil {
		return Unknown, fmt.Errorf("spatial-major probe: %w", err)
	}

	if variance(hwk) > variance(khw) {
		return SpatialMajor, nil
	}
	return ChannelMajor, nil
}

func variance(m []float32) float64 {
	if len(m) < 2 {
		return 0
	}
	xs := make([]float64, len(m))
	for i, v := range m {
		xs[i] = float64(v)
	}
	return stat.Variance(xs, nil)
}

// Transpose rewrites a spatial-major buffer src into channel-major dst:
// dst[(k*h+y)*w+x] = src[(y*w+x)*segDim+k].
func Transpose(dst, src []float32, segDim, h, w int) error {
	want := segDim * h * w
	if segDim <= 0 || h <= 0 || w <= 0 {
		return fmt.Errorf("%w: invalid geometry segDim=%d h=%d w=%d", ErrLengthMismatch, segDim, h, w)
	}
	if len(src) != want {
		return fmt.Errorf("%w: source %d, want %d", ErrLengthMismatch, len(src), want)
	}
	if len(dst) != want {
		return fmt.Errorf("%w: destination %d, want %d", ErrLengthMismatch, len(dst), want)
	}

	plane := h * w
	for i := range plane {
		px := src[i*segDim : (i+1)*segDim]
		for k, v := range px {
			dst[k*plane+i] = v
		}
	}
	return nil
}

// Canonicalize returns data in channel-major order. ChannelMajor input is
// returned as is; SpatialMajor input is transposed into a new slice.
func Canonicalize(data []float32, layout Layout, segDim, h, w int) ([]float32, error) {
	switch layout {
	case ChannelMajor:
		if len(data) != segDim*h*w {
			return nil, fmt.Errorf("%w: proto %d, want %d", ErrLengthMismatch, len(data), segDim*h*w)
		}
		return data, nil
	case SpatialMajor:
		out := make([]float32, len(data))
		if err := Transpose(out, data, segDim, h, w); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot canonicalize proto with %s layout", layout)
	}
}
