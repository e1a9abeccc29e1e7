// Package mask reconstructs instance masks from prototype masks and the
// per-detection coefficient vector (YOLACT-style linear combination).
package mask

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/sourcegraph/conc"
)

// ErrLengthMismatch is returned when a coefficient, proto or output buffer
// does not match the declared (segDim, H, W) geometry.
var ErrLengthMismatch = errors.New("mask buffer length mismatch")

// lanes is the number of contiguous x positions accumulated per step.
const lanes = 8

// Sigmoid is the branch-stable logistic function.
func Sigmoid(x float32) float32 {
	if x >= 0 {
		return 1 / (1 + math32.Exp(-x))
	}
	e := math32.Exp(x)
	return e / (1 + e)
}

func checkLengths(dst, coeffs, proto []float32, segDim, h, w int) error {
	if segDim <= 0 || h <= 0 || w <= 0 {
		return fmt.Errorf("%w: invalid geometry segDim=%d h=%d w=%d", ErrLengthMismatch, segDim, h, w)
	}
	if len(coeffs) != segDim {
		return fmt.Errorf("%w: coefficients %d, want %d", ErrLengthMismatch, len(coeffs), segDim)
	}
	if len(proto) != segDim*h*w {
		return fmt.Errorf("%w: proto %d, want %d", ErrLengthMismatch, len(proto), segDim*h*w)
	}
	if len(dst) != h*w {
		return fmt.Errorf("%w: output %d, want %d", ErrLengthMismatch, len(dst), h*w)
	}
	return nil
}

// Synthesize computes mask[y,x] = sigmoid(sum_k coeffs[k]*proto[(k*h+y)*w+x])
// over a channel-major proto buffer and writes it into dst (len h*w).
// Each row is computed by its own goroutine; all rows are complete when
// Synthesize returns.
func Synthesize(dst, coeffs, proto []float32, segDim, h, w int) error {
	if err := checkLengths(dst, coeffs, proto, segDim, h, w); err != nil {
		return err
	}

	var wg conc.WaitGroup
	for y := range h {
		wg.Go(func() {
			synthesizeRow(dst[y*w:(y+1)*w], coeffs, proto, y, h, w)
		})
	}
	wg.Wait()
	return nil
}

// synthesizeRow fills one output row. The k loop runs in the same order for
// every position so the unrolled block and the remainder agree with the
// scalar formula.
func synthesizeRow(row, coeffs, proto []float32, y, h, w int) {
	plane := h * w
	base := y * w

	x := 0
	for ; x+lanes <= w; x += lanes {
		var acc [lanes]float32
		for k, c := range coeffs {
			off := k*plane + base + x
			p := proto[off : off+lanes : off+lanes]
			acc[0] += c * p[0]
			acc[1] += c * p[1]
			acc[2] += c * p[2]
			acc[3] += c * p[3]
			acc[4] += c * p[4]
			acc[5] += c * p[5]
			acc[6] += c * p[6]
			acc[7] += c * p[7]
		}
		out := row[x : x+lanes : x+lanes]
		for i, v := range acc {
			out[i] = Sigmoid(v)
		}
	}

	for ; x < w; x++ {
		var acc float32
		for k, c := range coeffs {
			acc += c * proto[k*plane+base+x]
		}
		row[x] = Sigmoid(acc)
	}
}

// SynthesizeSpatialMajor is the scalar counterpart of Synthesize for a proto
// buffer laid out as (y, x, k), i.e. proto[(y*w+x)*segDim+k].
func SynthesizeSpatialMajor(dst, coeffs, proto []float32, segDim, h, w int) error {
	if err := checkLengths(dst, coeffs, proto, segDim, h, w); err != nil {
		return err
	}
	for i := range h * w {
		px := proto[i*segDim : (i+1)*segDim]
		var acc float32
		for k, c := range coeffs {
			acc += c * px[k]
		}
		dst[i] = Sigmoid(acc)
	}
	return nil
}

// Binarize writes 255 into dst wherever m exceeds threshold and 0 elsewhere.
// dst is typically the Pix slice of an image.Gray with the mask's geometry.
func Binarize(dst []uint8, m []float32, threshold float32) error {
	if len(dst) != len(m) {
		return fmt.Errorf("%w: binary %d, mask %d", ErrLengthMismatch, len(dst), len(m))
	}
	for i, v := range m {
		if v > threshold {
			dst[i] = 255
		} else {
			dst[i] = 0
		}
	}
	return nil
}
