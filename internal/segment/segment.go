// Package segment runs the instance segmentation post-processing pipeline:
// letterbox, backend inference, head adaptation, decoding, suppression and
// proto layout resolution.
package segment

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/segpost/internal/adapter"
	"github.com/MeKo-Tech/segpost/internal/cache"
	"github.com/MeKo-Tech/segpost/internal/common"
	"github.com/MeKo-Tech/segpost/internal/detector"
	"github.com/MeKo-Tech/segpost/internal/onnx"
	"github.com/MeKo-Tech/segpost/internal/proto"
)

var (
	// ErrBackend wraps failures reported by a backend.
	ErrBackend = errors.New("backend execution failed")
	// ErrNoProto is returned for mask requests on a result without protos.
	ErrNoProto = errors.New("proto layout unresolved")
)

// Backend executes the model on a [1, 3, N, N] input. Implementations return
// either a *adapter.TensorOutput or a *adapter.FlatOutput whose buffers the
// caller owns.
type Backend interface {
	Infer(input onnx.Tensor) (adapter.RawOutput, error)
}

// Config holds pipeline parameters.
type Config struct {
	NetSize  int
	Detector detector.Config
}

// DefaultConfig returns a 640 net with default decoder settings.
func DefaultConfig() Config {
	return Config{NetSize: 640, Detector: detector.DefaultConfig()}
}

// Validate checks the net size and decoder settings.
func (c Config) Validate() error {
	if c.NetSize <= 0 {
		return fmt.Errorf("net size must be positive, got %d", c.NetSize)
	}
	return c.Detector.Validate()
}

// Process segments img with backend b, using c for buffers and the cached
// proto layout. Calls sharing c must not run concurrently. An empty
// Detections slice is a normal result.
func Process(b Backend, c *cache.Cache, img image.Image, cfg detector.Config) (*Result, error) {
	stages := common.NewStages()

	t := stages.Begin("preprocess")
	buf, err := c.Buffer()
	if err != nil {
		return nil, err
	}
	pre := c.Preprocessor()
	geom, err := pre.Run(img, buf)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}
	input, err := onnx.NewImageTensor(buf, 3, pre.Size(), pre.Size())
	if err != nil {
		return nil, err
	}
	t.Stop()

	t = stages.Begin("inference")
	raw, err := b.Infer(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	t.Stop()

	t = stages.Begin("postprocess")
	adapted, err := adapter.Adapt(raw, pre.Size())
	if err != nil {
		return nil, err
	}
	kept := detector.Suppress(detector.Decode(&adapted.Head, cfg), cfg)

	ps := adapted.Proto
	canonical, err := canonicalProto(c, ps, kept)
	if err != nil {
		return nil, err
	}
	t.Stop()

	res := &Result{
		Geometry:     geom,
		Detections:   kept,
		SegDim:       ps.SegDim,
		MaskH:        ps.H,
		MaskW:        ps.W,
		Proto:        canonical,
		SourceLayout: ps.Layout,
		Backend:      adapter.Kind(raw),
		Timing: Timing{
			Preprocess:  stages.Get("preprocess"),
			Inference:   stages.Get("inference"),
			Postprocess: stages.Get("postprocess"),
			Total:       stages.Total(),
		},
	}
	if res.SourceLayout == proto.Unknown {
		res.SourceLayout = c.Layout()
	}

	slog.Debug("Segmentation complete",
		"handle", c.ID(),
		"backend", res.Backend,
		"candidates", adapted.Head.NPred(),
		"detections", len(kept),
		"timing", stages.String())
	return res, nil
}

// canonicalProto returns the channel-major proto for ps. Protos of unknown
// layout use the handle's cached decision; the first call that has a
// detection resolves and caches it. Without a decision the proto is nil.
func canonicalProto(c *cache.Cache, ps adapter.ProtoSource, kept []detector.Detection) ([]float32, error) {
	layout := ps.Layout
	if layout == proto.Unknown {
		layout = c.Layout()
	}
	if layout == proto.Unknown {
		if len(kept) == 0 {
			return nil, nil
		}
		resolved, err := proto.Resolve(kept[0].Coeffs, ps.Data, ps.SegDim, ps.H, ps.W)
		if err != nil {
			return nil, err
		}
		c.SetLayout(resolved)
		layout = c.Layout()
	}
	return proto.Canonicalize(ps.Data, layout, ps.SegDim, ps.H, ps.W)
}
