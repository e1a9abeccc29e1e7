package backend

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/MeKo-Tech/segpost/internal/adapter"
	"github.com/MeKo-Tech/segpost/internal/onnx"
)

// ErrEngineStatus is returned when an engine reports a non-zero status.
var ErrEngineStatus = errors.New("engine reported failure")

// EngineOutput is what a native engine returns for one forward pass. The
// slices are borrowed: they stay valid only until Release is called.
type EngineOutput struct {
	Det   []float32
	Count int
	Width int

	Proto  []float32
	SegDim int
	MaskH  int
	MaskW  int

	Status int
}

// Engine is a native inference engine that exposes its outputs as flat
// float buffers it owns.
type Engine interface {
	Execute(input []float32) (EngineOutput, error)
	Release()
}

// FlatBackend adapts an Engine to segment.Backend. Outputs are copied out
// of the engine's buffers before they are released.
type FlatBackend struct {
	mu     sync.Mutex
	engine Engine
}

// NewFlatBackend wraps e.
func NewFlatBackend(e Engine) *FlatBackend {
	return &FlatBackend{engine: e}
}

// Infer runs one forward pass.
func (b *FlatBackend) Infer(input onnx.Tensor) (adapter.RawOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine == nil {
		return nil, ErrClosed
	}

	out, err := b.engine.Execute(input.Data)
	defer b.engine.Release()
	if err != nil {
		return nil, fmt.Errorf("engine execute failed: %w", err)
	}
	if out.Status != 0 {
		return nil, fmt.Errorf("%w: status %d", ErrEngineStatus, out.Status)
	}
	if out.Count < 0 || out.Width <= 0 {
		return nil, fmt.Errorf("%w: engine detection dims %dx%d", adapter.ErrInvalidLayout, out.Count, out.Width)
	}
	if out.SegDim <= 0 || out.MaskH <= 0 || out.MaskW <= 0 {
		return nil, fmt.Errorf("%w: engine proto dims %dx%dx%d", adapter.ErrInvalidLayout, out.SegDim, out.MaskH, out.MaskW)
	}
	if len(out.Det) < out.Count*out.Width {
		return nil, fmt.Errorf("engine returned %d detection values, want %d", len(out.Det), out.Count*out.Width)
	}
	if want := out.SegDim * out.MaskH * out.MaskW; len(out.Proto) < want {
		return nil, fmt.Errorf("engine returned %d proto values, want %d", len(out.Proto), want)
	}

	return &adapter.FlatOutput{
		Det:    append([]float32(nil), out.Det[:out.Count*out.Width]...),
		Count:  out.Count,
		Width:  out.Width,
		Proto:  append([]float32(nil), out.Proto[:out.SegDim*out.MaskH*out.MaskW]...),
		SegDim: out.SegDim,
		MaskH:  out.MaskH,
		MaskW:  out.MaskW,
	}, nil
}

// Close closes the engine if it holds resources.
func (b *FlatBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.engine
	b.engine = nil
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
