package mock

import (
	"errors"
	"sync/atomic"

	"github.com/MeKo-Tech/segpost/internal/adapter"
	"github.com/MeKo-Tech/segpost/internal/onnx"
)

// ErrInjected is returned by backends configured to fail.
var ErrInjected = errors.New("injected backend failure")

// Backend returns a fixed raw output for every call and records the inputs
// it was given.
type Backend struct {
	Out  adapter.RawOutput
	Fail bool

	calls     atomic.Int64
	lastShape []int64
}

// Infer returns b.Out, or ErrInjected when Fail is set.
func (b *Backend) Infer(input onnx.Tensor) (adapter.RawOutput, error) {
	b.calls.Add(1)
	b.lastShape = append(b.lastShape[:0], input.Shape...)
	if b.Fail {
		return nil, ErrInjected
	}
	return b.Out, nil
}

// Calls returns the number of Infer calls so far.
func (b *Backend) Calls() int { return int(b.calls.Load()) }

// LastShape returns the shape of the most recent input tensor.
func (b *Backend) LastShape() []int64 { return b.lastShape }

// Sequence returns a different output per call, repeating the last one
// once exhausted.
type Sequence struct {
	Outs []adapter.RawOutput
	n    int
}

// Infer returns the next output in the sequence.
func (s *Sequence) Infer(onnx.Tensor) (adapter.RawOutput, error) {
	if len(s.Outs) == 0 {
		return nil, ErrInjected
	}
	i := min(s.n, len(s.Outs)-1)
	s.n++
	return s.Outs[i], nil
}
