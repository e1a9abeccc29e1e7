// Package backend provides the execution backends behind segment.Backend:
// an ONNX Runtime session and an adapter for native engines that hand out
// borrowed flat buffers.
package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/segpost/internal/adapter"
	"github.com/MeKo-Tech/segpost/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("backend is closed")

// ORTConfig configures an ONNX Runtime backend.
type ORTConfig struct {
	ModelPath  string
	NetSize    int // 0 takes the size from the model input
	NumThreads int // 0 lets ONNX Runtime decide
	GPU        onnx.GPUConfig
}

// ModelIO names the model's input and its two outputs.
type ModelIO struct {
	Input onnxruntime_go.InputOutputInfo
	Det   onnxruntime_go.InputOutputInfo
	Proto onnxruntime_go.InputOutputInfo
}

// ORTBackend runs a segmentation model with ONNX Runtime. It returns
// *adapter.TensorOutput values whose data is owned by the caller.
type ORTBackend struct {
	cfg     ORTConfig
	io      ModelIO
	netSize int

	mu      sync.RWMutex
	session *onnxruntime_go.DynamicAdvancedSession
}

// NewORTBackend loads the model at cfg.ModelPath.
func NewORTBackend(cfg ORTConfig) (*ORTBackend, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}
	if err := onnx.ValidateGPUConfig(cfg.GPU); err != nil {
		return nil, err
	}
	if err := onnx.InitEnvironment(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	mio, err := SelectModelIO(inputs, outputs)
	if err != nil {
		return nil, err
	}
	netSize, err := resolveNetSize(mio.Input.Dimensions, cfg.NetSize)
	if err != nil {
		return nil, err
	}

	session, err := createSession(cfg, mio)
	if err != nil {
		return nil, err
	}

	slog.Debug("ONNX backend initialized",
		"model_path", cfg.ModelPath,
		"input", mio.Input.Name,
		"det_output", mio.Det.Name,
		"proto_output", mio.Proto.Name,
		"net_size", netSize,
		"gpu_enabled", cfg.GPU.UseGPU)

	return &ORTBackend{cfg: cfg, io: mio, netSize: netSize, session: session}, nil
}

// SelectModelIO checks that a model has one rank-4 float input and picks
// the rank-3 detection and rank-4 proto outputs.
func SelectModelIO(inputs, outputs []onnxruntime_go.InputOutputInfo) (ModelIO, error) {
	var mio ModelIO
	if len(inputs) != 1 {
		return mio, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	mio.Input = inputs[0]
	if len(mio.Input.Dimensions) != 4 {
		return mio, fmt.Errorf("expected rank-4 input, got %v", mio.Input.Dimensions)
	}
	if mio.Input.DataType != onnxruntime_go.TensorElementDataTypeFloat {
		return mio, fmt.Errorf("expected float input, got %v", mio.Input.DataType)
	}

	var haveDet, haveProto bool
	for _, o := range outputs {
		switch len(o.Dimensions) {
		case 3:
			if !haveDet {
				mio.Det, haveDet = o, true
			}
		case 4:
			if !haveProto {
				mio.Proto, haveProto = o, true
			}
		}
	}
	if !haveDet || !haveProto {
		return mio, fmt.Errorf("expected a rank-3 detection output and a rank-4 proto output among %d outputs",
			len(outputs))
	}
	return mio, nil
}

// resolveNetSize reconciles the model's spatial input size with the
// configured one. Dynamic dimensions (<= 0) defer to the configuration.
func resolveNetSize(dims onnxruntime_go.Shape, configured int) (int, error) {
	h, w := dims[2], dims[3]
	switch {
	case h > 0 && w > 0 && h != w:
		return 0, fmt.Errorf("model input must be square, got %dx%d", w, h)
	case h > 0 && configured > 0 && int(h) != configured:
		return 0, fmt.Errorf("model expects net size %d, configured %d", h, configured)
	case h > 0:
		return int(h), nil
	case configured > 0:
		return configured, nil
	default:
		return 0, errors.New("model has a dynamic input size; set a net size")
	}
}

func createSession(cfg ORTConfig, mio ModelIO) (*onnxruntime_go.DynamicAdvancedSession, error) {
	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	if err := onnx.ConfigureSessionForGPU(sessionOptions, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{mio.Input.Name}, []string{mio.Det.Name, mio.Proto.Name}, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

// NetSize returns the square input size the model runs at.
func (b *ORTBackend) NetSize() int { return b.netSize }

// IO returns the model's input and output descriptions.
func (b *ORTBackend) IO() ModelIO { return b.io }

// Infer runs the model on input and copies both outputs into owned tensors.
func (b *ORTBackend) Infer(input onnx.Tensor) (adapter.RawOutput, error) {
	if err := onnx.Verify(input, 4); err != nil {
		return nil, fmt.Errorf("invalid tensor: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return nil, ErrClosed
	}

	inputTensor, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer destroyValue(inputTensor)

	outputs := []onnxruntime_go.Value{nil, nil}
	if err := b.session.Run([]onnxruntime_go.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	for _, o := range outputs {
		defer destroyValue(o)
	}

	det, err := ownedTensor(outputs[0])
	if err != nil {
		return nil, fmt.Errorf("detection output: %w", err)
	}
	proto, err := ownedTensor(outputs[1])
	if err != nil {
		return nil, fmt.Errorf("proto output: %w", err)
	}
	return &adapter.TensorOutput{Det: det, Proto: proto}, nil
}

func ownedTensor(v onnxruntime_go.Value) (onnx.Tensor, error) {
	ft, ok := v.(*onnxruntime_go.Tensor[float32])
	if !ok {
		return onnx.Tensor{}, fmt.Errorf("expected float32 tensor, got %T", v)
	}
	data := ft.GetData()
	shape := ft.GetShape()
	return onnx.Tensor{
		Data:  append([]float32(nil), data...),
		Shape: append([]int64(nil), shape...),
	}, nil
}

func destroyValue(v onnxruntime_go.Value) {
	if v == nil {
		return
	}
	if err := v.Destroy(); err != nil {
		slog.Warn("Failed to destroy ONNX value", "error", err)
	}
}

// Warmup runs iterations forward passes on a black input.
func (b *ORTBackend) Warmup(iterations int) error {
	if iterations <= 0 {
		return nil
	}
	n := b.netSize
	input, err := onnx.NewImageTensor(make([]float32, 3*n*n), 3, n, n)
	if err != nil {
		return err
	}
	for i := range iterations {
		if _, err := b.Infer(input); err != nil {
			return fmt.Errorf("warmup iteration %d failed: %w", i, err)
		}
	}
	return nil
}

// Info returns a description of the loaded model for diagnostics.
func (b *ORTBackend) Info() map[string]interface{} {
	return map[string]interface{}{
		"model_path":   b.cfg.ModelPath,
		"net_size":     b.netSize,
		"input_name":   b.io.Input.Name,
		"input_shape":  b.io.Input.Dimensions,
		"det_name":     b.io.Det.Name,
		"det_shape":    b.io.Det.Dimensions,
		"proto_name":   b.io.Proto.Name,
		"proto_shape":  b.io.Proto.Dimensions,
		"num_threads":  b.cfg.NumThreads,
		"gpu_enabled":  b.cfg.GPU.UseGPU,
		"gpu_device":   b.cfg.GPU.DeviceID,
		"backend_kind": "onnxruntime",
	}
}

// Close destroys the session. The ONNX Runtime environment stays up; it is
// torn down once at process exit.
func (b *ORTBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}
