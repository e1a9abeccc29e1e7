package onnx

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig selects CUDA execution for a session.
type GPUConfig struct {
	UseGPU              bool   // Enable the CUDA execution provider
	DeviceID            int    // CUDA device ID
	GPUMemLimit         uint64 // Arena limit in bytes, 0 = unlimited
	ArenaExtendStrategy string // "kNextPowerOfTwo" or "kSameAsRequested"
	CUDNNConvAlgoSearch string // "EXHAUSTIVE", "HEURISTIC" or "DEFAULT"
}

// DefaultGPUConfig returns a CPU-only configuration.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy: "kNextPowerOfTwo",
		CUDNNConvAlgoSearch: "DEFAULT",
	}
}

// ProviderOptions returns the CUDA provider settings for c.
func (c GPUConfig) ProviderOptions() map[string]string {
	opts := map[string]string{
		"device_id":                 strconv.Itoa(c.DeviceID),
		"do_copy_in_default_stream": "1",
	}
	if c.GPUMemLimit > 0 {
		opts["gpu_mem_limit"] = strconv.FormatUint(c.GPUMemLimit, 10)
	}
	if c.ArenaExtendStrategy != "" {
		opts["arena_extend_strategy"] = c.ArenaExtendStrategy
	}
	if c.CUDNNConvAlgoSearch != "" {
		opts["cudnn_conv_algo_search"] = c.CUDNNConvAlgoSearch
	}
	return opts
}

// ConfigureSessionForGPU appends the CUDA execution provider to the session
// options when GPU use is requested.
func ConfigureSessionForGPU(sessionOptions *onnxruntime_go.SessionOptions, gpuConfig GPUConfig) error {
	if !gpuConfig.UseGPU {
		return nil
	}

	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if destroyErr := cudaOpts.Destroy(); destroyErr != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", destroyErr)
		}
	}()

	if err := cudaOpts.Update(gpuConfig.ProviderOptions()); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := sessionOptions.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

// ValidateGPUConfig checks if the GPU configuration is valid.
func ValidateGPUConfig(config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}

	if config.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", config.DeviceID)
	}

	switch config.ArenaExtendStrategy {
	case "", "kNextPowerOfTwo", "kSameAsRequested":
	default:
		return fmt.Errorf("invalid arena extend strategy: %s (must be 'kNextPowerOfTwo' or "+
			"'kSameAsRequested')", config.ArenaExtendStrategy)
	}

	switch config.CUDNNConvAlgoSearch {
	case "", "EXHAUSTIVE", "HEURISTIC", "DEFAULT":
	default:
		return fmt.Errorf("invalid CUDNN conv algo search: %s (must be 'EXHAUSTIVE', 'HEURISTIC', or "+
			"'DEFAULT')", config.CUDNNConvAlgoSearch)
	}

	return nil
}
