// Package config loads and validates segpost configuration from files,
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/segpost/internal/backend"
	"github.com/MeKo-Tech/segpost/internal/detector"
	"github.com/MeKo-Tech/segpost/internal/models"
	"github.com/MeKo-Tech/segpost/internal/onnx"
	"github.com/MeKo-Tech/segpost/internal/render"
	"github.com/MeKo-Tech/segpost/internal/segment"
	"github.com/MeKo-Tech/segpost/internal/utils"
	"gopkg.in/yaml.v3"
)

// BackendONNX selects the ONNX Runtime backend.
const BackendONNX = "onnx"

// Config represents the complete configuration for segpost. It covers
// every command (image, serve, bench) and is loaded from configuration
// files, environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Model        ModelConfig        `mapstructure:"model" yaml:"model" json:"model"`
	Segmentation SegmentationConfig `mapstructure:"segmentation" yaml:"segmentation" json:"segmentation"`
	Output       OutputConfig       `mapstructure:"output" yaml:"output" json:"output"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server" json:"server"`
	GPU          GPUConfig          `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// ModelConfig selects the model and how it is executed.
type ModelConfig struct {
	Path             string `mapstructure:"path" yaml:"path" json:"path"`
	LabelsPath       string `mapstructure:"labels_path" yaml:"labels_path" json:"labels_path"`
	Backend          string `mapstructure:"backend" yaml:"backend" json:"backend"`
	NetSize          int    `mapstructure:"net_size" yaml:"net_size" json:"net_size"`
	NumThreads       int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	WarmupIterations int    `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// SegmentationConfig holds decoding, suppression and mask settings.
type SegmentationConfig struct {
	ConfThreshold float32 `mapstructure:"conf_threshold" yaml:"conf_threshold" json:"conf_threshold"`
	IoUThreshold  float32 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	MinBoxSize    float32 `mapstructure:"min_box_size" yaml:"min_box_size" json:"min_box_size"`
	NMSMethod     string  `mapstructure:"nms_method" yaml:"nms_method" json:"nms_method"`
	SoftNMSSigma  float32 `mapstructure:"soft_nms_sigma" yaml:"soft_nms_sigma" json:"soft_nms_sigma"`
	SoftNMSThresh float32 `mapstructure:"soft_nms_thresh" yaml:"soft_nms_thresh" json:"soft_nms_thresh"`
	ClassAware    bool    `mapstructure:"class_aware" yaml:"class_aware" json:"class_aware"`
	MaskThreshold float32 `mapstructure:"mask_threshold" yaml:"mask_threshold" json:"mask_threshold"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format       string  `mapstructure:"format" yaml:"format" json:"format"`
	File         string  `mapstructure:"file" yaml:"file" json:"file"`
	OverlayDir   string  `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
	OverlayAlpha float64 `mapstructure:"overlay_alpha" yaml:"overlay_alpha" json:"overlay_alpha"`
	BoxColor     string  `mapstructure:"box_color" yaml:"box_color" json:"box_color"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	Handles         int    `mapstructure:"handles" yaml:"handles" json:"handles"`

	// RateLimitPerMinute caps requests per client; 0 disables limiting.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	det := detector.DefaultConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Model: ModelConfig{
			Backend: BackendONNX,
			NetSize: segment.DefaultConfig().NetSize,
		},
		Segmentation: SegmentationConfig{
			ConfThreshold: det.ConfThreshold,
			IoUThreshold:  det.IoUThreshold,
			MinBoxSize:    det.MinBoxSize,
			NMSMethod:     det.NMSMethod,
			SoftNMSSigma:  det.SoftNMSSigma,
			SoftNMSThresh: det.SoftNMSThresh,
			ClassAware:    det.ClassAware,
			MaskThreshold: render.DefaultOptions().MaskThreshold,
		},
		Output: OutputConfig{
			Format:       "text",
			OverlayAlpha: render.DefaultOptions().Alpha,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			Handles:         1,
		},
		GPU: GPUConfig{
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)",
			c.Output.Format, strings.Join(validFormats, ", "))
	}

	if c.Model.Backend != BackendONNX {
		return fmt.Errorf("invalid model backend: %s (must be %s)", c.Model.Backend, BackendONNX)
	}
	if c.Model.NetSize <= 0 || c.Model.NetSize%32 != 0 {
		return fmt.Errorf("invalid net size: %d (must be a positive multiple of 32)", c.Model.NetSize)
	}
	if c.Model.NumThreads < 0 {
		return fmt.Errorf("invalid thread count: %d (must not be negative)", c.Model.NumThreads)
	}
	if c.Model.WarmupIterations < 0 {
		return fmt.Errorf("invalid warmup iterations: %d (must not be negative)", c.Model.WarmupIterations)
	}

	thresholds := []struct {
		name  string
		value float64
	}{
		{"segmentation.conf_threshold", float64(c.Segmentation.ConfThreshold)},
		{"segmentation.iou_threshold", float64(c.Segmentation.IoUThreshold)},
		{"segmentation.soft_nms_thresh", float64(c.Segmentation.SoftNMSThresh)},
		{"segmentation.mask_threshold", float64(c.Segmentation.MaskThreshold)},
		{"output.overlay_alpha", c.Output.OverlayAlpha},
	}
	for _, th := range thresholds {
		if err := validateThreshold(th.value, th.name); err != nil {
			return err
		}
	}
	if err := c.ToDetectorConfig().Validate(); err != nil {
		return fmt.Errorf("invalid segmentation settings: %w", err)
	}

	if c.Output.BoxColor != "" {
		if _, err := utils.ParseHexColor(c.Output.BoxColor); err != nil {
			return fmt.Errorf("invalid output.box_color: %w", err)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.Handles <= 0 {
		return fmt.Errorf("invalid server handles: %d (must be positive)", c.Server.Handles)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("invalid rate limit: %d (must not be negative)", c.Server.RateLimitPerMinute)
	}

	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	return nil
}

// ToDetectorConfig converts to detector.Config.
func (c *Config) ToDetectorConfig() detector.Config {
	return detector.Config{
		ConfThreshold: c.Segmentation.ConfThreshold,
		IoUThreshold:  c.Segmentation.IoUThreshold,
		MinBoxSize:    c.Segmentation.MinBoxSize,
		NMSMethod:     c.Segmentation.NMSMethod,
		SoftNMSSigma:  c.Segmentation.SoftNMSSigma,
		SoftNMSThresh: c.Segmentation.SoftNMSThresh,
		ClassAware:    c.Segmentation.ClassAware,
	}
}

// ToSegmentConfig converts to segment.Config.
func (c *Config) ToSegmentConfig() segment.Config {
	return segment.Config{NetSize: c.Model.NetSize, Detector: c.ToDetectorConfig()}
}

// ToGPUConfig converts to onnx.GPUConfig. The memory limit must be valid.
func (c *Config) ToGPUConfig() onnx.GPUConfig {
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	if limit, err := ParseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.GPUMemLimit = limit
	}
	return cfg
}

// ModelPath resolves the configured model against the models directory.
func (c *Config) ModelPath() string {
	return models.GetSegmentationModelPath(c.ModelsDir, c.Model.Path)
}

// LabelsPath resolves the configured label file against the models directory.
func (c *Config) LabelsPath() string {
	return models.GetLabelsPath(c.ModelsDir, c.Model.LabelsPath)
}

// ToORTConfig converts to backend.ORTConfig.
func (c *Config) ToORTConfig() backend.ORTConfig {
	return backend.ORTConfig{
		ModelPath:  c.ModelPath(),
		NetSize:    c.Model.NetSize,
		NumThreads: c.Model.NumThreads,
		GPU:        c.ToGPUConfig(),
	}
}

// ToRenderOptions converts the output settings to render.Options.
func (c *Config) ToRenderOptions() (render.Options, error) {
	opts := render.DefaultOptions()
	opts.Alpha = c.Output.OverlayAlpha
	opts.MaskThreshold = c.Segmentation.MaskThreshold
	if c.Output.BoxColor != "" {
		col, err := utils.ParseHexColor(c.Output.BoxColor)
		if err != nil {
			return opts, err
		}
		opts.BoxColor = &col
	}
	return opts, nil
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

var memoryUnits = []struct {
	suffix string
	factor float64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseMemoryLimit parses a GPU memory limit such as "1GB" or "512MB" into
// bytes. "" and "auto" mean no limit (0).
func ParseMemoryLimit(limit string) (uint64, error) {
	limit = strings.ToUpper(strings.TrimSpace(limit))
	if limit == "" || limit == "AUTO" {
		return 0, nil
	}
	for _, u := range memoryUnits {
		if !strings.HasSuffix(limit, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(limit, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.factor), nil
	}
	return 0, errors.New("memory limit must end with one of: GB, MB, KB, B")
}
