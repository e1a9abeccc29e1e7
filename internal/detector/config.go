package detector

import (
	"errors"
	"fmt"
)

const (
	NMSMethodHard     = "hard"
	NMSMethodLinear   = "linear"
	NMSMethodGaussian = "gaussian"
)

// Config holds decoding and suppression parameters.
type Config struct {
	ConfThreshold float32 // Minimum class probability (default: 0.9)
	IoUThreshold  float32 // Overlap above which a box is suppressed (default: 0.45)
	MinBoxSize    float32 // Minimum box width and height in net pixels (default: 2)
	NMSMethod     string  // "hard" (default), "linear" or "gaussian" for Soft-NMS
	SoftNMSSigma  float32 // Sigma for Gaussian Soft-NMS
	SoftNMSThresh float32 // Score below which Soft-NMS drops a detection
	ClassAware    bool    // Suppress only within the same class
}

// DefaultConfig returns the default decoder configuration.
func DefaultConfig() Config {
	return Config{
		ConfThreshold: 0.9,
		IoUThreshold:  0.45,
		MinBoxSize:    2,
		NMSMethod:     NMSMethodHard,
		SoftNMSSigma:  0.5,
		SoftNMSThresh: 0.1,
	}
}

// Validate checks thresholds and the NMS method.
func (c Config) Validate() error {
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.ConfThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("IoU threshold must be in [0,1], got %v", c.IoUThreshold)
	}
	if c.MinBoxSize < 0 {
		return fmt.Errorf("min box size must be non-negative, got %v", c.MinBoxSize)
	}
	switch c.NMSMethod {
	case NMSMethodHard, NMSMethodLinear:
	case NMSMethodGaussian:
		if c.SoftNMSSigma <= 0 {
			return errors.New("gaussian Soft-NMS requires a positive sigma")
		}
	default:
		return fmt.Errorf("unknown NMS method %q", c.NMSMethod)
	}
	return nil
}
