package onnx

import (
	"errors"
	"fmt"
)

// Tensor is an owned float32 tensor. Data is row-major in Shape order.
type Tensor struct {
	Data  []float32
	Shape []int64 // e.g. [1, 3, N, N] for input, [1, C, P] for the detection head
}

// NewImageTensor wraps planar RGB data as a [1, C, H, W] tensor without
// copying. data must hold C*H*W values.
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	expected := c * h * w
	if len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// Rank returns the number of dimensions.
func (t Tensor) Rank() int { return len(t.Shape) }

// Elements returns the product of the shape, or 0 for an empty shape.
func (t Tensor) Elements() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// ValidateShape ensures shape has the given rank and only positive dimensions.
func ValidateShape(shape []int64, rank int) error {
	if len(shape) != rank {
		return fmt.Errorf("shape rank %d != %d", len(shape), rank)
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// Verify checks that t has the given rank and that its data length matches
// the shape.
func Verify(t Tensor, rank int) error {
	if err := ValidateShape(t.Shape, rank); err != nil {
		return err
	}
	if len(t.Data) != t.Elements() {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), t.Elements(), t.Shape)
	}
	return nil
}

// TensorStats computes min, max and mean for debug output.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
