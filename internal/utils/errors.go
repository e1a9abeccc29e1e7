package utils

import "fmt"

// ImageProcessingError represents errors that can occur while loading,
// decoding or encoding images.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ImageConstraints bounds the dimensions of accepted input images.
type ImageConstraints struct {
	MaxWidth  int
	MaxHeight int
	MinWidth  int
	MinHeight int
}

// DefaultImageConstraints returns the limits applied to uploaded images.
func DefaultImageConstraints() ImageConstraints {
	return ImageConstraints{
		MaxWidth:  8192,
		MaxHeight: 8192,
		MinWidth:  1,
		MinHeight: 1,
	}
}
