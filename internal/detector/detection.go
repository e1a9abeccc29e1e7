// Package detector decodes canonical segmentation heads into detections and
// filters them with greedy non-maximum suppression.
package detector

// Box is an axis-aligned rectangle in net pixels.
type Box struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// Width returns the box width.
func (b Box) Width() float32 { return b.Right - b.Left }

// Height returns the box height.
func (b Box) Height() float32 { return b.Bottom - b.Top }

// Area returns the box area; inverted boxes have zero area.
func (b Box) Area() float32 { return max(0, b.Width()) * max(0, b.Height()) }

// Detection is one decoded object. Coeffs holds the mask coefficients.
type Detection struct {
	Box    Box       `json:"box"`
	Score  float32   `json:"score"`
	Class  int       `json:"class_id"`
	Coeffs []float32 `json:"-"`
}
