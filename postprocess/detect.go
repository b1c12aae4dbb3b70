package postprocess

import (
	"github.com/swdee/go-hornetlock/preprocess"
)

// Box is an axis aligned bounding box in pixel coordinates
type Box struct {
	X1 float32
	Y1 float32
	X2 float32
	Y2 float32
}

// Width of the box
func (b Box) Width() float32 {
	return b.X2 - b.X1
}

// Height of the box
func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

// Centroid returns the integer pixel at the centre of the box, truncated
// toward zero
func (b Box) Centroid() (int, int) {
	return int((b.X1 + b.X2) / 2), int((b.Y1 + b.Y2) / 2)
}

// ToSource maps a box in model input space back to source frame space
func (b Box) ToSource(lb preprocess.Letterbox) Box {
	x1, y1 := lb.ToSource(b.X1, b.Y1)
	x2, y2 := lb.ToSource(b.X2, b.Y2)
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// DetectResult defines the attributes of a single object detected
type DetectResult struct {
	// Class is the line number in the labels file the Model was trained on
	// defining the Class of the detected object
	Class int
	// Box are the bounding box dimensions of the object location
	Box Box
	// Probability is the confidence score of the object detected
	Probability float32
	// ID is a unique ID assigned to the detection result
	ID int64
}
