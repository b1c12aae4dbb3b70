package tracker

// Object is a single detection handed to the tracker
type Object struct {
	// Rect is the bounding box of the detection in source frame pixels
	Rect Rect
	// Label is the class the detector assigned
	Label int
	// Prob is the detection confidence
	Prob float32
	// ID is the detection ID, carried onto the matched track so tracker
	// output can be related back to the detection
	ID int64
}

// NewObject is a constructor function for the Object struct
func NewObject(rect Rect, label int, prob float32, id int64) Object {
	return Object{
		Rect:  rect,
		Label: label,
		Prob:  prob,
		ID:    id,
	}
}
