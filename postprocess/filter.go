package postprocess

import (
	"github.com/swdee/go-hornetlock/preprocess"
)

// Filter keeps only the detections of the given class whose confidence
// exceeds minScore.  The input slice is not modified.
func Filter(dets []DetectResult, class int, minScore float32) []DetectResult {

	keep := make([]DetectResult, 0, len(dets))

	for _, det := range dets {
		if det.Class != class || det.Probability <= minScore {
			continue
		}

		keep = append(keep, det)
	}

	return keep
}

// Remap converts detection boxes from model input space to source frame
// space by undoing the letterbox resize recorded for the frame.  Boxes are
// updated in place and the slice returned for chaining.
func Remap(dets []DetectResult, lb preprocess.Letterbox) []DetectResult {

	for i := range dets {
		dets[i].Box = dets[i].Box.ToSource(lb)
	}

	return dets
}
