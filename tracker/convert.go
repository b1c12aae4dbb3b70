package tracker

import "github.com/swdee/go-hornetlock/postprocess"

// DetectionsToObjects converts remapped detection results into tracker
// objects.  An empty input gives an empty, non nil, slice so the tracker
// still ages its tracks on frames without detections.
func DetectionsToObjects(dets []postprocess.DetectResult) []Object {

	objs := make([]Object, 0, len(dets))

	for _, det := range dets {
		objs = append(objs, NewObject(
			NewRect(det.Box.X1, det.Box.Y1, det.Box.Width(), det.Box.Height()),
			det.Class, det.Probability, det.ID,
		))
	}

	return objs
}
