package tracker

import "sync"

// Point is a pixel position in the source frame
type Point struct {
	X, Y int
}

// Trail keeps the recent centroid history of the engaged target so debug
// output can draw the path it followed.  It is shared between the engine
// and the debug dumper.
type Trail struct {
	// size is the maximum number of points kept
	size int
	// id of the track the points belong to
	id int
	// points in the order they were added
	points []Point
	sync.Mutex
}

// NewTrail returns a trail holding at most size points
func NewTrail(size int) *Trail {
	return &Trail{
		size:   size,
		points: make([]Point, 0, size),
	}
}

// Reset clears the history
func (t *Trail) Reset() {
	t.Lock()
	defer t.Unlock()

	t.id = 0
	t.points = t.points[:0]
}

// Add appends the centroid of the given track.  A track with a different ID
// to the one already held starts a new trail.
func (t *Trail) Add(strack *STrack) {

	x, y := strack.Centroid()

	t.Lock()
	defer t.Unlock()

	if strack.GetTrackID() != t.id {
		t.id = strack.GetTrackID()
		t.points = t.points[:0]
	}

	t.points = append(t.points, Point{X: x, Y: y})

	// drop oldest point once history is exceeded
	if len(t.points) > t.size {
		t.points = append(t.points[:0], t.points[1:]...)
	}
}

// Points returns a copy of the current history and the track ID it belongs
// to
func (t *Trail) Points() (int, []Point) {
	t.Lock()
	defer t.Unlock()

	out := make([]Point, len(t.points))
	copy(out, t.points)

	return t.id, out
}
