package tracker

import "fmt"

// maxRemovedStracks is the number of removed tracks retained
const maxRemovedStracks = 1000

// IoU distance limits of the fixed association passes
const (
	lowScoreMatchThresh    = 0.5
	unconfirmedMatchThresh = 0.7
	duplicateThresh        = 0.15
)

// BYTETracker associates detections across frames in two passes, first
// with the confident detections and then with the low scoring ones, so a
// target keeps its identity through frames where its score dips
type BYTETracker struct {
	trackThresh float32
	highThresh  float32
	matchThresh float32
	// maxTimeLost is the number of frames a lost track is kept
	maxTimeLost int

	frameID      int
	trackIDCount int

	trackedStracks []*STrack
	lostStracks    []*STrack
	removedStracks []*STrack
}

// Params configures a BYTETracker
type Params struct {
	// FrameRate of the incoming detections, used to scale TrackBuffer
	FrameRate int
	// TrackBuffer is the number of frames at 30fps a lost track is kept
	// before removal
	TrackBuffer int
	// TrackThresh splits detections into the high and low score association
	// passes
	TrackThresh float32
	// HighThresh is the minimum score for an unmatched detection to start a
	// new track
	HighThresh float32
	// MatchThresh is the maximum IoU distance accepted in the first
	// association pass
	MatchThresh float32
}

// DefaultParams returns the tracker settings used for a 30fps camera
func DefaultParams() Params {
	return Params{
		FrameRate:   30,
		TrackBuffer: 30,
		TrackThresh: 0.15,
		HighThresh:  0.25,
		MatchThresh: 0.65,
	}
}

// NewBYTETracker returns a tracker with the given thresholds
func NewBYTETracker(frameRate int, trackBuffer int, trackThresh float32,
	highThresh float32, matchThresh float32) *BYTETracker {

	return &BYTETracker{
		trackThresh: trackThresh,
		highThresh:  highThresh,
		matchThresh: matchThresh,
		maxTimeLost: int(float32(frameRate) / 30.0 * float32(trackBuffer)),
	}
}

// NewBYTETrackerWithParams returns a BYTETracker configured from p
func NewBYTETrackerWithParams(p Params) *BYTETracker {
	return NewBYTETracker(p.FrameRate, p.TrackBuffer, p.TrackThresh,
		p.HighThresh, p.MatchThresh)
}

// FrameID returns the number of updates since creation or the last Reset
func (bt *BYTETracker) FrameID() int {
	return bt.frameID
}

// Reset forgets every track and restarts identities at 1
func (bt *BYTETracker) Reset() {
	bt.frameID = 0
	bt.trackIDCount = 0
	bt.trackedStracks = nil
	bt.lostStracks = nil
	bt.removedStracks = nil
}

// assignment is the outcome of one association pass, indices refer to the
// track and detection lists passed in
type assignment struct {
	matches        [][2]int
	unmatchedTrack []int
	unmatchedDet   []int
}

// frameUpdate collects the track lists produced while processing one frame
type frameUpdate struct {
	tracked []*STrack
	refound []*STrack
	lost    []*STrack
	removed []*STrack
}

// Update advances every track by one frame and associates objects with
// them.  It must be called for every frame, also when objects is empty, so
// lost tracks age out.  The confirmed tracks are returned.
func (bt *BYTETracker) Update(objects []Object) ([]*STrack, error) {

	bt.frameID++

	high, low := bt.splitDetections(objects)

	var unconfirmed, confirmed []*STrack

	for _, t := range bt.trackedStracks {
		if t.IsActivated() {
			confirmed = append(confirmed, t)
		} else {
			unconfirmed = append(unconfirmed, t)
		}
	}

	pool := jointStracks(confirmed, bt.lostStracks)

	for _, t := range pool {
		t.Predict()
	}

	var fu frameUpdate

	// confident detections against every confirmed or lost track
	first, err := associate(pool, high, bt.matchThresh)

	if err != nil {
		return nil, fmt.Errorf("first association: %w", err)
	}

	if err := bt.applyMatches(&fu, first, pool, high); err != nil {
		return nil, fmt.Errorf("first association: %w", err)
	}

	var leftover []*STrack

	for _, i := range first.unmatchedTrack {
		if pool[i].GetSTrackState() == Tracked {
			leftover = append(leftover, pool[i])
		}
	}

	// low scoring detections only rescue tracks that were tracked last frame
	second, err := associate(leftover, low, lowScoreMatchThresh)

	if err != nil {
		return nil, fmt.Errorf("second association: %w", err)
	}

	if err := bt.applyMatches(&fu, second, leftover, low); err != nil {
		return nil, fmt.Errorf("second association: %w", err)
	}

	for _, i := range second.unmatchedTrack {
		if t := leftover[i]; t.GetSTrackState() != Lost {
			t.MarkAsLost()
			fu.lost = append(fu.lost, t)
		}
	}

	remaining := make([]*STrack, 0, len(first.unmatchedDet))
	for _, i := range first.unmatchedDet {
		remaining = append(remaining, high[i])
	}

	if err := bt.confirm(&fu, unconfirmed, remaining); err != nil {
		return nil, err
	}

	for _, t := range bt.lostStracks {
		if bt.frameID-t.GetFrameID() > bt.maxTimeLost {
			t.MarkAsRemoved()
			fu.removed = append(fu.removed, t)
		}
	}

	bt.commit(fu)

	var out []*STrack

	for _, t := range bt.trackedStracks {
		if t.IsActivated() {
			out = append(out, t)
		}
	}

	return out, nil
}

// splitDetections wraps objects in new tracks and splits them on the
// tracking threshold
func (bt *BYTETracker) splitDetections(objects []Object) (high, low []*STrack) {

	for _, o := range objects {
		t := NewSTrack(NewRect(o.Rect.X(), o.Rect.Y(), o.Rect.Width(), o.Rect.Height()),
			o.Prob, o.ID, o.Label)

		if o.Prob >= bt.trackThresh {
			high = append(high, t)
		} else {
			low = append(low, t)
		}
	}

	return high, low
}

// applyMatches updates tracked tracks and revives lost ones from their
// matched detections
func (bt *BYTETracker) applyMatches(fu *frameUpdate, a assignment, tracks, dets []*STrack) error {

	for _, m := range a.matches {
		t, det := tracks[m[0]], dets[m[1]]

		if t.GetSTrackState() != Tracked {
			t.ReActivate(det, bt.frameID, -1)
			fu.refound = append(fu.refound, t)
			continue
		}

		if err := t.Update(det, bt.frameID); err != nil {
			return fmt.Errorf("track %d: %w", t.GetTrackID(), err)
		}

		fu.tracked = append(fu.tracked, t)
	}

	return nil
}

// confirm matches the tracks started last frame with the detections left
// over from the first pass.  Unmatched tentative tracks are dropped and
// unmatched confident detections start new tracks.
func (bt *BYTETracker) confirm(fu *frameUpdate, unconfirmed, dets []*STrack) error {

	a, err := associate(unconfirmed, dets, unconfirmedMatchThresh)

	if err != nil {
		return fmt.Errorf("unconfirmed association: %w", err)
	}

	for _, m := range a.matches {
		t := unconfirmed[m[0]]

		if err := t.Update(dets[m[1]], bt.frameID); err != nil {
			return fmt.Errorf("unconfirmed track %d: %w", t.GetTrackID(), err)
		}

		fu.tracked = append(fu.tracked, t)
	}

	for _, i := range a.unmatchedTrack {
		unconfirmed[i].MarkAsRemoved()
		fu.removed = append(fu.removed, unconfirmed[i])
	}

	for _, i := range a.unmatchedDet {
		det := dets[i]

		if det.GetScore() < bt.highThresh {
			continue
		}

		bt.trackIDCount++
		det.Activate(bt.frameID, bt.trackIDCount)
		fu.tracked = append(fu.tracked, det)
	}

	return nil
}

// commit folds the frame results into the tracker lists
func (bt *BYTETracker) commit(fu frameUpdate) {

	bt.trackedStracks = jointStracks(fu.tracked, fu.refound)
	bt.lostStracks = subStracks(
		jointStracks(subStracks(bt.lostStracks, bt.trackedStracks), fu.lost),
		bt.removedStracks)
	bt.removedStracks = jointStracks(bt.removedStracks, fu.removed)

	// removed tracks are only consulted to filter the lost list
	if len(bt.removedStracks) > maxRemovedStracks {
		bt.removedStracks = bt.removedStracks[len(bt.removedStracks)-maxRemovedStracks:]
	}

	bt.trackedStracks, bt.lostStracks = removeDuplicateStracks(bt.trackedStracks, bt.lostStracks)
}

// jointStracks returns a followed by the tracks of b whose identity is not
// already present
func jointStracks(a, b []*STrack) []*STrack {

	seen := make(map[int]bool, len(a)+len(b))
	res := make([]*STrack, 0, len(a)+len(b))

	for _, list := range [][]*STrack{a, b} {
		for _, t := range list {
			if id := t.GetTrackID(); !seen[id] {
				seen[id] = true
				res = append(res, t)
			}
		}
	}

	return res
}

// subStracks returns the tracks of a whose identity is not in b, keeping
// the order of a
func subStracks(a, b []*STrack) []*STrack {

	drop := make(map[int]bool, len(b))

	for _, t := range b {
		drop[t.GetTrackID()] = true
	}

	var res []*STrack

	for _, t := range a {
		if !drop[t.GetTrackID()] {
			res = append(res, t)
		}
	}

	return res
}

// removeDuplicateStracks resolves tracked and lost tracks covering the same
// object in favour of the one tracked for longer
func removeDuplicateStracks(a, b []*STrack) ([]*STrack, []*STrack) {

	dist := iouDistance(a, b)
	dropA := make([]bool, len(a))
	dropB := make([]bool, len(b))

	for i := range dist {
		for j := range dist[i] {
			if dist[i][j] >= duplicateThresh {
				continue
			}

			ageA := a[i].GetFrameID() - a[i].GetStartFrameID()
			ageB := b[j].GetFrameID() - b[j].GetStartFrameID()

			if ageA > ageB {
				dropB[j] = true
			} else {
				dropA[i] = true
			}
		}
	}

	keep := func(list []*STrack, drop []bool) []*STrack {
		var res []*STrack
		for i, t := range list {
			if !drop[i] {
				res = append(res, t)
			}
		}
		return res
	}

	return keep(a, dropA), keep(b, dropB)
}

// iouDistance returns the 1 - IoU cost between every pair of tracks, nil
// when either list is empty
func iouDistance(a, b []*STrack) [][]float32 {

	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	cost := make([][]float32, len(a))

	for i, ta := range a {
		cost[i] = make([]float32, len(b))

		for j, tb := range b {
			cost[i][j] = 1 - tb.GetRect().CalcIoU(*ta.GetRect())
		}
	}

	return cost
}

// associate solves the assignment of tracks to dets on IoU distance,
// rejecting pairs with a distance above thresh
func associate(tracks, dets []*STrack, thresh float32) (assignment, error) {

	var a assignment

	cost := iouDistance(tracks, dets)

	if cost == nil {
		for i := range tracks {
			a.unmatchedTrack = append(a.unmatchedTrack, i)
		}
		for i := range dets {
			a.unmatchedDet = append(a.unmatchedDet, i)
		}
		return a, nil
	}

	rowsol, colsol, err := solveAssignment(cost, thresh)

	if err != nil {
		return a, err
	}

	for i, j := range rowsol {
		if j >= 0 {
			a.matches = append(a.matches, [2]int{i, j})
		} else {
			a.unmatchedTrack = append(a.unmatchedTrack, i)
		}
	}

	for j, i := range colsol {
		if i < 0 {
			a.unmatchedDet = append(a.unmatchedDet, j)
		}
	}

	return a, nil
}

// solveAssignment runs LAPJV on cost extended to a square matrix so every
// row and column may stay unassigned at a cost of limit/2.  rowsol maps
// rows to columns and colsol columns to rows, -1 when unassigned.
func solveAssignment(cost [][]float32, limit float32) (rowsol, colsol []int, err error) {

	rows, cols := len(cost), len(cost[0])
	n := rows + cols

	ext := make([][]float64, n)

	for i := range ext {
		ext[i] = make([]float64, n)

		for j := range ext[i] {
			switch {
			case i < rows && j < cols:
				ext[i][j] = float64(cost[i][j])
			case i >= rows && j >= cols:
				ext[i][j] = 0
			default:
				ext[i][j] = float64(limit / 2)
			}
		}
	}

	x := make([]int, n)
	y := make([]int, n)

	if ret, err := lapjvInternal(n, ext, x, y); ret != 0 || err != nil {
		return nil, nil, fmt.Errorf("lapjv failed with code %d: %w", ret, err)
	}

	rowsol = make([]int, rows)
	colsol = make([]int, cols)

	for i := range rowsol {
		rowsol[i] = x[i]
		if rowsol[i] >= cols {
			rowsol[i] = -1
		}
	}

	for j := range colsol {
		colsol[j] = y[j]
		if colsol[j] >= rows {
			colsol[j] = -1
		}
	}

	return rowsol, colsol, nil
}
