package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-hornetlock/postprocess"
)

func hornet(id int64) []Object {
	return DetectionsToObjects([]postprocess.DetectResult{
		{Class: 1, Probability: 0.9, ID: id, Box: postprocess.Box{X1: 600, Y1: 320, X2: 660, Y2: 380}},
	})
}

func TestTrackerAgesOnEmptyFrames(t *testing.T) {

	bt := NewBYTETrackerWithParams(DefaultParams())

	out, err := bt.Update(hornet(1))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].GetTrackID())

	// a short gap loses the track but it is refound with the same identity
	for i := 0; i < 5; i++ {
		out, err = bt.Update(DetectionsToObjects(nil))
		require.NoError(t, err)
		assert.Empty(t, out)
	}

	out, err = bt.Update(hornet(2))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].GetTrackID())
	assert.Equal(t, int64(2), out[0].GetDetectionID())

	// a gap longer than the buffer removes it
	for i := 0; i < 31; i++ {
		_, err = bt.Update(nil)
		require.NoError(t, err)
	}

	// new identity, unconfirmed on its first frame
	out, err = bt.Update(hornet(3))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = bt.Update(hornet(4))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].GetTrackID())

	assert.Equal(t, 1+5+1+31+2, bt.FrameID())
}

func TestDetectionsToObjects(t *testing.T) {

	objs := DetectionsToObjects([]postprocess.DetectResult{
		{Class: 1, Probability: 0.5, ID: 9, Box: postprocess.Box{X1: 10, Y1: 20, X2: 40, Y2: 80}},
	})

	require.Len(t, objs, 1)
	assert.Equal(t, Tlwh{10, 20, 30, 60}, objs[0].Rect.Tlwh)
	assert.Equal(t, 1, objs[0].Label)
	assert.Equal(t, int64(9), objs[0].ID)

	assert.NotNil(t, DetectionsToObjects(nil))
}

func TestTrail(t *testing.T) {

	trail := NewTrail(3)

	a := NewSTrack(NewRect(0, 0, 10, 10), 0.9, 1, 1)
	a.Activate(1, 7)

	for i := 0; i < 4; i++ {
		trail.Add(a)
	}

	id, pts := trail.Points()
	assert.Equal(t, 7, id)
	assert.Len(t, pts, 3)
	assert.Equal(t, Point{X: 5, Y: 5}, pts[0])

	b := NewSTrack(NewRect(100, 100, 10, 10), 0.9, 2, 1)
	b.Activate(1, 8)
	trail.Add(b)

	id, pts = trail.Points()
	assert.Equal(t, 8, id)
	assert.Equal(t, []Point{{X: 105, Y: 105}}, pts)

	trail.Reset()
	_, pts = trail.Points()
	assert.Empty(t, pts)
}

type sighting struct {
	x    float32
	prob float32
	id   int64
}

// hornets builds one 60x60 detection per entry at (x, 320)
func hornets(dets ...sighting) []Object {

	res := make([]postprocess.DetectResult, 0, len(dets))

	for _, d := range dets {
		res = append(res, postprocess.DetectResult{
			Class:       1,
			Probability: d.prob,
			ID:          d.id,
			Box:         postprocess.Box{X1: d.x, Y1: 320, X2: d.x + 60, Y2: 380},
		})
	}

	return DetectionsToObjects(res)
}

func byID(out []*STrack) map[int]int64 {
	m := make(map[int]int64, len(out))
	for _, t := range out {
		m[t.GetTrackID()] = t.GetDetectionID()
	}
	return m
}

func TestTrackerHornetAssociation(t *testing.T) {

	bt := NewBYTETrackerWithParams(DefaultParams())

	// two hornets closing on each other 10px per frame keep their identities
	for i := int64(0); i < 8; i++ {
		x := 10 * float32(i)
		out, err := bt.Update(hornets(sighting{300 + x, 0.9, 100 + i}, sighting{900 - x, 0.9, 200 + i}))
		require.NoError(t, err)
		assert.Equal(t, map[int]int64{1: 100 + i, 2: 200 + i}, byID(out), "frame %d", i+1)
	}

	// a weak detection still follows the track it was tracking
	out, err := bt.Update(hornets(sighting{380, 0.12, 108}, sighting{820, 0.9, 208}))
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{1: 108, 2: 208}, byID(out))

	// a confident detection too far from the prediction does not take over
	// the identity, it starts a tentative track instead
	out, err = bt.Update(hornets(sighting{390, 0.9, 109}, sighting{870, 0.9, 209}))
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{1: 109}, byID(out))

	out, err = bt.Update(hornets(sighting{400, 0.9, 110}, sighting{860, 0.9, 210}))
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{1: 110, 3: 210}, byID(out))
}
