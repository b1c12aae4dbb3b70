package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGrid  = 4
	testInput = 128
	testDFL   = 4
)

// testBranch builds a single 4x4 branch where the given cells carry a
// class 1 score and every box side decodes to a distance of one cell
func testBranch(cells map[[2]int]int8) YOLOv8Branch {

	gridLen := testGrid * testGrid

	box := QuantTensor{
		Data:  make([]int8, 4*testDFL*gridLen),
		ZP:    0,
		Scale: 1,
		C:     4 * testDFL, H: testGrid, W: testGrid,
	}

	for k := 0; k < 4*testDFL; k++ {
		for cell := 0; cell < gridLen; cell++ {
			v := int8(-10)
			if k%testDFL == 1 {
				v = 10
			}
			box.Data[k*gridLen+cell] = v
		}
	}

	score := QuantTensor{
		Data:  make([]int8, 2*gridLen),
		ZP:    0,
		Scale: 1.0 / 127,
		C:     2, H: testGrid, W: testGrid,
	}

	for ij, q := range cells {
		score.Data[gridLen+ij[0]*testGrid+ij[1]] = q
	}

	return YOLOv8Branch{Box: box, Score: score}
}

func TestYOLOv8Decode(t *testing.T) {

	y := NewYOLOv8(YOLOv8HornetParams())

	br := testBranch(map[[2]int]int8{
		{1, 2}: 100,
		{1, 3}: 90,
	})

	dets := y.Decode([]YOLOv8Branch{br}, testInput, testInput)
	require.Len(t, dets, 2)

	first := dets[0]
	assert.Equal(t, 1, first.Class)
	assert.InDelta(t, 100.0/127, first.Probability, 1e-4)
	assert.InDelta(t, 48, first.Box.X1, 0.01)
	assert.InDelta(t, 16, first.Box.Y1, 0.01)
	assert.InDelta(t, 112, first.Box.X2, 0.01)
	assert.InDelta(t, 80, first.Box.Y2, 0.01)

	second := dets[1]
	assert.InDelta(t, 80, second.Box.X1, 0.01)
	assert.Equal(t, float32(testInput), second.Box.X2, "right edge clamped to input width")

	assert.NotEqual(t, first.ID, second.ID)
}

func TestYOLOv8DecodeSuppressesOverlap(t *testing.T) {

	params := YOLOv8HornetParams()
	params.NMSThreshold = 0.3
	y := NewYOLOv8(params)

	br := testBranch(map[[2]int]int8{
		{1, 2}: 100,
		{1, 3}: 90,
	})

	dets := y.Decode([]YOLOv8Branch{br}, testInput, testInput)
	require.Len(t, dets, 1)
	assert.InDelta(t, 48, dets[0].Box.X1, 0.01)
}

func TestYOLOv8DecodeScoreSum(t *testing.T) {

	y := NewYOLOv8(YOLOv8HornetParams())

	br := testBranch(map[[2]int]int8{{1, 2}: 100})

	// score sum of zero everywhere rejects every cell before class scan
	br.ScoreSum = &QuantTensor{
		Data:  make([]int8, testGrid*testGrid),
		Scale: 1.0 / 127,
		C:     1, H: testGrid, W: testGrid,
	}

	assert.Empty(t, y.Decode([]YOLOv8Branch{br}, testInput, testInput))
}

func TestYOLOv8DecodeMaxObjects(t *testing.T) {

	params := YOLOv8HornetParams()
	params.MaxObjectNumber = 1
	y := NewYOLOv8(params)

	br := testBranch(map[[2]int]int8{
		{0, 0}: 60,
		{3, 3}: 120,
	})

	dets := y.Decode([]YOLOv8Branch{br}, testInput, testInput)
	require.Len(t, dets, 1)
	assert.InDelta(t, 120.0/127, dets[0].Probability, 1e-4)
}

func TestCalculateOverlap(t *testing.T) {

	a := Box{X1: 0, Y1: 0, X2: 9, Y2: 9}

	assert.InDelta(t, 1.0, calculateOverlap(a, a), 1e-6)
	assert.Equal(t, float32(0), calculateOverlap(a, Box{X1: 20, Y1: 20, X2: 29, Y2: 29}))
	assert.InDelta(t, 50.0/150.0, calculateOverlap(a, Box{X1: 5, Y1: 0, X2: 14, Y2: 9}), 1e-6)
}

func TestQuantRoundTrip(t *testing.T) {

	scale := float32(1.0 / 127)

	for _, q := range []int8{0, 19, 64, 127} {
		f := deqntAffineToF32(q, 0, scale)
		assert.Equal(t, q, qntF32ToAffine(f+scale/4, 0, scale))
	}
}
