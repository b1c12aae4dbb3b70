package frame

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinPositive(t *testing.T) {

	d := NewDepthMap(8, 6)

	// no valid samples
	_, ok := d.MinPositive(0, 0, 8, 6)
	assert.False(t, ok)

	d.Set(2, 2, 900)
	d.Set(3, 3, 450)
	d.Set(7, 5, 10) // outside the queried window

	min, ok := d.MinPositive(1, 1, 5, 5)
	require.True(t, ok)
	assert.Equal(t, uint16(450), min)

	min, ok = d.MinPositive(0, 0, 8, 6)
	require.True(t, ok)
	assert.Equal(t, uint16(10), min)

	// half open bounds exclude the last row and column
	_, ok = d.MinPositive(4, 4, 7, 5)
	assert.False(t, ok)
}

func TestDepthMatRoundTrip(t *testing.T) {

	d := NewDepthMap(4, 3)
	d.Set(0, 0, 1)
	d.Set(3, 2, 65000)
	d.Set(1, 1, 1234)

	m, err := d.ToMat()
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 4, m.Cols())
	assert.Equal(t, 3, m.Rows())

	back, err := DepthFromMat(m)
	require.NoError(t, err)
	assert.Equal(t, d.Data, back.Data)
}

func TestLoadCalibration(t *testing.T) {

	file := filepath.Join(t.TempDir(), "calib.json")

	err := os.WriteFile(file, []byte(`{
		"width": 1280, "height": 720,
		"intrinsics": [[1000, 0, 640], [0, 1000, 360], [0, 0, 1]],
		"distortion": [0.1, -0.05, 0.001, 0.002, 0.0]
	}`), 0o644)
	require.NoError(t, err)

	cal, err := LoadCalibration(file)
	require.NoError(t, err)

	assert.Equal(t, 1000.0, cal.Fx())
	assert.Equal(t, 1000.0, cal.Fy())
	assert.Equal(t, 640.0, cal.Cx())
	assert.Equal(t, 360.0, cal.Cy())
	assert.Len(t, cal.Distortion, 5)

	bad := cal
	bad.Distortion = []float64{1, 2, 3}
	assert.Error(t, bad.Validate())
}
