package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSigmaWeights(t *testing.T) {

	points := MerweScaledSigmaPoints{N: 6, Alpha: 0.1, Beta: 2, Kappa: 0}
	wm, wc := points.Weights()

	require.Len(t, wm, 13)
	assert.InDelta(t, 1.0, floats.Sum(wm), 1e-9)
	assert.InDelta(t, 1.0+(1-0.01+2), floats.Sum(wc), 1e-9)
}

func TestSigmaPointsRecoverMean(t *testing.T) {

	points := MerweScaledSigmaPoints{N: 3, Alpha: 0.1, Beta: 2, Kappa: 0}
	wm, _ := points.Weights()

	x := mat.NewVecDense(3, []float64{1, -2, 3})
	P := mat.NewSymDense(3, []float64{
		2, 0.5, 0,
		0.5, 1, 0,
		0, 0, 3,
	})

	sigmas, err := points.SigmaPoints(x, P)
	require.NoError(t, err)

	rows, cols := sigmas.Dims()
	require.Equal(t, 7, rows)
	require.Equal(t, 3, cols)

	for j := 0; j < 3; j++ {
		mean := 0.0
		for i := 0; i < rows; i++ {
			mean += wm[i] * sigmas.At(i, j)
		}
		assert.InDelta(t, x.AtVec(j), mean, 1e-9)
	}

	notPD := mat.NewSymDense(3, []float64{1, 2, 0, 2, 1, 0, 0, 0, 1})
	_, err = points.SigmaPoints(x, notPD)
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
}

func TestConstantVelocityResetClearsVelocity(t *testing.T) {

	cv := NewConstantVelocity(DefaultConstantVelocityParams(3, 30))

	for i := 0; i < 20; i++ {
		_, err := cv.Update(r3.Vec{X: float64(i) * 0.05, Y: 0, Z: 1})
		require.NoError(t, err)
	}

	assert.NotZero(t, cv.ukf.X.AtVec(3))

	cv.Reset()

	for i := 0; i < 6; i++ {
		assert.Zero(t, cv.ukf.X.AtVec(i))
	}
}

func TestConstantVelocityTracksLinearMotion(t *testing.T) {

	p := DefaultConstantVelocityParams(3, 30)
	cv := NewConstantVelocity(p)

	// target moves 1cm in x and closes 2cm in z per update
	var est Estimate
	var err error

	for i := 0; i < 300; i++ {
		z := r3.Vec{X: 0.2 + 0.01*float64(i), Y: -0.1, Z: 2.0 - 0.002*float64(i)}
		est, err = cv.Update(z)
		require.NoError(t, err)
	}

	last := r3.Vec{X: 0.2 + 0.01*299, Y: -0.1, Z: 2.0 - 0.002*299}

	assert.Less(t, r3.Norm(r3.Sub(est.Position, last)), 0.05)
	assert.InDelta(t, 0.01/p.Dt, est.Velocity.X, 0.02)
	assert.InDelta(t, -0.002/p.Dt, est.Velocity.Z, 0.02)
	assert.InDelta(t, 0.0, est.Velocity.Y, 0.02)
}

func TestConstantVelocityStationary(t *testing.T) {

	cv := NewConstantVelocity(DefaultConstantVelocityParams(3, 30))
	target := r3.Vec{X: 0.1, Y: 0.05, Z: 0.8}

	est, err := cv.Update(target)
	require.NoError(t, err)

	// first fix pulls nearly all the way from the zero prior
	assert.Less(t, r3.Norm(r3.Sub(est.Position, target)), 0.05)

	for i := 0; i < 100; i++ {
		est, err = cv.Update(target)
		require.NoError(t, err)
	}

	assert.Less(t, r3.Norm(r3.Sub(est.Position, target)), 1e-3)
	assert.Less(t, r3.Norm(est.Velocity), 1e-3)
}

func TestPassthrough(t *testing.T) {

	var s Smoother = Passthrough{}
	z := r3.Vec{X: 1, Y: 2, Z: 3}

	est, err := s.Update(z)
	require.NoError(t, err)
	assert.Equal(t, z, est.Position)
	assert.Equal(t, r3.Vec{}, est.Velocity)
}
