package tracker

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DetectBox is a measurement in (center x, center y, aspect ratio, height)
type DetectBox []float32

// StateMean is the 8 dimensional box state, xyah followed by its velocities
type StateMean []float32

// StateCov represents an 8x8 matrix
type StateCov struct {
	*mat.Dense
}

// StateHMean is the state projected to measurement space
type StateHMean []float32

// StateHCov represents a 4x4 matrix
type StateHCov struct {
	*mat.SymDense
}

const (
	stateDim = 8
	measDim  = 4
)

// ErrFactorize is returned when the projected covariance is not positive
// definite
var ErrFactorize = errors.New("failed to factorize projected covariance")

// KalmanFilter is the constant velocity box filter used by each track.  The
// noise of every component scales with the box height so large and small
// boxes are treated alike.
type KalmanFilter struct {
	stdWeightPosition float32
	stdWeightVelocity float32
	motionMat         *mat.Dense
	updateMat         *mat.Dense
}

// NewKalmanFilter initializes and returns a new KalmanFilter advancing one
// frame per Predict
func NewKalmanFilter(stdWeightPosition, stdWeightVelocity float32) *KalmanFilter {

	// F is identity with unit dt coupling each position to its velocity
	motionMat := mat.NewDense(stateDim, stateDim, nil)

	for i := 0; i < stateDim; i++ {
		motionMat.Set(i, i, 1)
	}

	for i := 0; i < measDim; i++ {
		motionMat.Set(i, measDim+i, 1)
	}

	// H selects the xyah part of the state
	updateMat := mat.NewDense(measDim, stateDim, nil)

	for i := 0; i < measDim; i++ {
		updateMat.Set(i, i, 1)
	}

	return &KalmanFilter{
		stdWeightPosition: stdWeightPosition,
		stdWeightVelocity: stdWeightVelocity,
		motionMat:         motionMat,
		updateMat:         updateMat,
	}
}

// stateStd returns the per component standard deviation of the state for
// a box of height h.  The aspect ratio terms are fixed.
func (kf *KalmanFilter) stateStd(h, posScale, velScale float32) []float32 {

	pos := posScale * kf.stdWeightPosition * h
	vel := velScale * kf.stdWeightVelocity * h

	return []float32{pos, pos, 1e-2, pos, vel, vel, 1e-5, vel}
}

// setDiagVariance writes the square of each std onto the diagonal of m
func setDiagVariance(m interface{ Set(i, j int, v float64) }, std []float32) {
	for i, v := range std {
		m.Set(i, i, float64(v*v))
	}
}

// toVec converts a float32 slice to a gonum vector
func toVec(v []float32) *mat.VecDense {

	data := make([]float64, len(v))

	for i, x := range v {
		data[i] = float64(x)
	}

	return mat.NewVecDense(len(v), data)
}

// Initiate creates the track state from an unassociated measurement.
// Velocities start at zero with a wide uncertainty.
func (kf *KalmanFilter) Initiate(mean StateMean, covariance *StateCov,
	measurement DetectBox) {

	copy(mean[:measDim], measurement[:measDim])

	for i := measDim; i < stateDim; i++ {
		mean[i] = 0
	}

	setDiagVariance(covariance, kf.stateStd(measurement[3], 2, 10))
}

// Predict advances the state mean and covariance by one frame
func (kf *KalmanFilter) Predict(mean StateMean, covariance *StateCov) {

	motionCov := mat.NewDense(stateDim, stateDim, nil)
	setDiagVariance(motionCov, kf.stateStd(mean[3], 1, 1))

	next := mat.NewVecDense(stateDim, nil)
	next.MulVec(kf.motionMat, toVec(mean))

	for i := 0; i < stateDim; i++ {
		mean[i] = float32(next.AtVec(i))
	}

	// P = F P F' + Q
	cov := covariance.Dense
	cov.Mul(kf.motionMat, cov)
	cov.Mul(cov, kf.motionMat.T())
	cov.Add(cov, motionCov)
}

// Update corrects the state with an associated measurement
func (kf *KalmanFilter) Update(mean StateMean, covariance *StateCov,
	measurement DetectBox) error {

	projectedMean, projectedCov := kf.project(mean, covariance)

	chol := mat.Cholesky{}

	if ok := chol.Factorize(projectedCov); !ok {
		return ErrFactorize
	}

	// K' = S^-1 (P H')'
	b := mat.NewDense(stateDim, measDim, nil)
	b.Mul(covariance.Dense, kf.updateMat.T())

	var kalmanGain mat.Dense

	if err := chol.SolveTo(&kalmanGain, b.T()); err != nil {
		return fmt.Errorf("failed to compute kalman gain: %w", err)
	}

	innovation := mat.NewVecDense(measDim, nil)

	for i := 0; i < measDim; i++ {
		innovation.SetVec(i, float64(measurement[i]-projectedMean[i]))
	}

	correction := mat.NewVecDense(stateDim, nil)
	correction.MulVec(kalmanGain.T(), innovation)

	for i := 0; i < stateDim; i++ {
		mean[i] += float32(correction.AtVec(i))
	}

	// P = P - K S K'
	ks := mat.NewDense(stateDim, measDim, nil)
	ks.Mul(kalmanGain.T(), projectedCov)

	kskt := mat.NewDense(stateDim, stateDim, nil)
	kskt.Mul(ks, &kalmanGain)

	newCov := mat.NewDense(stateDim, stateDim, nil)
	newCov.Sub(covariance.Dense, kskt)

	covariance.Dense = newCov

	return nil
}

// project maps the state mean and covariance into measurement space adding
// the measurement noise
func (kf *KalmanFilter) project(mean StateMean,
	covariance *StateCov) (StateHMean, *StateHCov) {

	h := mean[3]
	pos := kf.stdWeightPosition * h
	std := []float32{pos, pos, 1e-1, pos}

	innovationCov := mat.NewSymDense(measDim, nil)

	for i, v := range std {
		innovationCov.SetSym(i, i, float64(v*v))
	}

	projectedMeanVec := mat.NewVecDense(measDim, nil)
	projectedMeanVec.MulVec(kf.updateMat, toVec(mean))

	// H P H'
	hp := mat.NewDense(measDim, stateDim, nil)
	hp.Mul(kf.updateMat, covariance.Dense)
	hph := mat.NewDense(measDim, measDim, nil)
	hph.Mul(hp, kf.updateMat.T())

	projectedCov := mat.NewSymDense(measDim, nil)

	for i := 0; i < measDim; i++ {
		for j := i; j < measDim; j++ {
			projectedCov.SetSym(i, j, hph.At(i, j))
		}
	}

	projectedCov.AddSym(projectedCov, innovationCov)

	projectedMean := make(StateHMean, measDim)

	for i := 0; i < measDim; i++ {
		projectedMean[i] = float32(projectedMeanVec.AtVec(i))
	}

	return projectedMean, &StateHCov{projectedCov}
}
