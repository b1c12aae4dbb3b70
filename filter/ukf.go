// Package filter provides the state estimators used to smooth and predict
// the engaged target position.
package filter

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned when a covariance can not be Cholesky
// factorised while generating sigma points or computing the gain
var ErrNotPositiveDefinite = errors.New("covariance not positive definite")

// MerweScaledSigmaPoints generates the 2n+1 sigma points and weights of Van
// der Merwe's scaled unscented transform
type MerweScaledSigmaPoints struct {
	// N is the state dimension
	N int
	// Alpha sets the spread of the points around the mean, usually small
	Alpha float64
	// Beta incorporates prior knowledge of the distribution, 2 is optimal
	// for a Gaussian
	Beta float64
	// Kappa is the secondary scaling parameter
	Kappa float64
}

// NumSigmas returns the number of sigma points generated
func (m MerweScaledSigmaPoints) NumSigmas() int {
	return 2*m.N + 1
}

func (m MerweScaledSigmaPoints) lambda() float64 {
	n := float64(m.N)
	return m.Alpha*m.Alpha*(n+m.Kappa) - n
}

// Weights returns the mean and covariance weights for each sigma point
func (m MerweScaledSigmaPoints) Weights() (wm, wc []float64) {

	n := float64(m.N)
	lambda := m.lambda()
	c := 0.5 / (n + lambda)

	wm = make([]float64, m.NumSigmas())
	wc = make([]float64, m.NumSigmas())

	for i := range wm {
		wm[i] = c
		wc[i] = c
	}

	wm[0] = lambda / (n + lambda)
	wc[0] = wm[0] + (1 - m.Alpha*m.Alpha + m.Beta)

	return wm, wc
}

// SigmaPoints returns a (2n+1) x n matrix whose rows are the sigma points
// for mean x and covariance P
func (m MerweScaledSigmaPoints) SigmaPoints(x *mat.VecDense, P mat.Symmetric) (*mat.Dense, error) {

	n := m.N

	if x.Len() != n {
		return nil, fmt.Errorf("expected state of size %d, got %d", n, x.Len())
	}

	scaled := mat.NewSymDense(n, nil)
	scaled.ScaleSym(float64(n)+m.lambda(), P)

	var chol mat.Cholesky

	if ok := chol.Factorize(scaled); !ok {
		return nil, ErrNotPositiveDefinite
	}

	// rows of the upper triangular factor U where U'U = (n+lambda)P
	var u mat.TriDense
	chol.UTo(&u)

	sigmas := mat.NewDense(m.NumSigmas(), n, nil)

	for j := 0; j < n; j++ {
		sigmas.Set(0, j, x.AtVec(j))
	}

	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			sigmas.Set(k+1, j, x.AtVec(j)+u.At(k, j))
			sigmas.Set(n+k+1, j, x.AtVec(j)-u.At(k, j))
		}
	}

	return sigmas, nil
}

// TransitionFunc propagates state x forward by dt and returns the new state.
// It may modify x in place.
type TransitionFunc func(x []float64, dt float64) []float64

// MeasurementFunc maps a state to measurement space
type MeasurementFunc func(x []float64) []float64

// UKF is an Unscented Kalman Filter with additive process and measurement
// noise
type UKF struct {
	dimX int
	dimZ int
	dt   float64

	fx TransitionFunc
	hx MeasurementFunc

	points MerweScaledSigmaPoints
	wm     []float64
	wc     []float64

	// X is the state estimate
	X *mat.VecDense
	// P is the state covariance
	P *mat.SymDense
	// Q is the process noise
	Q *mat.SymDense
	// R is the measurement noise
	R *mat.SymDense

	// sigmasF holds the sigma points passed through fx by the last Predict
	sigmasF *mat.Dense
}

// NewUKF returns a filter with zero state and identity P, Q and R
func NewUKF(dimX, dimZ int, dt float64, fx TransitionFunc, hx MeasurementFunc,
	points MerweScaledSigmaPoints) *UKF {

	wm, wc := points.Weights()

	return &UKF{
		dimX:    dimX,
		dimZ:    dimZ,
		dt:      dt,
		fx:      fx,
		hx:      hx,
		points:  points,
		wm:      wm,
		wc:      wc,
		X:       mat.NewVecDense(dimX, nil),
		P:       identity(dimX, 1),
		Q:       identity(dimX, 1),
		R:       identity(dimZ, 1),
		sigmasF: mat.NewDense(points.NumSigmas(), dimX, nil),
	}
}

// identity returns scale*I of size n
func identity(n int, scale float64) *mat.SymDense {

	m := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		m.SetSym(i, i, scale)
	}

	return m
}

// Predict propagates the state and covariance through the transition
// function
func (u *UKF) Predict() error {

	sigmas, err := u.points.SigmaPoints(u.X, u.P)

	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	row := make([]float64, u.dimX)

	for i := 0; i < u.points.NumSigmas(); i++ {
		mat.Row(row, i, sigmas)
		u.sigmasF.SetRow(i, u.fx(row, u.dt))
	}

	x, P := unscentedTransform(u.sigmasF, u.wm, u.wc, u.Q)

	u.X = x
	u.P = P

	return nil
}

// Update corrects the state with measurement z.  It uses the sigma points
// from the preceding Predict.
func (u *UKF) Update(z []float64) error {

	if len(z) != u.dimZ {
		return fmt.Errorf("expected measurement of size %d, got %d", u.dimZ, len(z))
	}

	n := u.points.NumSigmas()
	sigmasH := mat.NewDense(n, u.dimZ, nil)
	row := make([]float64, u.dimX)

	for i := 0; i < n; i++ {
		mat.Row(row, i, u.sigmasF)
		sigmasH.SetRow(i, u.hx(row))
	}

	zp, S := unscentedTransform(sigmasH, u.wm, u.wc, u.R)

	// cross covariance of state and measurement
	pxz := mat.NewDense(u.dimX, u.dimZ, nil)
	dx := mat.NewVecDense(u.dimX, nil)
	dz := mat.NewVecDense(u.dimZ, nil)
	var outer mat.Dense

	for i := 0; i < n; i++ {
		dx.SubVec(u.sigmasF.RowView(i), u.X)
		dz.SubVec(sigmasH.RowView(i), zp)
		outer.Outer(u.wc[i], dx, dz)
		pxz.Add(pxz, &outer)
	}

	// K = Pxz S^-1, solved as S K' = Pxz'
	var chol mat.Cholesky

	if ok := chol.Factorize(S); !ok {
		return fmt.Errorf("update: %w", ErrNotPositiveDefinite)
	}

	var kt mat.Dense

	if err := chol.SolveTo(&kt, pxz.T()); err != nil {
		return fmt.Errorf("update: failed to compute gain: %w", err)
	}

	K := mat.DenseCopyOf(kt.T())

	residual := mat.NewVecDense(u.dimZ, nil)
	residual.SubVec(mat.NewVecDense(u.dimZ, append([]float64(nil), z...)), zp)

	var correction mat.VecDense
	correction.MulVec(K, residual)
	u.X.AddVec(u.X, &correction)

	// P = P - K S K'
	var ks, ksk mat.Dense
	ks.Mul(K, S)
	ksk.Mul(&ks, K.T())

	var next mat.Dense
	next.Sub(u.P, &ksk)
	u.P = symmetrize(&next)

	return nil
}

// unscentedTransform computes the weighted mean and covariance of the
// sigma point rows plus additive noise
func unscentedTransform(sigmas *mat.Dense, wm, wc []float64,
	noise *mat.SymDense) (*mat.VecDense, *mat.SymDense) {

	n, dim := sigmas.Dims()

	mean := mat.NewVecDense(dim, nil)

	for i := 0; i < n; i++ {
		mean.AddScaledVec(mean, wm[i], sigmas.RowView(i))
	}

	cov := mat.NewSymDense(dim, nil)
	d := mat.NewVecDense(dim, nil)

	for i := 0; i < n; i++ {
		d.SubVec(sigmas.RowView(i), mean)
		cov.SymRankOne(cov, wc[i], d)
	}

	cov.AddSym(cov, noise)

	return mean, cov
}

// symmetrize returns (m + m')/2 to absorb rounding asymmetry
func symmetrize(m *mat.Dense) *mat.SymDense {

	r, _ := m.Dims()
	s := mat.NewSymDense(r, nil)

	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}

	return s
}
