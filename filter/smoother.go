package filter

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Estimate is the filtered target state in camera coordinates (metres)
type Estimate struct {
	Position r3.Vec
	Velocity r3.Vec
}

// Smoother turns a stream of raw 3D fixes for a single target into a
// filtered estimate.  A Smoother is bound to one target and must be Reset
// when a new target is selected.
type Smoother interface {
	// Update feeds one raw fix and returns the new estimate
	Update(z r3.Vec) (Estimate, error)
	// Reset discards all state, velocity returns to zero
	Reset()
}

// ConstantVelocityParams configures the constant velocity UKF smoother
type ConstantVelocityParams struct {
	// Dt is the prediction horizon in seconds applied per update
	Dt float64
	// InitialCov, ProcessNoise and MeasurementNoise scale the identity
	// matrices used for P, Q and R
	InitialCov       float64
	ProcessNoise     float64
	MeasurementNoise float64
	// Alpha, Beta and Kappa parameterise the sigma points
	Alpha float64
	Beta  float64
	Kappa float64
}

// DefaultConstantVelocityParams returns the tuning used on the turret,
// predicting predictFrames ahead at the given frame rate
func DefaultConstantVelocityParams(predictFrames int, fps float64) ConstantVelocityParams {
	return ConstantVelocityParams{
		Dt:               float64(predictFrames) / fps,
		InitialCov:       10,
		ProcessNoise:     0.01,
		MeasurementNoise: 0.1,
		Alpha:            0.1,
		Beta:             2,
		Kappa:            0,
	}
}

// ConstantVelocity is a UKF over the 6D state (x, y, z, vx, vy, vz) with a
// position only measurement
type ConstantVelocity struct {
	params ConstantVelocityParams
	ukf    *UKF
}

// NewConstantVelocity returns a smoother with zero initial state
func NewConstantVelocity(p ConstantVelocityParams) *ConstantVelocity {
	cv := &ConstantVelocity{params: p}
	cv.Reset()
	return cv
}

func cvTransition(x []float64, dt float64) []float64 {
	for i := 0; i < 3; i++ {
		x[i] += x[i+3] * dt
	}
	return x
}

func cvMeasurement(x []float64) []float64 {
	return []float64{x[0], x[1], x[2]}
}

// Reset implements Smoother
func (c *ConstantVelocity) Reset() {

	p := c.params
	points := MerweScaledSigmaPoints{N: 6, Alpha: p.Alpha, Beta: p.Beta, Kappa: p.Kappa}

	ukf := NewUKF(6, 3, p.Dt, cvTransition, cvMeasurement, points)
	ukf.P = identity(6, p.InitialCov)
	ukf.Q = identity(6, p.ProcessNoise)
	ukf.R = identity(3, p.MeasurementNoise)

	c.ukf = ukf
}

// Update implements Smoother by running one predict and update cycle
func (c *ConstantVelocity) Update(z r3.Vec) (Estimate, error) {

	if err := c.ukf.Predict(); err != nil {
		return Estimate{}, fmt.Errorf("smoother: %w", err)
	}

	if err := c.ukf.Update([]float64{z.X, z.Y, z.Z}); err != nil {
		return Estimate{}, fmt.Errorf("smoother: %w", err)
	}

	x := c.ukf.X

	return Estimate{
		Position: r3.Vec{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)},
		Velocity: r3.Vec{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)},
	}, nil
}

// Passthrough returns every fix unchanged with zero velocity
type Passthrough struct{}

// Update implements Smoother
func (Passthrough) Update(z r3.Vec) (Estimate, error) {
	return Estimate{Position: z}, nil
}

// Reset implements Smoother
func (Passthrough) Reset() {}
