package spatial

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/swdee/go-hornetlock/frame"
)

var (
	// ErrROIOutOfBounds is returned when the depth sampling window around
	// the centroid does not fit inside the depth image
	ErrROIOutOfBounds = errors.New("depth roi out of bounds")
	// ErrNoDepth is returned when the depth sampling window holds no valid
	// (positive) measurement
	ErrNoDepth = errors.New("no valid depth in roi")
)

// Params configures the Estimator
type Params struct {
	// ROISize is the side in pixels of the square depth sampling window
	ROISize int
	// RadialToZ treats the depth sample as range along the ray rather than
	// distance along the optical axis
	RadialToZ bool
	// ParallaxX and ParallaxY are the per metre lateral corrections applied
	// as X = θx·Z·(1 - Z·ParallaxX)
	ParallaxX float64
	ParallaxY float64
}

// DefaultParams returns the settings calibrated for the turret mount
func DefaultParams() Params {
	return Params{
		ROISize:   100,
		RadialToZ: false,
		ParallaxX: 0.27,
		ParallaxY: 0.25,
	}
}

// Measurement is a resolved 3D fix with the intermediate values it was
// derived from
type Measurement struct {
	// Position in metres, camera frame, +X right, +Y down, +Z forward
	Position r3.Vec
	// Range is the depth sample in metres
	Range float64
	// U and V are the undistorted centroid pixel
	U float64
	V float64
}

// Estimator computes a 3D position from a tracked centroid and the aligned
// depth map
type Estimator struct {
	cal    frame.Calibration
	und    Undistorter
	params Params
}

// NewEstimator returns an estimator for the given camera
func NewEstimator(cal frame.Calibration, und Undistorter, p Params) *Estimator {
	return &Estimator{
		cal:    cal,
		und:    und,
		params: p,
	}
}

// Range returns the minimum positive depth in metres within the ROI
// centred on (cx, cy)
func (e *Estimator) Range(cx, cy int, depth frame.DepthMap) (float64, error) {

	half := e.params.ROISize / 2

	if cx < half || cx >= depth.Width-half || cy < half || cy >= depth.Height-half {
		return 0, ErrROIOutOfBounds
	}

	mm, ok := depth.MinPositive(cx-half, cy-half, cx+half, cy+half)

	if !ok {
		return 0, ErrNoDepth
	}

	return float64(mm) / 1000.0, nil
}

// Estimate resolves the 3D position of the target at centroid (cx, cy).
// Nothing is returned unless a positive depth is found.
func (e *Estimator) Estimate(cx, cy int, depth frame.DepthMap) (Measurement, error) {

	r, err := e.Range(cx, cy, depth)

	if err != nil {
		return Measurement{}, err
	}

	u, v := e.und.Undistort(float64(cx), float64(cy))

	thetaX := (u - e.cal.Cx()) / e.cal.Fx()
	thetaY := (v - e.cal.Cy()) / e.cal.Fy()

	z := r
	if e.params.RadialToZ {
		z = r / math.Sqrt(1+thetaX*thetaX+thetaY*thetaY)
	}

	return Measurement{
		Position: r3.Vec{
			X: thetaX * z * (1 - z*e.params.ParallaxX),
			Y: thetaY * z * (1 - z*e.params.ParallaxY),
			Z: z,
		},
		Range: r,
		U:     u,
		V:     v,
	}, nil
}
