package spatial

import (
	"math"

	"github.com/swdee/go-hornetlock/frame"
)

// distortion holds the Brown-Conrady coefficients, zero when absent
type distortion struct {
	k1, k2, p1, p2, k3, k4, k5, k6 float64
}

func newDistortion(d []float64) distortion {

	c := make([]float64, 8)
	copy(c, d)

	return distortion{
		k1: c[0], k2: c[1], p1: c[2], p2: c[3],
		k3: c[4], k4: c[5], k5: c[6], k6: c[7],
	}
}

// apply maps normalised ideal coordinates to distorted ones
func (d distortion) apply(x, y float64) (float64, float64) {

	r2 := x*x + y*y
	radial := (1 + ((d.k3*r2+d.k2)*r2+d.k1)*r2) / (1 + ((d.k6*r2+d.k5)*r2+d.k4)*r2)

	xd := x*radial + 2*d.p1*x*y + d.p2*(r2+2*x*x)
	yd := y*radial + d.p1*(r2+2*y*y) + 2*d.p2*x*y

	return xd, yd
}

// iterative inverts the distortion model in plain Go by the fixed point
// scheme of undistortPoints, it checks the OpenCV path
type iterative struct {
	fx, fy, cx, cy float64
	dist           distortion
	// Iterations is the maximum number of refinement steps
	Iterations int
	// Epsilon stops iteration once a step moves the point by less than this
	// in normalised coordinates
	Epsilon float64
}

// newIterative returns an undistorter for the given calibration
func newIterative(cal frame.Calibration) *iterative {
	return &iterative{
		fx:         cal.Fx(),
		fy:         cal.Fy(),
		cx:         cal.Cx(),
		cy:         cal.Cy(),
		dist:       newDistortion(cal.Distortion),
		Iterations: 20,
		Epsilon:    1e-10,
	}
}

// Undistort implements Undistorter
func (it *iterative) Undistort(u, v float64) (float64, float64) {

	d := it.dist
	x0 := (u - it.cx) / it.fx
	y0 := (v - it.cy) / it.fy
	x, y := x0, y0

	for i := 0; i < it.Iterations; i++ {

		r2 := x*x + y*y
		icdist := (1 + ((d.k6*r2+d.k5)*r2+d.k4)*r2) / (1 + ((d.k3*r2+d.k2)*r2+d.k1)*r2)
		deltaX := 2*d.p1*x*y + d.p2*(r2+2*x*x)
		deltaY := d.p1*(r2+2*y*y) + 2*d.p2*x*y

		nx := (x0 - deltaX) * icdist
		ny := (y0 - deltaY) * icdist

		step := math.Abs(nx-x) + math.Abs(ny-y)
		x, y = nx, ny

		if step < it.Epsilon {
			break
		}
	}

	return x*it.fx + it.cx, y*it.fy + it.cy
}

// Distort applies the lens model to an ideal pixel, the forward direction
// of Undistort
func (it *iterative) Distort(u, v float64) (float64, float64) {

	x := (u - it.cx) / it.fx
	y := (v - it.cy) / it.fy

	xd, yd := it.dist.apply(x, y)

	return xd*it.fx + it.cx, yd*it.fy + it.cy
}
