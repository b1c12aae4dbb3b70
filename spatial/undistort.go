// Package spatial turns a tracked pixel and aligned depth into a metric
// 3D position in the camera frame.
package spatial

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/swdee/go-hornetlock/frame"
)

// Undistorter removes lens distortion from a pixel coordinate, returning
// the ideal pinhole pixel reprojected with the same intrinsics
type Undistorter interface {
	Undistort(u, v float64) (float64, float64)
}

// OpenCV undistorts with gocv.UndistortPoints.  It owns native memory and
// must be closed.
type OpenCV struct {
	camera gocv.Mat
	dist   gocv.Mat
	rect   gocv.Mat
	src    gocv.Mat
	dst    gocv.Mat
}

// NewOpenCV returns an undistorter backed by OpenCV
func NewOpenCV(cal frame.Calibration) (*OpenCV, error) {

	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("undistorter: %w", err)
	}

	camera := gocv.Zeros(3, 3, gocv.MatTypeCV64F)

	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			camera.SetDoubleAt(r, c, cal.Intrinsics[r][c])
		}
	}

	n := len(cal.Distortion)
	if n == 0 {
		n = 4
	}

	// absent coefficients stay zero
	dist := gocv.Zeros(1, n, gocv.MatTypeCV64F)

	for i, k := range cal.Distortion {
		dist.SetDoubleAt(0, i, k)
	}

	return &OpenCV{
		camera: camera,
		dist:   dist,
		rect:   gocv.NewMat(),
		src:    gocv.NewMatWithSize(1, 1, gocv.MatTypeCV32FC2),
		dst:    gocv.NewMat(),
	}, nil
}

// Undistort implements Undistorter
func (o *OpenCV) Undistort(u, v float64) (float64, float64) {

	o.src.SetFloatAt(0, 0, float32(u))
	o.src.SetFloatAt(0, 1, float32(v))

	gocv.UndistortPoints(o.src, &o.dst, o.camera, o.dist, o.rect, o.camera)

	return float64(o.dst.GetFloatAt(0, 0)), float64(o.dst.GetFloatAt(0, 1))
}

// Close frees the native matrices
func (o *OpenCV) Close() error {
	o.camera.Close()
	o.dist.Close()
	o.rect.Close()
	o.src.Close()
	return o.dst.Close()
}
