package frame

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gocv.io/x/gocv"
)

// ErrNotReady is returned by a Source when no new frame pair is available
// yet. Callers treat it as a transient gap and try again later.
var ErrNotReady = errors.New("frame not ready")

// Frame is a synchronised colour and depth capture
type Frame struct {
	// Seq is the acquisition sequence number, assigned when the frame is
	// accepted into the pipeline
	Seq uint64
	// Timestamp is the capture time
	Timestamp time.Time
	// RGB is the colour image in the BGR channel order used by OpenCV
	RGB gocv.Mat
	// Depth is the depth image aligned to RGB, in millimetres
	Depth DepthMap
}

// Close releases the colour image memory
func (f *Frame) Close() error {
	if f == nil {
		return nil
	}

	return f.RGB.Close()
}

// Calibration holds the colour camera calibration read from the device at
// startup
type Calibration struct {
	// Width and Height of the frames the intrinsics were computed for
	Width  int `json:"width"`
	Height int `json:"height"`
	// Intrinsics is the 3x3 camera matrix [fx 0 cx; 0 fy cy; 0 0 1]
	Intrinsics [3][3]float64 `json:"intrinsics"`
	// Distortion coefficients in OpenCV order k1, k2, p1, p2, k3[, k4, k5, k6]
	Distortion []float64 `json:"distortion"`
}

// Fx returns the horizontal focal length in pixels
func (c Calibration) Fx() float64 {
	return c.Intrinsics[0][0]
}

// Fy returns the vertical focal length in pixels
func (c Calibration) Fy() float64 {
	return c.Intrinsics[1][1]
}

// Cx returns the principal point x coordinate
func (c Calibration) Cx() float64 {
	return c.Intrinsics[0][2]
}

// Cy returns the principal point y coordinate
func (c Calibration) Cy() float64 {
	return c.Intrinsics[1][2]
}

// Validate checks the calibration describes a usable pinhole camera
func (c Calibration) Validate() error {

	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid calibration frame size %dx%d", c.Width, c.Height)
	}

	if c.Fx() <= 0 || c.Fy() <= 0 {
		return fmt.Errorf("invalid focal length fx=%f fy=%f", c.Fx(), c.Fy())
	}

	switch len(c.Distortion) {
	case 0, 4, 5, 8:
	default:
		return fmt.Errorf("unsupported number of distortion coefficients %d",
			len(c.Distortion))
	}

	return nil
}

// LoadCalibration reads a Calibration stored as JSON
func LoadCalibration(file string) (Calibration, error) {

	var cal Calibration

	data, err := os.ReadFile(file)

	if err != nil {
		return cal, fmt.Errorf("error reading calibration file: %w", err)
	}

	if err := json.Unmarshal(data, &cal); err != nil {
		return cal, fmt.Errorf("error decoding calibration file: %w", err)
	}

	return cal, cal.Validate()
}

// Source yields synchronised RGB and depth frame pairs at a fixed rate
type Source interface {
	// Calibration returns the colour camera intrinsics and distortion
	Calibration() Calibration
	// Read returns the next frame pair, or ErrNotReady if one is not
	// available yet
	Read(ctx context.Context) (*Frame, error)
	// Close releases the device
	Close() error
}
