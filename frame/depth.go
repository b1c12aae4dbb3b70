package frame

import (
	"fmt"

	"gocv.io/x/gocv"
)

// DepthMap is a single channel depth image with values in millimetres.  A
// value of zero means the stereo matcher produced no depth for that pixel.
type DepthMap struct {
	Width  int
	Height int
	// Data is stored row major, len(Data) == Width*Height
	Data []uint16
}

// NewDepthMap returns a zeroed depth map of the given size
func NewDepthMap(width, height int) DepthMap {
	return DepthMap{
		Width:  width,
		Height: height,
		Data:   make([]uint16, width*height),
	}
}

// At returns the depth at pixel x,y
func (d DepthMap) At(x, y int) uint16 {
	return d.Data[y*d.Width+x]
}

// Set the depth at pixel x,y
func (d DepthMap) Set(x, y int, val uint16) {
	d.Data[y*d.Width+x] = val
}

// Empty reports whether the depth map holds no pixels
func (d DepthMap) Empty() bool {
	return d.Width == 0 || d.Height == 0 || len(d.Data) == 0
}

// MinPositive returns the smallest strictly positive depth inside the
// half open rectangle [x0,x1) x [y0,y1).  The rectangle must lie within
// the image.  ok is false when every sample in the rectangle is zero.
func (d DepthMap) MinPositive(x0, y0, x1, y1 int) (min uint16, ok bool) {

	for y := y0; y < y1; y++ {
		row := d.Data[y*d.Width : (y+1)*d.Width]

		for x := x0; x < x1; x++ {
			v := row[x]

			if v == 0 {
				continue
			}

			if !ok || v < min {
				min = v
				ok = true
			}
		}
	}

	return min, ok
}

// DepthFromMat copies a CV_16UC1 Mat, as produced by the stereo depth node
// or read back from a 16 bit PNG, into a DepthMap
func DepthFromMat(m gocv.Mat) (DepthMap, error) {

	if m.Empty() {
		return DepthMap{}, fmt.Errorf("depth mat is empty")
	}

	if m.Type() != gocv.MatTypeCV16UC1 {
		return DepthMap{}, fmt.Errorf("depth mat has type %v, expected CV_16UC1",
			m.Type())
	}

	if !m.IsContinuous() {
		m = m.Clone()
		defer m.Close()
	}

	src, err := m.DataPtrUint16()

	if err != nil {
		return DepthMap{}, fmt.Errorf("error getting depth data pointer: %w", err)
	}

	d := NewDepthMap(m.Cols(), m.Rows())
	copy(d.Data, src)

	return d, nil
}

// ToMat returns the depth map as a CV_16UC1 Mat, used when writing 16 bit
// PNG dumps.  The caller must Close the returned Mat.
func (d DepthMap) ToMat() (gocv.Mat, error) {

	buf := make([]byte, len(d.Data)*2)

	for i, v := range d.Data {
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}

	return gocv.NewMatFromBytes(d.Height, d.Width, gocv.MatTypeCV16UC1, buf)
}
