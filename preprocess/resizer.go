package preprocess

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// PadColor is the grey used to fill letterbox borders, matching the value
// the detector was trained with
var PadColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Letterbox records the transform applied by a letterbox resize so that
// boxes produced in model input space can be mapped back to the source
// frame
type Letterbox struct {
	// Scale is the factor source pixels were multiplied by
	Scale float32
	// XPad and YPad are the left and top border sizes in model pixels
	XPad int
	YPad int
}

// ToSource maps a point in model input space back to source frame space,
// the exact inverse of the letterbox resize
func (l Letterbox) ToSource(x, y float32) (float32, float32) {
	return (x - float32(l.XPad)) / l.Scale, (y - float32(l.YPad)) / l.Scale
}

// ToModel maps a point in source frame space into model input space
func (l Letterbox) ToModel(x, y float32) (float32, float32) {
	return x*l.Scale + float32(l.XPad), y*l.Scale + float32(l.YPad)
}

// Resizer defines the struct used for handling image resizing
type Resizer struct {
	// srcWidth is the width of the source image
	srcWidth int
	// srcHeight is the height of the source image
	srcHeight int
	// destWidth is the width to scale to
	destWidth int
	// destHeight is the height to scale to
	destHeight int
	// tempMat is a Mat used during the resize process
	tempMat gocv.Mat
	// rgbMat holds the colour converted source
	rgbMat gocv.Mat
	// box is the precalculated letterbox transform
	box Letterbox
	// resize dimensions
	resizeW int
	resizeH int
}

// NewResizer returns a resizer used for scaling an image to the needed
// dimensions for input tensor size
func NewResizer(srcWidth, srcHeight, destWidth, destHeight int) *Resizer {
	r := &Resizer{
		srcWidth:   srcWidth,
		srcHeight:  srcHeight,
		destWidth:  destWidth,
		destHeight: destHeight,
		tempMat:    gocv.NewMat(),
		rgbMat:     gocv.NewMat(),
	}

	// precalculate scaling dimensions
	r.preCalc()

	return r
}

// Close frees memory allocated during resize process
func (r *Resizer) Close() error {
	r.rgbMat.Close()
	return r.tempMat.Close()
}

// preCalc the scaling factors for source and destination Mats
func (r *Resizer) preCalc() {

	r.resizeW = r.destWidth
	r.resizeH = r.destHeight

	scaleW := float32(r.destWidth) / float32(r.srcWidth)
	scaleH := float32(r.destHeight) / float32(r.srcHeight)
	r.box.Scale = scaleH

	if scaleW < scaleH {
		r.box.Scale = scaleW
		r.resizeH = int(float32(r.srcHeight) * r.box.Scale)
	} else {
		r.resizeW = int(float32(r.srcWidth) * r.box.Scale)
	}

	r.box.YPad = (r.destHeight - r.resizeH) / 2
	r.box.XPad = (r.destWidth - r.resizeW) / 2
}

// LetterBoxResize resizes the input image to the dimensions needed for the input
// tensor size whilst maintaining image aspect.  Color is that used for letter
// box padding.  The returned Letterbox describes the transform applied.
func (r *Resizer) LetterBoxResize(src gocv.Mat, dest *gocv.Mat, color color.RGBA) Letterbox {

	gocv.Resize(src, &r.tempMat, image.Pt(r.resizeW, r.resizeH),
		0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(r.tempMat, dest, r.box.YPad, r.destHeight-r.resizeH-r.box.YPad,
		r.box.XPad, r.destWidth-r.resizeW-r.box.XPad, gocv.BorderConstant, color)

	return r.box
}

// Prepare converts a BGR camera frame to RGB and letterboxes it into dest.
// The frame must match the source size the Resizer was created for.
func (r *Resizer) Prepare(bgr gocv.Mat, dest *gocv.Mat) (Letterbox, error) {

	if bgr.Cols() != r.srcWidth || bgr.Rows() != r.srcHeight {
		return Letterbox{}, fmt.Errorf("frame size %dx%d does not match resizer source %dx%d",
			bgr.Cols(), bgr.Rows(), r.srcWidth, r.srcHeight)
	}

	gocv.CvtColor(bgr, &r.rgbMat, gocv.ColorBGRToRGB)

	return r.LetterBoxResize(r.rgbMat, dest, PadColor), nil
}

// Letterbox returns the transform the resizer applies
func (r *Resizer) Letterbox() Letterbox {
	return r.box
}

// SrcWidth returns the width of the source image
func (r *Resizer) SrcWidth() int {
	return r.srcWidth
}

// SrcHeight returns the height of the source image
func (r *Resizer) SrcHeight() int {
	return r.srcHeight
}
