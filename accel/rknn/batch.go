package rknn

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Batch concatenates letterboxed images into a single NHWC tensor for
// models compiled with a batch dimension greater than one
type Batch struct {
	mat gocv.Mat
	// size is the model batch dimension
	size int
	// width, height, channels of a single image
	width    int
	height   int
	channels int
	// count of images added since the last Clear
	count int
	// imgSize is the number of bytes per image
	imgSize int
}

// NewBatch allocates a batch tensor
func NewBatch(size, height, width, channels int) *Batch {
	return &Batch{
		size:     size,
		width:    width,
		height:   height,
		channels: channels,
		mat:      gocv.NewMatWithSizes([]int{size, height, width, channels}, gocv.MatTypeCV8U),
		imgSize:  height * width * channels,
	}
}

// Add copies img into the next free batch slot
func (b *Batch) Add(img gocv.Mat) error {

	if b.count >= b.size {
		return fmt.Errorf("batch full")
	}

	if img.Rows() != b.height || img.Cols() != b.width || img.Channels() != b.channels {
		return fmt.Errorf("image %dx%dx%d does not match batch shape %dx%dx%d",
			img.Cols(), img.Rows(), img.Channels(), b.width, b.height, b.channels)
	}

	if !img.IsContinuous() {
		img = img.Clone()
		defer img.Close()
	}

	dst, err := b.mat.DataPtrUint8()

	if err != nil {
		return fmt.Errorf("error accessing batch memory: %w", err)
	}

	src, err := img.DataPtrUint8()

	if err != nil {
		return fmt.Errorf("error getting image data: %w", err)
	}

	copy(dst[b.count*b.imgSize:], src)
	b.count++

	return nil
}

// Mat returns the concatenated tensor
func (b *Batch) Mat() gocv.Mat {
	return b.mat
}

// Clear resets the batch for reuse, the tensor memory is overwritten by the
// next Add calls
func (b *Batch) Clear() {
	b.count = 0
}

// Close frees the batch tensor
func (b *Batch) Close() error {
	return b.mat.Close()
}
