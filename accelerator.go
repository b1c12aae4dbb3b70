package hornetlock

import (
	"context"

	"gocv.io/x/gocv"

	"github.com/swdee/go-hornetlock/frame"
	"github.com/swdee/go-hornetlock/postprocess"
	"github.com/swdee/go-hornetlock/preprocess"
)

// Job is a single preprocessed frame queued for inference
type Job struct {
	// Seq is the frame sequence number the job was created from
	Seq uint64
	// Frame is the original capture, kept for depth sampling after
	// inference completes
	Frame *frame.Frame
	// Tensor is the letterboxed RGB model input
	Tensor gocv.Mat
}

// Release frees the native memory held by the job
func (j Job) Release() {
	j.Tensor.Close()
	j.Frame.Close()
}

// Completion is the outcome of a submitted batch
type Completion struct {
	// Jobs are the submitted jobs in submission order
	Jobs []Job
	// Detections holds one slice per job in model input pixel space
	Detections [][]postprocess.DetectResult
	// Err is set when inference failed for the whole batch
	Err error
}

// Accelerator runs the object detector on batches of jobs
type Accelerator interface {
	// Submit queues a batch for inference.  The returned channel receives
	// exactly one Completion.
	Submit(ctx context.Context, jobs []Job) (<-chan Completion, error)
	// InputSize is the square model input resolution in pixels
	InputSize() int
	// BatchSize is the maximum number of jobs accepted per Submit
	BatchSize() int
	// Close releases the accelerator
	Close() error
}

// Meta accompanies each accepted job on the metadata queue
type Meta struct {
	Seq       uint64
	Letterbox preprocess.Letterbox
}

// Result is the per frame output of the inference stage
type Result struct {
	Seq        uint64
	Frame      *frame.Frame
	Detections []postprocess.DetectResult
	Err        error
}
