// Package rknn runs the hornet detector on Rockchip NPUs through the RKNN
// Toolkit2 C API.
//
// Each NPU core hosts its own runtime of the same model.  Batches submitted
// to the Backend borrow a free runtime, run on their own goroutine and hand
// their decoded detections back on a per submit channel.
package rknn

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	hornetlock "github.com/swdee/go-hornetlock"
	"github.com/swdee/go-hornetlock/postprocess"
)

// BackendParams configures the rknn Backend
type BackendParams struct {
	// ModelFile is the RKNN compiled YOLOv8 model
	ModelFile string
	// PoolSize is the number of runtimes to load
	PoolSize int
	// Cores are the NPU cores runtimes are pinned to in turn
	Cores []CoreMask
	// Decoder configures the YOLOv8 post processing
	Decoder postprocess.YOLOv8Params
}

// Backend implements hornetlock.Accelerator
type Backend struct {
	log       logs.Log
	pool      *Pool
	decoder   *postprocess.YOLOv8
	inputSize int
	batchSize int
	// outputs per detection head, 2 (box, score) or 3 (box, score, score sum)
	perBranch int
	wg        sync.WaitGroup
	closed    bool
	mu        sync.Mutex
}

// NewBackend loads the model pool and validates the model layout
func NewBackend(log logs.Log, p BackendParams) (*Backend, error) {

	pool, err := NewPool(p.PoolSize, p.ModelFile, p.Cores)

	if err != nil {
		return nil, fmt.Errorf("error creating runtime pool: %w", err)
	}

	rt, err := pool.anyRuntime(context.Background())

	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error inspecting model: %w", err)
	}

	w, h, _ := rt.InputSize()

	if w != h {
		pool.Close()
		return nil, fmt.Errorf("model input %dx%d is not square", w, h)
	}

	nOut := len(rt.outputAttrs)

	if nOut == 0 || nOut%3 != 0 {
		pool.Close()
		return nil, fmt.Errorf("model has %d outputs, expected three detection heads", nOut)
	}

	batch := rt.inputAttrs[0].Batch()
	if batch < 1 {
		batch = 1
	}

	if log != nil {
		var sb strings.Builder

		if err := rt.Query(&sb); err == nil {
			log.Debugf("rknn model %s\n%s", p.ModelFile, sb.String())
		}

		log.Infof("Loaded %s on %d runtimes, input %dx%d, batch %d",
			p.ModelFile, p.PoolSize, w, h, batch)
	}

	return &Backend{
		log:       log,
		pool:      pool,
		decoder:   postprocess.NewYOLOv8(p.Decoder),
		inputSize: w,
		batchSize: batch,
		perBranch: nOut / 3,
	}, nil
}

// InputSize implements hornetlock.Accelerator
func (b *Backend) InputSize() int {
	return b.inputSize
}

// BatchSize implements hornetlock.Accelerator
func (b *Backend) BatchSize() int {
	return b.batchSize
}

// Submit implements hornetlock.Accelerator.  It blocks until a runtime is
// free or ctx is cancelled.
func (b *Backend) Submit(ctx context.Context, jobs []hornetlock.Job) (<-chan hornetlock.Completion, error) {

	if len(jobs) == 0 || len(jobs) > b.batchSize {
		return nil, fmt.Errorf("batch of %d jobs, model accepts 1 to %d", len(jobs), b.batchSize)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("backend closed")
	}
	b.wg.Add(1)
	b.mu.Unlock()

	s, err := b.pool.get(ctx)

	if err != nil {
		b.wg.Done()
		return nil, err
	}

	done := make(chan hornetlock.Completion, 1)

	go func() {
		defer b.wg.Done()
		defer b.pool.put(s)

		dets, err := b.run(s, jobs)
		done <- hornetlock.Completion{Jobs: jobs, Detections: dets, Err: err}
	}()

	return done, nil
}

// run infers every job on the borrowed runtime
func (b *Backend) run(s *slot, jobs []hornetlock.Job) ([][]postprocess.DetectResult, error) {

	dets := make([][]postprocess.DetectResult, len(jobs))

	if s.batch == nil {
		for i, job := range jobs {
			d, err := b.infer(s.rt, job.Tensor)

			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", job.Seq, err)
			}

			dets[i] = d
		}

		return dets, nil
	}

	for _, job := range jobs {
		if err := s.batch.Add(job.Tensor); err != nil {
			return nil, fmt.Errorf("frame %d: %w", job.Seq, err)
		}
	}

	outputs, err := s.rt.Inference(s.batch.Mat())

	if err != nil {
		return nil, err
	}

	defer outputs.Free()

	for i := range jobs {
		if dets[i], err = b.decode(outputs, i); err != nil {
			return nil, err
		}
	}

	return dets, nil
}

// infer runs a single image model on one tensor
func (b *Backend) infer(rt *Runtime, tensor gocv.Mat) ([]postprocess.DetectResult, error) {

	outputs, err := rt.Inference(tensor)

	if err != nil {
		return nil, err
	}

	defer outputs.Free()

	return b.decode(outputs, 0)
}

// decode builds the detection heads of batch entry idx and runs the YOLOv8
// decoder over them
func (b *Backend) decode(outputs *Outputs, idx int) ([]postprocess.DetectResult, error) {

	branches := make([]postprocess.YOLOv8Branch, 0, 3)

	for i := 0; i+b.perBranch <= len(outputs.Output); i += b.perBranch {

		box, err := quantTensor(outputs.Output[i], idx)

		if err != nil {
			return nil, err
		}

		score, err := quantTensor(outputs.Output[i+1], idx)

		if err != nil {
			return nil, err
		}

		br := postprocess.YOLOv8Branch{Box: box, Score: score}

		if b.perBranch == 3 {
			sum, err := quantTensor(outputs.Output[i+2], idx)

			if err != nil {
				return nil, err
			}

			br.ScoreSum = &sum
		}

		branches = append(branches, br)
	}

	return b.decoder.Decode(branches, b.inputSize, b.inputSize), nil
}

// quantTensor returns the slice of out belonging to batch entry idx as an
// int8 tensor.  Half precision outputs are requantized symmetrically.
func quantTensor(out Output, idx int) (postprocess.QuantTensor, error) {

	c, h, w := out.Attr.CHW()
	n := out.Attr.PerImage()
	lo, hi := idx*n, (idx+1)*n

	qt := postprocess.QuantTensor{C: c, H: h, W: w}

	switch {
	case out.Int != nil:
		if hi > len(out.Int) {
			return qt, fmt.Errorf("output %d too small for batch entry %d", out.Index, idx)
		}

		qt.Data = out.Int[lo:hi]
		qt.ZP = out.Attr.ZP
		qt.Scale = out.Attr.Scale

	case out.Float != nil:
		if hi > len(out.Float) {
			return qt, fmt.Errorf("output %d too small for batch entry %d", out.Index, idx)
		}

		qt.Data, qt.Scale = requantize(out.Float[lo:hi])

	default:
		return qt, fmt.Errorf("output %d is empty", out.Index)
	}

	return qt, nil
}

// requantize maps float values onto int8 with a zero point of zero
func requantize(f []float32) ([]int8, float32) {

	var maxAbs float32

	for _, v := range f {
		if a := float32(math.Abs(float64(v))); a > maxAbs {
			maxAbs = a
		}
	}

	scale := maxAbs / 127
	if scale == 0 {
		scale = 1
	}

	q := make([]int8, len(f))

	for i, v := range f {
		q[i] = int8(math.Round(float64(v / scale)))
	}

	return q, scale
}

// Close waits for in flight batches and unloads every runtime
func (b *Backend) Close() error {

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	b.pool.Close()

	return nil
}
