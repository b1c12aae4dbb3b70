package hornetlock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/swdee/go-hornetlock/frame"
	"github.com/swdee/go-hornetlock/notify"
	"github.com/swdee/go-hornetlock/postprocess"
)

// fakeAccelerator completes batches on their own goroutine after a per
// batch delay
type fakeAccelerator struct {
	size  int
	batch int
	// delay returns how long the batch starting at seq takes
	delay func(seq uint64) time.Duration
	// detect returns the detections for a job
	detect func(j Job) []postprocess.DetectResult
	// failSubmits is the number of leading Submit calls that error
	failSubmits int
	// failSeq makes the batch holding that frame complete with an error
	failSeq uint64

	mu        sync.Mutex
	submitted [][]uint64
	closed    bool
}

func (f *fakeAccelerator) Submit(ctx context.Context, jobs []Job) (<-chan Completion, error) {

	f.mu.Lock()
	if f.failSubmits > 0 {
		f.failSubmits--
		f.mu.Unlock()
		return nil, errors.New("npu busy")
	}

	seqs := make([]uint64, len(jobs))
	for i, j := range jobs {
		seqs[i] = j.Seq
	}
	f.submitted = append(f.submitted, seqs)
	f.mu.Unlock()

	done := make(chan Completion, 1)

	go func() {
		if f.delay != nil {
			time.Sleep(f.delay(jobs[0].Seq))
		}

		c := Completion{Jobs: jobs, Detections: make([][]postprocess.DetectResult, len(jobs))}

		for i, j := range jobs {
			if f.failSeq != 0 && j.Seq == f.failSeq {
				c.Err = fmt.Errorf("inference failed on frame %d", j.Seq)
				c.Detections = nil
				break
			}

			if f.detect != nil {
				c.Detections[i] = f.detect(j)
			}
		}

		done <- c
	}()

	return done, nil
}

func (f *fakeAccelerator) InputSize() int { return f.size }
func (f *fakeAccelerator) BatchSize() int { return f.batch }

func (f *fakeAccelerator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAccelerator) Submitted() [][]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]uint64(nil), f.submitted...)
}

// fakeSource yields count frames of a flat depth scene then io.EOF
type fakeSource struct {
	cal      frame.Calibration
	count    int
	depthMM  uint16
	interval time.Duration
	// notReady makes the first read return frame.ErrNotReady
	notReady bool

	mu     sync.Mutex
	read   int
	closed bool
}

func testCalibration() frame.Calibration {
	return frame.Calibration{
		Width:  1280,
		Height: 720,
		Intrinsics: [3][3]float64{
			{800, 0, 640},
			{0, 800, 360},
			{0, 0, 1},
		},
	}
}

func (s *fakeSource) Calibration() frame.Calibration {
	return s.cal
}

func (s *fakeSource) Read(ctx context.Context) (*frame.Frame, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.notReady {
		s.notReady = false
		return nil, frame.ErrNotReady
	}

	if s.read >= s.count {
		return nil, io.EOF
	}

	if s.interval > 0 {
		time.Sleep(s.interval)
	}

	s.read++

	depth := frame.NewDepthMap(s.cal.Width, s.cal.Height)
	for i := range depth.Data {
		depth.Data[i] = s.depthMM
	}

	return &frame.Frame{
		Timestamp: time.Now(),
		RGB:       gocv.NewMatWithSize(s.cal.Height, s.cal.Width, gocv.MatTypeCV8UC3),
		Depth:     depth,
	}, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// recordingTurret keeps every command in order
type recordingTurret struct {
	mu    sync.Mutex
	calls []string
	// aimErr is returned by every LookAt after recording it
	aimErr error
}

func (r *recordingTurret) add(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
	return nil
}

func (r *recordingTurret) LookAt(x, y, z float64) error {
	r.add(fmt.Sprintf("aim %.0f %.0f %.0f", x, y, z))

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aimErr
}

func (r *recordingTurret) Laser(on bool) error { return r.add(fmt.Sprintf("laser %v", on)) }
func (r *recordingTurret) Off() error          { return r.add("off") }
func (r *recordingTurret) Close() error        { return r.add("close") }

func (r *recordingTurret) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// chanNotifier hands events to the test
type chanNotifier chan notify.Event

func (c chanNotifier) Notify(ctx context.Context, ev notify.Event) error {
	select {
	case c <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// testJob returns a job with empty native buffers
func testJob(seq uint64) Job {
	return Job{
		Seq:    seq,
		Frame:  &frame.Frame{Seq: seq, RGB: gocv.NewMat()},
		Tensor: gocv.NewMat(),
	}
}
