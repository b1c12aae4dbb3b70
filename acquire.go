package hornetlock

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/swdee/go-hornetlock/frame"
	"github.com/swdee/go-hornetlock/metrics"
	"github.com/swdee/go-hornetlock/preprocess"
)

// Acquirer reads frames from the camera, letterboxes them into model
// tensors and offers them to the inference stage.  It never waits on
// downstream, a frame that cannot be queued is dropped.
type Acquirer struct {
	log     logs.Log
	src     frame.Source
	resizer *preprocess.Resizer
	jobs    chan<- Job
	metas   chan<- Meta
	metrics *metrics.Metrics
	clock   clock.Clock
	// Backoff is the pause after a not ready or failed read
	Backoff time.Duration

	seq     uint64
	errLog  logLimiter
	dropLog logLimiter
}

// NewAcquirer returns an acquirer feeding jobs and metas
func NewAcquirer(log logs.Log, src frame.Source, resizer *preprocess.Resizer,
	jobs chan<- Job, metas chan<- Meta, m *metrics.Metrics, clk clock.Clock) *Acquirer {

	return &Acquirer{
		log:     log,
		src:     src,
		resizer: resizer,
		jobs:    jobs,
		metas:   metas,
		metrics: m,
		clock:   clk,
		Backoff: 2 * time.Millisecond,
	}
}

// Run acquires frames until ctx is done or the source is exhausted
func (a *Acquirer) Run(ctx context.Context) error {

	for ctx.Err() == nil {

		err := a.step(ctx)

		switch {
		case err == nil:
		case errors.Is(err, frame.ErrNotReady):
			a.sleep(ctx, a.Backoff)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			a.log.Infof("Frame source exhausted")
			return nil
		default:
			a.metrics.ReadErrors.Add(1)

			if ok, n := a.errLog.allow(a.clock.Now()); ok {
				a.log.Errorf("Frame read failed (%d similar suppressed): %v", n, err)
			}

			a.sleep(ctx, a.Backoff)
		}
	}

	return nil
}

// step reads and offers a single frame
func (a *Acquirer) step(ctx context.Context) error {

	f, err := a.src.Read(ctx)

	if err != nil {
		return err
	}

	a.metrics.FramesRead.Add(1)

	tensor := gocv.NewMat()
	lb, err := a.resizer.Prepare(f.RGB, &tensor)

	if err != nil {
		tensor.Close()
		f.Close()
		return err
	}

	a.seq++
	f.Seq = a.seq

	job := Job{Seq: f.Seq, Frame: f, Tensor: tensor}

	select {
	case a.jobs <- job:
	default:
		job.Release()
		a.metrics.FramesDropped.Add(1)

		if ok, n := a.dropLog.allow(a.clock.Now()); ok {
			a.log.Warnf("Inference queue full, dropped frame %d (%d more dropped since last warning)", job.Seq, n)
		}

		return nil
	}

	select {
	case a.metas <- Meta{Seq: job.Seq, Letterbox: lb}:
	default:
		a.metrics.PairingLosses.Add(1)
		a.log.Warnf("Metadata queue full, frame %d will not be paired", job.Seq)
	}

	return nil
}

func (a *Acquirer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-a.clock.After(d):
	}
}
