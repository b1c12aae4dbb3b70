package hornetlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"

	"github.com/swdee/go-hornetlock/metrics"
)

// ErrInferenceStopped is reported once the dispatcher gives up on the
// accelerator
var ErrInferenceStopped = errors.New("inference stage stopped")

// DispatcherParams configures a Dispatcher
type DispatcherParams struct {
	// BatchSize is the maximum number of jobs per Submit, capped by the
	// accelerator
	BatchSize int
	// IdleFlush is how long a partial batch waits for more jobs
	IdleFlush time.Duration
	// MaxInFlight bounds the number of submitted but not yet forwarded
	// batches
	MaxInFlight int
	// MaxSubmitFailures is the number of consecutive Submit errors after
	// which the dispatcher stops
	MaxSubmitFailures int
}

// DefaultDispatcherParams returns params for a pool of poolSize runtimes
func DefaultDispatcherParams(batchSize, poolSize int) DispatcherParams {
	return DispatcherParams{
		BatchSize:         batchSize,
		IdleFlush:         5 * time.Millisecond,
		MaxInFlight:       poolSize,
		MaxSubmitFailures: 10,
	}
}

// Dispatcher batches jobs onto the accelerator and forwards the per frame
// results in submission order
type Dispatcher struct {
	log     logs.Log
	acc     Accelerator
	jobs    <-chan Job
	results chan<- Result
	metrics *metrics.Metrics
	clock   clock.Clock
	params  DispatcherParams

	pending  chan (<-chan Completion)
	failures int
	// submitLog is owned by the submit loop, inferLog by the forwarder
	submitLog logLimiter
	inferLog  logLimiter

	mu  sync.Mutex
	err error
}

// NewDispatcher returns a dispatcher reading jobs and writing results
func NewDispatcher(log logs.Log, acc Accelerator, jobs <-chan Job, results chan<- Result,
	m *metrics.Metrics, clk clock.Clock, p DispatcherParams) *Dispatcher {

	if p.BatchSize < 1 || p.BatchSize > acc.BatchSize() {
		p.BatchSize = acc.BatchSize()
	}

	if p.BatchSize < 1 {
		p.BatchSize = 1
	}

	if p.MaxInFlight < 1 {
		p.MaxInFlight = 1
	}

	if p.MaxSubmitFailures < 1 {
		p.MaxSubmitFailures = 1
	}

	return &Dispatcher{
		log:     log,
		acc:     acc,
		jobs:    jobs,
		results: results,
		metrics: m,
		clock:   clk,
		params:  p,
		pending: make(chan (<-chan Completion), p.MaxInFlight),
	}
}

// Err returns the error that stopped the dispatcher, if any
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Run submits batches until ctx is done, the job queue is closed or the
// accelerator keeps failing.  Every submitted batch is forwarded before Run
// returns.
func (d *Dispatcher) Run(ctx context.Context) error {

	fwdDone := make(chan struct{})

	go func() {
		defer close(fwdDone)
		d.forward(ctx)
	}()

	err := d.collect(ctx)

	close(d.pending)
	<-fwdDone

	if err != nil {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
	}

	return err
}

// collect is the submit loop
func (d *Dispatcher) collect(ctx context.Context) error {

	for {
		var first Job

		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-d.jobs:
			if !ok {
				return nil
			}
			first = j
		}

		batch := d.fill(ctx, []Job{first})

		if err := d.submit(ctx, batch); err != nil {
			return err
		}
	}
}

// fill tops the batch up until it is full or the job queue stays idle
func (d *Dispatcher) fill(ctx context.Context, batch []Job) []Job {

	if len(batch) >= d.params.BatchSize {
		return batch
	}

	timer := d.clock.Timer(d.params.IdleFlush)
	defer timer.Stop()

	for len(batch) < d.params.BatchSize {
		select {
		case <-ctx.Done():
			return batch
		case <-timer.C:
			return batch
		case j, ok := <-d.jobs:
			if !ok {
				return batch
			}
			batch = append(batch, j)
		}
	}

	return batch
}

// submit hands the batch to the accelerator and queues its future.  The
// send on pending blocks while MaxInFlight batches are outstanding.
func (d *Dispatcher) submit(ctx context.Context, batch []Job) error {

	fut, err := d.acc.Submit(ctx, batch)

	if err != nil {
		for _, j := range batch {
			j.Release()
		}

		if ctx.Err() != nil {
			return nil
		}

		d.failures++
		d.metrics.InferenceFails.Add(uint64(len(batch)))

		if ok, n := d.submitLog.allow(d.clock.Now()); ok {
			d.log.Errorf("Inference submit failed (%d similar suppressed): %v", n, err)
		}

		if d.failures >= d.params.MaxSubmitFailures {
			d.log.Errorf("Stopping inference after %d consecutive submit failures", d.failures)
			return fmt.Errorf("%w: %d consecutive submit failures, last: %w",
				ErrInferenceStopped, d.failures, err)
		}

		return nil
	}

	d.failures = 0
	d.pending <- fut

	return nil
}

// forward waits on futures in submission order and emits one Result per
// job
func (d *Dispatcher) forward(ctx context.Context) {

	for fut := range d.pending {
		c := <-fut

		for _, j := range c.Jobs {
			j.Tensor.Close()
		}

		if c.Err != nil {
			d.metrics.InferenceFails.Add(uint64(len(c.Jobs)))

			if ok, n := d.inferLog.allow(d.clock.Now()); ok {
				d.log.Errorf("Inference failed (%d similar suppressed): %v", n, c.Err)
			}
		} else {
			d.metrics.Inferences.Add(uint64(len(c.Jobs)))
		}

		for i, j := range c.Jobs {
			res := Result{Seq: j.Seq, Frame: j.Frame, Err: c.Err}

			if c.Err != nil || i >= len(c.Detections) {
				j.Frame.Close()
				res.Frame = nil

				if res.Err == nil {
					res.Err = fmt.Errorf("no detections returned for frame %d", j.Seq)
				}
			} else {
				res.Detections = c.Detections[i]
			}

			select {
			case d.results <- res:
			case <-ctx.Done():
				res.Frame.Close()
			}
		}
	}
}
