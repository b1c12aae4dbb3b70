package hornetlock

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"golang.org/x/sync/errgroup"

	"github.com/swdee/go-hornetlock/actuator"
	"github.com/swdee/go-hornetlock/config"
	"github.com/swdee/go-hornetlock/filter"
	"github.com/swdee/go-hornetlock/frame"
	"github.com/swdee/go-hornetlock/metrics"
	"github.com/swdee/go-hornetlock/notify"
	"github.com/swdee/go-hornetlock/preprocess"
	"github.com/swdee/go-hornetlock/render"
	"github.com/swdee/go-hornetlock/spatial"
	"github.com/swdee/go-hornetlock/target"
	"github.com/swdee/go-hornetlock/tracker"
)

// Deps are the external parts a Pipeline is built around
type Deps struct {
	Log         logs.Log
	Source      frame.Source
	Accelerator Accelerator
	Turret      actuator.Turret
	Notifier    notify.Notifier
	// Clock defaults to the wall clock
	Clock clock.Clock
	// Labels are the model class names, optional
	Labels []string
	// Metrics defaults to a fresh set
	Metrics *metrics.Metrics
}

// Pipeline owns every stage and the queues between them
type Pipeline struct {
	cfg  config.Config
	deps Deps

	resizer    *preprocess.Resizer
	lens       *spatial.OpenCV
	acquirer   *Acquirer
	dispatcher *Dispatcher
	engine     *Engine
	controller *actuator.Controller
	alerts     *notify.Dispatcher
	dumper     *render.Dumper

	jobs    chan Job
	metas   chan Meta
	results chan Result
}

// NewPipeline builds the stages for cfg.  The pipeline takes ownership of
// the source, accelerator and turret and releases them in Close.
func NewPipeline(cfg config.Config, d Deps) (*Pipeline, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if d.Clock == nil {
		d.Clock = clock.New()
	}

	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	cal := d.Source.Calibration()

	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("camera calibration: %w", err)
	}

	classID := cfg.TargetClass

	if cfg.TargetLabel != "" && len(d.Labels) > 0 {
		id, err := ClassID(d.Labels, cfg.TargetLabel)

		if err != nil {
			return nil, err
		}

		classID = id
	}

	inputSize := d.Accelerator.InputSize()

	if inputSize != cfg.InputSize {
		d.Log.Warnf("Configured input size %d differs from the model, using %d",
			cfg.InputSize, inputSize)
	}

	batch := cfg.BatchSize
	if batch > d.Accelerator.BatchSize() {
		batch = d.Accelerator.BatchSize()
	}

	dparams := DefaultDispatcherParams(batch, cfg.PoolSize)
	inFlight := dparams.MaxInFlight * batch

	p := &Pipeline{
		cfg:     cfg,
		deps:    d,
		resizer: preprocess.NewResizer(cal.Width, cal.Height, inputSize, inputSize),
		jobs:    make(chan Job, 1),
		results: make(chan Result, inFlight),
		// room for every frame between acceptance and pairing: the job slot,
		// a batch waiting to be queued, the queued batches, the batch being
		// forwarded and the results queue
		metas: make(chan Meta, 1+2*batch+2*inFlight),
	}

	lens, err := spatial.NewOpenCV(cal)

	if err != nil {
		p.resizer.Close()
		return nil, err
	}

	p.lens = lens

	p.controller = actuator.NewController(d.Turret, actuator.Params{
		OffsetX:       cfg.OffsetX,
		OffsetY:       cfg.OffsetY,
		OffsetZ:       cfg.OffsetZ,
		LaserOffDelay: cfg.LaserOffDelay,
	}, d.Clock, d.Log)

	p.alerts = notify.NewDispatcher(d.Log, d.Notifier, 1, cfg.NotifyTimeout)

	d.Metrics.SetNotifyStats(func() (uint64, uint64, uint64) {
		s := p.alerts.Stats()
		return s.Sent, s.Failed, s.Dropped
	})

	if cfg.DebugDumpDir != "" {
		dumper, err := render.NewDumper(d.Log, cfg.DebugDumpDir, cfg.DebugDumpInterval, d.Clock)

		if err != nil {
			p.resizer.Close()
			p.lens.Close()
			return nil, err
		}

		p.dumper = dumper
	}

	var smoother filter.Smoother = filter.Passthrough{}

	if cfg.FilterEnabled {
		smoother = filter.NewConstantVelocity(
			filter.DefaultConstantVelocityParams(cfg.PredictFramesAhead, float64(cfg.FPS)))
	}

	p.acquirer = NewAcquirer(d.Log, d.Source, p.resizer, p.jobs, p.metas, d.Metrics, d.Clock)
	p.dispatcher = NewDispatcher(d.Log, d.Accelerator, p.jobs, p.results, d.Metrics, d.Clock, dparams)

	p.engine = NewEngine(EngineParts{
		Log:         d.Log,
		Clock:       d.Clock,
		Metrics:     d.Metrics,
		Results:     p.results,
		Metas:       p.metas,
		TargetClass: classID,
		MinScore:    cfg.MinScore,
		Tracker: tracker.NewBYTETrackerWithParams(tracker.Params{
			FrameRate:   cfg.FPS,
			TrackBuffer: cfg.TrackBuffer,
			TrackThresh: cfg.TrackThresh,
			HighThresh:  cfg.HighThresh,
			MatchThresh: cfg.MatchThresh,
		}),
		Selector: target.NewSelector(),
		Estimator: spatial.NewEstimator(cal, p.lens, spatial.Params{
			ROISize:   cfg.ROISize,
			RadialToZ: cfg.RadialToZ,
			ParallaxX: cfg.ParallaxX,
			ParallaxY: cfg.ParallaxY,
		}),
		Smoother:   smoother,
		Stillness:  target.NewStillness(cfg.StillPixelThresh, cfg.StillDepthThresh, cfg.StillFrames),
		Controller: p.controller,
		Throttler:  notify.NewThrottler(cfg.NotifyCooldown),
		Alerts:     p.alerts,
		Trail:      tracker.NewTrail(cfg.FPS),
		Dumper:     p.dumper,
		Labels:     d.Labels,
	})

	d.Log.Infof("Pipeline ready: %dx%d camera, model input %d, batch %d, target class %d, turret %v, filter %v",
		cal.Width, cal.Height, inputSize, batch, classID, cfg.TurretEnabled, cfg.FilterEnabled)

	return p, nil
}

// Metrics returns the pipeline counters
func (p *Pipeline) Metrics() *metrics.Metrics {
	return p.deps.Metrics
}

// Run starts every stage and blocks until ctx is done or the source is
// exhausted.  A stopped inference stage leaves the engine and the laser
// watchdog running until shutdown and is reported on return.
func (p *Pipeline) Run(ctx context.Context) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.controller.Run(gctx)
		return nil
	})

	g.Go(func() error {
		p.alerts.Run(gctx)
		return nil
	})

	if p.dumper != nil {
		g.Go(func() error {
			p.dumper.Run(gctx)
			return nil
		})
	}

	if p.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return p.deps.Metrics.Serve(gctx, p.cfg.MetricsAddr)
		})
	}

	g.Go(func() error {
		defer close(p.metas)
		defer close(p.jobs)
		return p.acquirer.Run(gctx)
	})

	g.Go(func() error {
		if err := p.dispatcher.Run(gctx); err != nil {
			p.deps.Log.Errorf("%v, no further fixes until restart", err)
			<-gctx.Done()
		}

		close(p.results)
		return nil
	})

	g.Go(func() error {
		defer cancel()
		return p.engine.Run(gctx)
	})

	err := g.Wait()

	p.drain()

	if err == nil {
		err = p.dispatcher.Err()
	}

	return err
}

// drain releases frames still queued after the stages stopped
func (p *Pipeline) drain() {

	for j := range p.jobs {
		j.Release()
	}

	for r := range p.results {
		r.Frame.Close()
	}
}

// Close parks the turret and releases the source, accelerator and the
// native image buffers
func (p *Pipeline) Close() error {

	var firstErr error

	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(p.controller.Close())
	keep(p.deps.Accelerator.Close())
	keep(p.deps.Source.Close())
	keep(p.resizer.Close())
	keep(p.lens.Close())

	return firstErr
}

// DebugDumps returns the number of debug frames written, zero when dumping
// is disabled
func (p *Pipeline) DebugDumps() uint64 {

	if p.dumper == nil {
		return 0
	}

	return p.dumper.Written()
}
