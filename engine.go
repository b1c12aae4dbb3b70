package hornetlock

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/swdee/go-hornetlock/actuator"
	"github.com/swdee/go-hornetlock/filter"
	"github.com/swdee/go-hornetlock/metrics"
	"github.com/swdee/go-hornetlock/notify"
	"github.com/swdee/go-hornetlock/postprocess"
	"github.com/swdee/go-hornetlock/render"
	"github.com/swdee/go-hornetlock/spatial"
	"github.com/swdee/go-hornetlock/target"
	"github.com/swdee/go-hornetlock/tracker"
)

// EngineParts are the stages the Engine drives for every result
type EngineParts struct {
	Log     logs.Log
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Results <-chan Result
	Metas   <-chan Meta

	// TargetClass and MinScore select the detections that are tracked
	TargetClass int
	MinScore    float32

	Tracker    *tracker.BYTETracker
	Selector   *target.Selector
	Estimator  *spatial.Estimator
	Smoother   filter.Smoother
	Stillness  *target.Stillness
	Controller *actuator.Controller
	Throttler  *notify.Throttler
	Alerts     *notify.Dispatcher
	Trail      *tracker.Trail
	// Dumper is optional
	Dumper *render.Dumper
	Labels []string

	// MetaTimeout bounds the wait for the metadata of a result
	MetaTimeout time.Duration
	// IdleTimeout is how long the result queue may stay empty before it
	// is logged
	IdleTimeout time.Duration
}

// Engine pairs inference results with their metadata and turns detections
// into turret commands and alerts.  All target state is owned by the
// Engine goroutine.
type Engine struct {
	EngineParts

	state       *target.State
	pendingMeta *Meta

	trackLog logLimiter
	aimLog   logLimiter
	idleLog  logLimiter
}

// NewEngine returns an engine over the given parts
func NewEngine(p EngineParts) *Engine {

	if p.MetaTimeout <= 0 {
		p.MetaTimeout = 100 * time.Millisecond
	}

	if p.IdleTimeout <= 0 {
		p.IdleTimeout = 2 * time.Second
	}

	p.Metrics.ActiveTrack.Store(-1)

	m := p.Metrics
	p.Controller.OnLaserChange(func(on bool) {
		m.LaserOn.Store(boolGauge(on))
	})

	return &Engine{EngineParts: p}
}

// Run processes results until ctx is done or the result queue is closed
func (e *Engine) Run(ctx context.Context) error {

	for {
		select {
		case <-ctx.Done():
			return nil

		case res, ok := <-e.Results:
			if !ok {
				return nil
			}

			e.handle(ctx, res)

		case <-e.Clock.After(e.IdleTimeout):
			if ok, _ := e.idleLog.allow(e.Clock.Now()); ok {
				e.Log.Debugf("No inference results for %v", e.IdleTimeout)
			}
		}
	}
}

// handle pairs a single result and processes it.  The result frame is
// released before handle returns.
func (e *Engine) handle(ctx context.Context, res Result) {

	defer res.Frame.Close()

	meta, ok := e.pair(ctx, res.Seq)

	if !ok || res.Err != nil || res.Frame == nil {
		return
	}

	e.process(res, meta)
}

// pair returns the metadata for frame seq.  Both queues are in frame
// order, so older metadata is dropped and newer metadata is held back for
// a later result.
func (e *Engine) pair(ctx context.Context, seq uint64) (Meta, bool) {

	for {
		var m Meta

		if e.pendingMeta != nil {
			m = *e.pendingMeta
			e.pendingMeta = nil

		} else {
			select {
			case <-ctx.Done():
				return Meta{}, false

			case mm, ok := <-e.Metas:
				if !ok {
					return Meta{}, false
				}
				m = mm

			case <-e.Clock.After(e.MetaTimeout):
				e.Metrics.PairingLosses.Add(1)
				e.Log.Warnf("No metadata for frame %d within %v", seq, e.MetaTimeout)
				return Meta{}, false
			}
		}

		switch {
		case m.Seq < seq:
			e.Metrics.PairingLosses.Add(1)
			e.Log.Warnf("Dropping metadata for frame %d, no result", m.Seq)

		case m.Seq > seq:
			e.pendingMeta = &m
			e.Metrics.PairingLosses.Add(1)
			e.Log.Warnf("Dropping result for frame %d, no metadata", seq)
			return Meta{}, false

		default:
			return m, true
		}
	}
}

// process runs tracking, selection, position estimation and actuation on
// one paired frame
func (e *Engine) process(res Result, meta Meta) {

	now := e.Clock.Now()

	if !res.Frame.Timestamp.IsZero() {
		e.Metrics.ObserveLatency(now.Sub(res.Frame.Timestamp))
	}

	dets := postprocess.Filter(res.Detections, e.TargetClass, e.MinScore)
	dets = postprocess.Remap(dets, meta.Letterbox)
	e.Metrics.Detections.Add(uint64(len(dets)))

	tracks, err := e.Tracker.Update(tracker.DetectionsToObjects(dets))

	if err != nil {
		if ok, n := e.trackLog.allow(now); ok {
			e.Log.Errorf("Tracker update failed (%d similar suppressed): %v", n, err)
		}
		return
	}

	var fix *r3.Vec

	defer func() {
		e.dump(res, tracks, fix)
	}()

	track, changed := e.Selector.Select(tracks)

	if track == nil {
		if e.state != nil {
			e.Log.Infof("Target %d lost", e.state.TrackID)
		}

		e.release()
		return
	}

	id := track.GetTrackID()

	if changed || e.state == nil || e.state.TrackID != id {
		e.state = target.NewState(id, e.Smoother, e.Stillness)
		e.Trail.Reset()
		e.Metrics.TargetChanges.Add(1)
		e.Log.Infof("Engaging track %d", id)
	}

	e.Metrics.ActiveTrack.Store(int64(id))
	e.Trail.Add(track)

	cx, cy := track.Centroid()
	m, err := e.Estimator.Estimate(cx, cy, res.Frame.Depth)

	if err != nil {
		e.Metrics.SkippedFixes.Add(1)
		return
	}

	f, err := e.state.Observe(cx, cy, m.Position, now)

	if err != nil {
		e.Metrics.SkippedFixes.Add(1)
		e.Log.Warnf("Filter update: %v", err)
		return
	}

	if f.Stale {
		e.Log.Infof("Track %d has not moved for %d frames, releasing it", id, e.Stillness.Limit)
		e.Selector.MarkStale()
		e.Metrics.StaleResets.Add(1)
		e.release()
		return
	}

	pos := f.Estimate.Position
	fix = &pos

	e.Metrics.Fixes.Add(1)
	e.Metrics.SetTargetZ(pos.Z)

	if _, err := e.Controller.Engage(pos); err != nil {
		if ok, n := e.aimLog.allow(now); ok {
			e.Log.Errorf("Turret command failed (%d similar suppressed): %v", n, err)
		}
	}

	// alerts follow the resolved fix whatever the turret did with it
	if pos.Z > 0 && e.Throttler.Allow(now) {
		e.Metrics.Alerts.Add(1)
		e.Log.Infof("Hornet locked, track %d at (%.3f, %.3f, %.3f) m", id, pos.X, pos.Y, pos.Z)
		e.Alerts.Enqueue(notify.NewEvent(now, id, pos))
	}
}

// release forgets the engaged target
func (e *Engine) release() {
	e.state = nil
	e.Trail.Reset()
	e.Metrics.ActiveTrack.Store(-1)
}

// dump hands the annotated frame to the debug dumper when one is due
func (e *Engine) dump(res Result, tracks []*tracker.STrack, fix *r3.Vec) {

	if e.Dumper == nil || !e.Dumper.Due() {
		return
	}

	ov := render.Overlay{
		Tracks: tracks,
		Fix:    fix,
		Labels: e.Labels,
	}

	if e.state != nil {
		ov.ActiveID = e.state.TrackID
		_, ov.Trail = e.Trail.Points()
	}

	e.Dumper.Submit(res.Frame, ov)
}

func boolGauge(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
