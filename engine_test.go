package hornetlock

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/swdee/go-hornetlock/actuator"
	"github.com/swdee/go-hornetlock/filter"
	"github.com/swdee/go-hornetlock/frame"
	"github.com/swdee/go-hornetlock/metrics"
	"github.com/swdee/go-hornetlock/notify"
	"github.com/swdee/go-hornetlock/postprocess"
	"github.com/swdee/go-hornetlock/preprocess"
	"github.com/swdee/go-hornetlock/spatial"
	"github.com/swdee/go-hornetlock/target"
	"github.com/swdee/go-hornetlock/tracker"
)

// letterbox of a 1280x720 frame into 640x640
var testLetterbox = preprocess.Letterbox{Scale: 0.5, XPad: 0, YPad: 140}

type engineHarness struct {
	engine *Engine
	metas  chan Meta
	turret *recordingTurret
	clock  *clock.Mock
	m      *metrics.Metrics
	alerts *notify.Dispatcher
}

func newEngineHarness(t *testing.T, stillFrames int) *engineHarness {

	log := logs.NewTestingLog(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	cal := testCalibration()
	turret := &recordingTurret{}
	m := metrics.New()
	metas := make(chan Meta, 16)
	alerts := notify.NewDispatcher(log, notify.LogNotifier{Log: log}, 4, time.Second)

	lens, err := spatial.NewOpenCV(cal)
	require.NoError(t, err)
	t.Cleanup(func() { lens.Close() })

	e := NewEngine(EngineParts{
		Log:         log,
		Clock:       clk,
		Metrics:     m,
		Metas:       metas,
		TargetClass: 1,
		MinScore:    0.15,
		Tracker:     tracker.NewBYTETrackerWithParams(tracker.DefaultParams()),
		Selector:    target.NewSelector(),
		Estimator:   spatial.NewEstimator(cal, lens, spatial.DefaultParams()),
		Smoother:    filter.Passthrough{},
		Stillness:   target.NewStillness(3, 0.01, stillFrames),
		Controller:  actuator.NewController(turret, actuator.DefaultParams(), clk, log),
		Throttler:   notify.NewThrottler(5 * time.Minute),
		Alerts:      alerts,
		Trail:       tracker.NewTrail(30),
	})

	return &engineHarness{engine: e, metas: metas, turret: turret, clock: clk, m: m, alerts: alerts}
}

// feed hands the engine a frame with one hornet whose source centroid is
// (cx, 360) one metre away
func (h *engineHarness) feed(seq uint64, cx float32) {
	h.feedAt(seq, cx, 1000)
}

// feedAt is feed with the depth of the whole frame in millimetres
func (h *engineHarness) feedAt(seq uint64, cx float32, depthMM uint16) {

	// source to model space
	mx := cx * testLetterbox.Scale
	my := float32(360)*testLetterbox.Scale + float32(testLetterbox.YPad)

	dets := []postprocess.DetectResult{
		{Class: 1, Probability: 0.9, Box: postprocess.Box{X1: mx - 10, Y1: my - 10, X2: mx + 10, Y2: my + 10}},
		// wrong class is ignored
		{Class: 0, Probability: 0.9, Box: postprocess.Box{X1: 10, Y1: 150, X2: 30, Y2: 170}},
	}

	depth := frame.NewDepthMap(1280, 720)
	for i := range depth.Data {
		depth.Data[i] = depthMM
	}

	h.metas <- Meta{Seq: seq, Letterbox: testLetterbox}

	h.engine.handle(context.Background(), Result{
		Seq:        seq,
		Frame:      &frame.Frame{Seq: seq, Timestamp: h.clock.Now(), RGB: gocv.NewMat(), Depth: depth},
		Detections: dets,
	})
}

func TestEnginePairing(t *testing.T) {

	h := newEngineHarness(t, 60)
	ctx := context.Background()

	h.metas <- Meta{Seq: 1}
	h.metas <- Meta{Seq: 3}
	h.metas <- Meta{Seq: 4}

	// metadata 1 has no result and is dropped, 3 is held back
	_, ok := h.engine.pair(ctx, 2)
	assert.False(t, ok)

	m, ok := h.engine.pair(ctx, 3)
	require.True(t, ok)
	assert.Equal(t, uint64(3), m.Seq)

	m, ok = h.engine.pair(ctx, 4)
	require.True(t, ok)
	assert.Equal(t, uint64(4), m.Seq)

	assert.Equal(t, uint64(2), h.m.PairingLosses.Load())
}

func TestEngineEngagesAndAlertsOnce(t *testing.T) {

	h := newEngineHarness(t, 60)

	h.feed(1, 640)

	calls := h.turret.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "laser true", calls[0])
	assert.Equal(t, "aim 17 10 1000", calls[1])

	assert.Equal(t, uint64(1), h.m.Detections.Load())
	assert.Equal(t, uint64(1), h.m.Fixes.Load())
	assert.Equal(t, uint64(1), h.m.Alerts.Load())
	assert.Equal(t, uint64(1), h.m.TargetChanges.Load())
	assert.NotEqual(t, int64(-1), h.m.ActiveTrack.Load())
	assert.Equal(t, uint64(1), h.m.LaserOn.Load())

	// still within the cooldown
	h.clock.Add(time.Minute)
	h.feed(2, 650)
	assert.Equal(t, uint64(1), h.m.Alerts.Load())
	assert.Equal(t, uint64(2), h.m.Fixes.Load())
	assert.Equal(t, uint64(1), h.m.TargetChanges.Load())

	h.clock.Add(5 * time.Minute)
	h.feed(3, 660)
	assert.Equal(t, uint64(2), h.m.Alerts.Load())

	// laser edge triggered, aimed three times
	assert.Len(t, h.turret.Calls(), 4)
}

func TestEngineReleasesStillTarget(t *testing.T) {

	h := newEngineHarness(t, 2)

	for seq := uint64(1); seq <= 3; seq++ {
		h.feed(seq, 640)
		assert.Zero(t, h.m.StaleResets.Load(), "frame %d", seq)
	}

	id := h.m.ActiveTrack.Load()
	require.NotEqual(t, int64(-1), id)

	// fourth still frame exceeds the limit
	h.feed(4, 640)
	assert.Equal(t, uint64(1), h.m.StaleResets.Load())
	assert.Equal(t, int64(-1), h.m.ActiveTrack.Load())
	assert.True(t, h.engine.Selector.IsStale(int(id)))

	// the stale identity is not reselected while tracked
	h.feed(5, 640)
	assert.Equal(t, int64(-1), h.m.ActiveTrack.Load())
	assert.Equal(t, uint64(3), h.m.Fixes.Load())
}

func TestEngineSkipsFixWithoutDepth(t *testing.T) {

	h := newEngineHarness(t, 60)

	h.metas <- Meta{Seq: 1, Letterbox: testLetterbox}
	h.engine.handle(context.Background(), Result{
		Seq:   1,
		Frame: &frame.Frame{Seq: 1, RGB: gocv.NewMat(), Depth: frame.NewDepthMap(1280, 720)},
		Detections: []postprocess.DetectResult{
			{Class: 1, Probability: 0.9, Box: postprocess.Box{X1: 310, Y1: 310, X2: 330, Y2: 330}},
		},
	})

	assert.Equal(t, uint64(1), h.m.SkippedFixes.Load())
	assert.Zero(t, h.m.Fixes.Load())
	assert.Empty(t, h.turret.Calls())
}

func TestEngineConsumesMetaOfFailedResult(t *testing.T) {

	h := newEngineHarness(t, 60)

	h.metas <- Meta{Seq: 1, Letterbox: testLetterbox}
	h.engine.handle(context.Background(), Result{Seq: 1, Err: assert.AnError})

	assert.Empty(t, h.metas)
	assert.Zero(t, h.m.PairingLosses.Load())

	h.feed(2, 640)
	assert.Equal(t, uint64(1), h.m.Fixes.Load())
}

func TestEngineAlertsWhenTurretFails(t *testing.T) {

	h := newEngineHarness(t, 60)
	h.turret.aimErr = errors.New("serial write failed")

	h.feed(1, 640)

	assert.Equal(t, []string{"laser true", "aim 17 10 1000"}, h.turret.Calls())
	assert.Equal(t, uint64(1), h.m.Fixes.Load())
	assert.Equal(t, uint64(1), h.m.Alerts.Load())
	assert.True(t, h.engine.Controller.LastFix().IsZero())

	h.clock.Add(6 * time.Minute)
	h.feed(2, 650)
	assert.Equal(t, uint64(2), h.m.Alerts.Load())
}

func TestEngineLaserGaugeFollowsWatchdog(t *testing.T) {

	h := newEngineHarness(t, 60)

	h.feed(1, 640)
	require.Equal(t, uint64(1), h.m.LaserOn.Load())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		h.engine.Controller.Run(ctx)
		close(done)
	}()

	// no further results, only the watchdog can clear the gauge
	require.Eventually(t, func() bool {
		h.clock.Add(100 * time.Millisecond)
		return h.m.LaserOn.Load() == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, "laser false", h.turret.Calls()[2])
}

func TestEngineSmoothsApproachingTarget(t *testing.T) {

	h := newEngineHarness(t, 60)
	h.engine.Smoother = filter.NewConstantVelocity(filter.DefaultConstantVelocityParams(3, 30))

	// centroid moves right 4px and the hornet closes 20mm per frame
	var errX, errZ []float64
	var st *target.State

	for i := 0; i < 10; i++ {
		h.clock.Add(33 * time.Millisecond)
		h.feedAt(uint64(i+1), 600+4*float32(i), uint16(1500-20*i))

		st = h.engine.state
		require.NotNil(t, st, "frame %d", i)
		require.InDelta(t, 1.5-0.02*float64(i), st.Raw.Z, 1e-9)

		errX = append(errX, math.Abs(st.Position.X-st.Raw.X))
		errZ = append(errZ, math.Abs(st.Position.Z-st.Raw.Z))
	}

	assert.Equal(t, uint64(1), h.m.TargetChanges.Load())
	assert.Equal(t, uint64(10), h.m.Fixes.Load())

	// the zero velocity prior overshoots once, then the estimate closes in
	for i := 2; i < 9; i++ {
		assert.Less(t, errZ[i+1], errZ[i], "frame %d", i+1)
	}

	assert.Less(t, errZ[9], 0.005)
	assert.Less(t, errX[9], 0.005)
	assert.InDelta(t, -0.02/0.1, st.Velocity.Z, 0.03)
	assert.Greater(t, st.Velocity.X, 0.0)

	calls := h.turret.Calls()
	require.Len(t, calls, 11)
	assert.Equal(t, "laser true", calls[0])

	cmd := h.engine.Controller.LastCommand()
	assert.True(t, cmd.Laser)
	assert.InDelta(t, st.Position.X*1000+17, cmd.X, 1e-6)
	assert.InDelta(t, st.Position.Y*1000+10, cmd.Y, 1e-6)
	assert.InDelta(t, st.Position.Z*1000, cmd.Z, 1e-6)
}
