package hornetlock

import (
	"context"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-hornetlock/config"
	"github.com/swdee/go-hornetlock/notify"
	"github.com/swdee/go-hornetlock/postprocess"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.ModelPath = "hornet.rknn"
	cfg.PoolSize = 2
	cfg.DebugDumpDir = t.TempDir()
	cfg.DebugDumpInterval = 10 * time.Millisecond
	// raw fixes keep the expected positions exact
	cfg.FilterEnabled = false
	return cfg
}

// movingHornet reports one hornet per frame, moving right 8px per frame in
// the source image
func movingHornet(j Job) []postprocess.DetectResult {

	cx := (float32(640) + 8*float32(j.Seq%40)) * testLetterbox.Scale
	cy := float32(360)*testLetterbox.Scale + float32(testLetterbox.YPad)

	return []postprocess.DetectResult{{
		Class:       1,
		Probability: 0.8,
		Box:         postprocess.Box{X1: cx - 12, Y1: cy - 12, X2: cx + 12, Y2: cy + 12},
	}}
}

func TestPipelineEndToEnd(t *testing.T) {

	src := &fakeSource{cal: testCalibration(), count: 20, depthMM: 1200, interval: 10 * time.Millisecond}
	acc := &fakeAccelerator{
		size:   640,
		batch:  1,
		delay:  func(uint64) time.Duration { return 2 * time.Millisecond },
		detect: movingHornet,
	}
	turret := &recordingTurret{}
	alerts := make(chanNotifier, 4)

	p, err := NewPipeline(testConfig(t), Deps{
		Log:         logs.NewTestingLog(t),
		Source:      src,
		Accelerator: acc,
		Turret:      turret,
		Notifier:    alerts,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	require.NoError(t, ctx.Err(), "pipeline should stop when the source is exhausted")
	require.NoError(t, p.Close())

	m := p.Metrics()
	assert.Equal(t, uint64(20), m.FramesRead.Load())
	assert.Equal(t, m.FramesRead.Load()-m.FramesDropped.Load(), m.Inferences.Load())
	assert.Greater(t, m.Fixes.Load(), uint64(0))
	assert.Equal(t, uint64(1), m.Alerts.Load())
	assert.Greater(t, p.DebugDumps(), uint64(0))

	calls := turret.Calls()
	require.GreaterOrEqual(t, len(calls), 4)
	assert.Equal(t, "laser true", calls[0])
	assert.Contains(t, calls[1], "aim ")
	assert.Equal(t, []string{"off", "close"}, calls[len(calls)-2:])

	require.Len(t, alerts, 1)
	ev := <-alerts
	assert.NotEmpty(t, ev.ID)
	assert.InDelta(t, 1.2, ev.Z, 1e-9)

	assert.True(t, src.closed)
	assert.True(t, acc.closed)
}

func TestPipelineStopsInferenceAfterSubmitFailures(t *testing.T) {

	src := &fakeSource{cal: testCalibration(), count: 200, depthMM: 1200, interval: time.Millisecond}
	acc := &fakeAccelerator{size: 640, batch: 1, failSubmits: 1000}

	p, err := NewPipeline(testConfig(t), Deps{
		Log:         logs.NewTestingLog(t),
		Source:      src,
		Accelerator: acc,
		Turret:      &recordingTurret{},
		Notifier:    notify.LogNotifier{Log: logs.NewTestingLog(t)},
	})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err = p.Run(ctx)
	assert.ErrorIs(t, err, ErrInferenceStopped)
	assert.Zero(t, p.Metrics().Fixes.Load())
}

func TestPipelineKeepsMetadataUnderBackpressure(t *testing.T) {

	// inference far slower than the camera keeps every queue full
	src := &fakeSource{cal: testCalibration(), count: 80, depthMM: 1200, interval: time.Millisecond}
	acc := &fakeAccelerator{
		size:   640,
		batch:  2,
		delay:  func(uint64) time.Duration { return 15 * time.Millisecond },
		detect: movingHornet,
	}

	cfg := testConfig(t)
	cfg.BatchSize = 2
	cfg.PoolSize = 2

	p, err := NewPipeline(cfg, Deps{
		Log:         logs.NewTestingLog(t),
		Source:      src,
		Accelerator: acc,
		Turret:      &recordingTurret{},
		Notifier:    notify.LogNotifier{Log: logs.NewTestingLog(t)},
	})
	require.NoError(t, err)
	defer p.Close()

	inFlight := 2 * 2
	assert.Equal(t, 1+2*2+2*inFlight, cap(p.metas))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, p.Run(ctx))

	m := p.Metrics()
	assert.Greater(t, m.FramesDropped.Load(), uint64(0))
	assert.Zero(t, m.PairingLosses.Load())
	assert.Equal(t, m.FramesRead.Load()-m.FramesDropped.Load(), m.Inferences.Load())
}

func TestNewPipelineTargetLabel(t *testing.T) {

	deps := func() Deps {
		return Deps{
			Log:         logs.NewTestingLog(t),
			Source:      &fakeSource{cal: testCalibration()},
			Accelerator: &fakeAccelerator{size: 640, batch: 1},
			Turret:      &recordingTurret{},
			Notifier:    notify.LogNotifier{Log: logs.NewTestingLog(t)},
			Labels:      []string{"wasp", "hornet", "bee"},
		}
	}

	cfg := testConfig(t)
	cfg.TargetLabel = "Hornet"
	cfg.TargetClass = 0

	p, err := NewPipeline(cfg, deps())
	require.NoError(t, err)
	assert.Equal(t, 1, p.engine.TargetClass)
	require.NoError(t, p.Close())

	cfg.TargetLabel = "moth"
	_, err = NewPipeline(cfg, deps())
	assert.Error(t, err)

	cfg.TargetLabel = ""
	cfg.ModelPath = ""
	_, err = NewPipeline(cfg, deps())
	assert.ErrorIs(t, err, config.ErrInvalid)
}
