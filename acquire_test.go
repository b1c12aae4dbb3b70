package hornetlock

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-hornetlock/metrics"
	"github.com/swdee/go-hornetlock/preprocess"
)

func TestAcquirerDropsWhenQueueFull(t *testing.T) {

	src := &fakeSource{cal: testCalibration(), count: 3, depthMM: 1000, notReady: true}

	resizer := preprocess.NewResizer(1280, 720, 640, 640)
	defer resizer.Close()

	// nothing consumes the job queue
	jobs := make(chan Job, 1)
	metas := make(chan Meta, 4)
	m := metrics.New()

	a := NewAcquirer(logs.NewTestingLog(t), src, resizer, jobs, metas, m, clock.New())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Run(ctx))

	assert.Equal(t, uint64(3), m.FramesRead.Load())
	assert.Equal(t, uint64(2), m.FramesDropped.Load())
	assert.Zero(t, m.ReadErrors.Load())

	require.Len(t, jobs, 1)
	job := <-jobs
	defer job.Release()

	assert.Equal(t, uint64(1), job.Seq)
	assert.Equal(t, uint64(1), job.Frame.Seq)
	assert.Equal(t, 640, job.Tensor.Cols())
	assert.Equal(t, 640, job.Tensor.Rows())

	require.Len(t, metas, 1)
	meta := <-metas
	assert.Equal(t, uint64(1), meta.Seq)
	assert.InDelta(t, 0.5, meta.Letterbox.Scale, 1e-6)
	assert.Equal(t, 0, meta.Letterbox.XPad)
	assert.Equal(t, 140, meta.Letterbox.YPad)
}

func TestAcquirerSequencesAcceptedFrames(t *testing.T) {

	src := &fakeSource{cal: testCalibration(), count: 4, depthMM: 1000}

	resizer := preprocess.NewResizer(1280, 720, 640, 640)
	defer resizer.Close()

	jobs := make(chan Job, 4)
	metas := make(chan Meta, 4)
	m := metrics.New()

	a := NewAcquirer(logs.NewTestingLog(t), src, resizer, jobs, metas, m, clock.New())
	require.NoError(t, a.Run(context.Background()))
	close(jobs)
	close(metas)

	var seqs []uint64
	for j := range jobs {
		seqs = append(seqs, j.Seq)
		j.Release()
	}

	var metaSeqs []uint64
	for mm := range metas {
		metaSeqs = append(metaSeqs, mm.Seq)
	}

	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
	assert.Equal(t, seqs, metaSeqs)
	assert.Zero(t, m.FramesDropped.Load())
}
