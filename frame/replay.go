package frame

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Replay is a Source that plays back a recorded colour video alongside a
// directory of 16 bit depth PNG files, one per video frame.  It is used to
// run the pipeline off device, eg: with dumps written by the debug frame
// dumper.
type Replay struct {
	video      *gocv.VideoCapture
	depthFiles []string
	cal        Calibration
	// interval is the time between frames at the nominal frame rate
	interval time.Duration
	// next is the earliest time the following frame may be returned
	next time.Time
	idx  int
	sync.Mutex
}

// NewReplay opens the video file and lists depth PNG files in depthDir
// sorted by name.  Frames are paced at the given fps.
func NewReplay(videoFile, depthDir string, cal Calibration, fps int) (*Replay, error) {

	if err := cal.Validate(); err != nil {
		return nil, err
	}

	if fps <= 0 {
		return nil, fmt.Errorf("invalid replay fps %d", fps)
	}

	depthFiles, err := filepath.Glob(filepath.Join(depthDir, "*.png"))

	if err != nil {
		return nil, fmt.Errorf("error listing depth files: %w", err)
	}

	if len(depthFiles) == 0 {
		return nil, fmt.Errorf("no depth png files found in %s", depthDir)
	}

	sort.Strings(depthFiles)

	video, err := gocv.VideoCaptureFile(videoFile)

	if err != nil {
		return nil, fmt.Errorf("error opening video file: %w", err)
	}

	return &Replay{
		video:      video,
		depthFiles: depthFiles,
		cal:        cal,
		interval:   time.Duration(float64(time.Second) / float64(fps)),
	}, nil
}

// Calibration returns the calibration the replay was created with
func (r *Replay) Calibration() Calibration {
	return r.cal
}

// Read returns the next recorded frame pair.  ErrNotReady is returned if
// called faster than the replay frame rate and io.EOF once either the
// video or the depth files are exhausted.
func (r *Replay) Read(ctx context.Context) (*Frame, error) {
	r.Lock()
	defer r.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()

	if now.Before(r.next) {
		return nil, ErrNotReady
	}

	r.next = now.Add(r.interval)

	if r.idx >= len(r.depthFiles) {
		return nil, io.EOF
	}

	img := gocv.NewMat()

	if ok := r.video.Read(&img); !ok || img.Empty() {
		img.Close()
		return nil, io.EOF
	}

	depthMat := gocv.IMRead(r.depthFiles[r.idx], gocv.IMReadUnchanged)
	defer depthMat.Close()

	depth, err := DepthFromMat(depthMat)

	if err != nil {
		img.Close()
		return nil, fmt.Errorf("error reading depth file %s: %w",
			r.depthFiles[r.idx], err)
	}

	r.idx++

	return &Frame{
		Timestamp: now,
		RGB:       img,
		Depth:     depth,
	}, nil
}

// Close the video file
func (r *Replay) Close() error {
	return r.video.Close()
}
