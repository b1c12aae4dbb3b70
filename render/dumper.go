package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/swdee/go-hornetlock/frame"
)

// dump is a frame copy waiting to be written
type dump struct {
	ts    time.Time
	rgb   gocv.Mat
	depth frame.DepthMap
	ov    Overlay
}

// Dumper writes annotated colour frames and raw 16 bit depth images to disk
// on its own goroutine, at most one pair per interval
type Dumper struct {
	log      logs.Log
	rgbDir   string
	depthDir string
	interval time.Duration
	clock    clock.Clock
	font     Font
	queue    chan dump
	last     time.Time
	written  atomic.Uint64
}

// NewDumper creates the frames and depth directories below dir
func NewDumper(log logs.Log, dir string, interval time.Duration, clk clock.Clock) (*Dumper, error) {

	if clk == nil {
		clk = clock.New()
	}

	d := &Dumper{
		log:      log,
		rgbDir:   filepath.Join(dir, "frames"),
		depthDir: filepath.Join(dir, "depth"),
		interval: interval,
		clock:    clk,
		font:     DefaultFont(),
		queue:    make(chan dump, 2),
	}

	for _, p := range []string{d.rgbDir, d.depthDir} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("error creating debug dump directory: %w", err)
		}
	}

	return d, nil
}

// Due reports whether the rate limit allows another dump now
func (d *Dumper) Due() bool {
	return d.last.IsZero() || d.clock.Since(d.last) >= d.interval
}

// Submit copies f and queues it for writing.  It returns false when the
// rate limit has not elapsed or the writer is behind.  Submit must only be
// called from a single goroutine.
func (d *Dumper) Submit(f *frame.Frame, ov Overlay) bool {

	if !d.Due() {
		return false
	}

	item := dump{
		ts:  f.Timestamp,
		rgb: f.RGB.Clone(),
		depth: frame.DepthMap{
			Width:  f.Depth.Width,
			Height: f.Depth.Height,
			Data:   append([]uint16(nil), f.Depth.Data...),
		},
		ov: ov,
	}

	select {
	case d.queue <- item:
		d.last = d.clock.Now()
		return true
	default:
		item.rgb.Close()
		return false
	}
}

// Run writes queued dumps until ctx is done
func (d *Dumper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case item := <-d.queue:
					item.rgb.Close()
				default:
					return
				}
			}
		case item := <-d.queue:
			if err := d.write(item); err != nil {
				d.log.Warnf("Debug dump failed: %v", err)
			}
		}
	}
}

func (d *Dumper) write(item dump) error {
	defer item.rgb.Close()

	Draw(&item.rgb, item.ov, d.font, 1)

	stamp := item.ts.UnixMilli()

	rgbFile := filepath.Join(d.rgbDir, fmt.Sprintf("rgb_%d.png", stamp))

	if ok := gocv.IMWrite(rgbFile, item.rgb); !ok {
		return fmt.Errorf("error writing %s", rgbFile)
	}

	if item.depth.Empty() {
		d.written.Add(1)
		return nil
	}

	depthMat, err := item.depth.ToMat()

	if err != nil {
		return err
	}

	defer depthMat.Close()

	depthFile := filepath.Join(d.depthDir, fmt.Sprintf("depth_%d.png", stamp))

	if ok := gocv.IMWrite(depthFile, depthMat); !ok {
		return fmt.Errorf("error writing %s", depthFile)
	}

	d.written.Add(1)

	return nil
}

// Written returns the number of frames written so far
func (d *Dumper) Written() uint64 {
	return d.written.Load()
}
