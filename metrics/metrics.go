// Package metrics exposes pipeline counters in the Prometheus text format.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters
type Metrics struct {
	FramesRead     atomic.Uint64
	FramesDropped  atomic.Uint64
	ReadErrors     atomic.Uint64
	Inferences     atomic.Uint64
	InferenceFails atomic.Uint64
	PairingLosses  atomic.Uint64
	Detections     atomic.Uint64
	Fixes          atomic.Uint64
	SkippedFixes   atomic.Uint64
	StaleResets    atomic.Uint64
	TargetChanges  atomic.Uint64
	Alerts         atomic.Uint64

	// ActiveTrack is the engaged track id, or -1
	ActiveTrack atomic.Int64
	// LaserOn is 1 while the laser is commanded on
	LaserOn atomic.Uint64
	// InferenceLatencyUs is the last frame to result latency in microseconds
	InferenceLatencyUs atomic.Uint64
	// TargetZ is the last smoothed target distance stored as float64 bits
	TargetZ atomic.Uint64

	// notify counters are read from the notification dispatcher
	notifyStats func() (sent, failed, dropped uint64)

	registry *prometheus.Registry
}

// New creates the metrics and registers them on a private registry
func New() *Metrics {

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.ActiveTrack.Store(-1)
	m.register()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "hornetlock", Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, f func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "hornetlock", Name: name, Help: help},
		f,
	))
}

func (m *Metrics) register() {

	m.counter("frames_read_total", "Frames read from the camera", &m.FramesRead)
	m.counter("frames_dropped_total", "Frames dropped because the inference queue was full", &m.FramesDropped)
	m.counter("read_errors_total", "Camera read errors", &m.ReadErrors)
	m.counter("inferences_total", "Frames returned by the accelerator", &m.Inferences)
	m.counter("inference_failures_total", "Frames lost to inference errors", &m.InferenceFails)
	m.counter("pairing_losses_total", "Results or metadata dropped while resynchronising", &m.PairingLosses)
	m.counter("detections_total", "Target class detections above the score threshold", &m.Detections)
	m.counter("fixes_total", "Resolved 3D target fixes", &m.Fixes)
	m.counter("fixes_skipped_total", "Target frames without a usable depth sample", &m.SkippedFixes)
	m.counter("stale_resets_total", "Target locks released for being still", &m.StaleResets)
	m.counter("target_changes_total", "Times a new target was engaged", &m.TargetChanges)
	m.counter("alerts_total", "Alerts allowed by the throttle", &m.Alerts)

	m.gauge("active_track", "Engaged track id, -1 when none",
		func() float64 { return float64(m.ActiveTrack.Load()) })
	m.gauge("laser_on", "Laser commanded on",
		func() float64 { return float64(m.LaserOn.Load()) })
	m.gauge("inference_latency_seconds", "Capture to result latency of the last frame",
		func() float64 { return float64(m.InferenceLatencyUs.Load()) / 1e6 })
	m.gauge("target_distance_metres", "Smoothed distance to the engaged target",
		func() float64 { return math.Float64frombits(m.TargetZ.Load()) })

	notify := func(pick func(s, f, d uint64) uint64) func() float64 {
		return func() float64 {
			if m.notifyStats == nil {
				return 0
			}
			return float64(pick(m.notifyStats()))
		}
	}

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "hornetlock", Name: "notifications_sent_total", Help: "Notifications delivered"},
		notify(func(s, f, d uint64) uint64 { return s })))
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "hornetlock", Name: "notifications_failed_total", Help: "Notification delivery failures"},
		notify(func(s, f, d uint64) uint64 { return f })))
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "hornetlock", Name: "notifications_dropped_total", Help: "Notifications dropped on a full queue"},
		notify(func(s, f, d uint64) uint64 { return d })))
}

// SetNotifyStats wires the notification dispatcher counters in, it must be
// called before the server is started
func (m *Metrics) SetNotifyStats(f func() (sent, failed, dropped uint64)) {
	m.notifyStats = f
}

// SetTargetZ records the smoothed target distance
func (m *Metrics) SetTargetZ(z float64) {
	m.TargetZ.Store(math.Float64bits(z))
}

// ObserveLatency records the capture to result latency
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.InferenceLatencyUs.Store(uint64(d.Microseconds()))
}

// Status is the JSON snapshot served at /status
type Status struct {
	FramesRead    uint64  `json:"framesRead"`
	FramesDropped uint64  `json:"framesDropped"`
	Fixes         uint64  `json:"fixes"`
	ActiveTrack   int64   `json:"activeTrack"`
	LaserOn       bool    `json:"laserOn"`
	TargetZ       float64 `json:"targetZ"`
}

// Snapshot returns the current Status
func (m *Metrics) Snapshot() Status {
	return Status{
		FramesRead:    m.FramesRead.Load(),
		FramesDropped: m.FramesDropped.Load(),
		Fixes:         m.Fixes.Load(),
		ActiveTrack:   m.ActiveTrack.Load(),
		LaserOn:       m.LaserOn.Load() == 1,
		TargetZ:       math.Float64frombits(m.TargetZ.Load()),
	}
}

// Handler returns the router serving /metrics and /status
func (m *Metrics) Handler() http.Handler {

	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	router.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})

	return router
}

// Serve runs the metrics HTTP server on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {

	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
