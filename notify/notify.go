// Package notify delivers rate limited hornet sighting alerts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

// Event is a single alert
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	TrackID int       `json:"trackId"`
	// Position of the target in metres, camera frame
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NewEvent returns an event with a fresh id
func NewEvent(now time.Time, trackID int, pos r3.Vec) Event {
	return Event{
		ID:      uuid.New().String(),
		Time:    now,
		TrackID: trackID,
		X:       pos.X,
		Y:       pos.Y,
		Z:       pos.Z,
	}
}

// Notifier delivers an Event
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Throttler allows one alert per cooldown period.  It is not safe for
// concurrent use.
type Throttler struct {
	Cooldown time.Duration
	last     time.Time
	sent     bool
}

// NewThrottler returns a throttler with the given cooldown
func NewThrottler(cooldown time.Duration) *Throttler {
	return &Throttler{Cooldown: cooldown}
}

// Allow reports whether an alert may be sent at now and if so records it
func (t *Throttler) Allow(now time.Time) bool {

	if t.sent && now.Sub(t.last) <= t.Cooldown {
		return false
	}

	t.last = now
	t.sent = true

	return true
}

// Last returns the time of the last allowed alert
func (t *Throttler) Last() (time.Time, bool) {
	return t.last, t.sent
}

// Stats are the delivery counters of a Dispatcher
type Stats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

// Dispatcher delivers events on a background worker so the caller never
// waits on the network
type Dispatcher struct {
	log      logs.Log
	notifier Notifier
	timeout  time.Duration
	queue    chan Event

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher returns a dispatcher holding at most queueSize undelivered
// events.  Each delivery is bounded by timeout.
func NewDispatcher(log logs.Log, n Notifier, queueSize int, timeout time.Duration) *Dispatcher {

	if queueSize < 1 {
		queueSize = 1
	}

	return &Dispatcher{
		log:      log,
		notifier: n,
		timeout:  timeout,
		queue:    make(chan Event, queueSize),
	}
}

// Enqueue queues ev for delivery.  It returns false and drops the event
// when the queue is full.
func (d *Dispatcher) Enqueue(ev Event) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		d.dropped.Add(1)
		d.log.Warnf("Notification queue full, dropping event %s", ev.ID)
		return false
	}
}

// Run delivers queued events until ctx is done
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.notifier.Notify(ctx, ev); err != nil {
		d.failed.Add(1)
		d.log.Errorf("Notification %s failed: %v", ev.ID, err)
		return
	}

	d.sent.Add(1)
	d.log.Infof("Notification %s sent for track %d", ev.ID, ev.TrackID)
}

// Stats returns the delivery counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

// HTTPNotifier posts events as JSON
type HTTPNotifier struct {
	URL    string
	Client *http.Client
}

// NewHTTPNotifier returns a notifier posting to url
func NewHTTPNotifier(url string) *HTTPNotifier {
	return &HTTPNotifier{URL: url, Client: http.DefaultClient}
}

// Notify implements Notifier
func (h *HTTPNotifier) Notify(ctx context.Context, ev Event) error {

	body, err := json.Marshal(ev)

	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))

	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)

	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification rejected: %v (%v)", resp.Status, string(msg))
	}

	return nil
}

// LogNotifier only logs events, used when no endpoint is configured
type LogNotifier struct {
	Log logs.Log
}

// Notify implements Notifier
func (l LogNotifier) Notify(ctx context.Context, ev Event) error {
	l.Log.Infof("Hornet alert track %d at (%.2f, %.2f, %.2f) m", ev.TrackID, ev.X, ev.Y, ev.Z)
	return nil
}
