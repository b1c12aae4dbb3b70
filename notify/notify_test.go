package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestThrottler(t *testing.T) {

	base := time.Unix(1700000000, 0)
	th := NewThrottler(5 * time.Minute)

	_, ok := th.Last()
	assert.False(t, ok)

	assert.True(t, th.Allow(base), "first alert is always allowed")
	assert.False(t, th.Allow(base.Add(time.Minute)))
	assert.False(t, th.Allow(base.Add(5*time.Minute)), "cooldown must be strictly exceeded")
	assert.True(t, th.Allow(base.Add(5*time.Minute+time.Nanosecond)))

	last, ok := th.Last()
	assert.True(t, ok)
	assert.Equal(t, base.Add(5*time.Minute+time.Nanosecond), last)
}

func TestHTTPNotifier(t *testing.T) {

	var got Event

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := NewEvent(time.Unix(1700000000, 0).UTC(), 4, r3.Vec{X: 0.1, Y: 0.2, Z: 1.5})
	require.NotEmpty(t, ev.ID)

	require.NoError(t, NewHTTPNotifier(srv.URL).Notify(context.Background(), ev))

	if diff := cmp.Diff(ev, got); diff != "" {
		t.Errorf("posted event mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPNotifierRejected(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPNotifier(srv.URL).Notify(context.Background(), Event{})
	assert.ErrorContains(t, err, "502")
}

// funcNotifier adapts a function to Notifier
type funcNotifier func(ctx context.Context, ev Event) error

func (f funcNotifier) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

func TestDispatcher(t *testing.T) {

	var mu sync.Mutex
	var delivered []int
	release := make(chan struct{})

	n := funcNotifier(func(ctx context.Context, ev Event) error {
		<-release

		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, ev.TrackID)

		if ev.TrackID == 3 {
			return errors.New("endpoint down")
		}
		return nil
	})

	d := NewDispatcher(logs.NewTestingLog(t), n, 1, time.Second)

	// queued but not yet picked up by a worker
	require.True(t, d.Enqueue(Event{TrackID: 1}))
	assert.False(t, d.Enqueue(Event{TrackID: 2}), "queue holds a single pending delivery")
	assert.Equal(t, uint64(1), d.Stats().Dropped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	release <- struct{}{}

	require.Eventually(t, func() bool { return d.Stats().Sent == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, d.Enqueue(Event{TrackID: 3}))
	release <- struct{}{}

	require.Eventually(t, func() bool { return d.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1, 3}, delivered)
	mu.Unlock()
}
