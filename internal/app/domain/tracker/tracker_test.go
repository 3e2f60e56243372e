package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/models"
	"github.com/geowatch/geowatch/internal/app/observability/metrics"
)

func TestMain(m *testing.M) {
	metrics.InitAppMetrics()
	m.Run()
}

func TestLastLocations(t *testing.T) {
	locs := NewLastLocations(zap.NewNop())
	p := models.Point{Latitude: 40.7128, Longitude: -74.0060}
	at := time.Now()

	_, ok := locs.Get("tg:1")
	assert.False(t, ok)

	locs.Set("tg:1", p, at)
	got, ok := locs.Get("tg:1")
	assert.True(t, ok)
	assert.Equal(t, p, got.Point)
	assert.Equal(t, at, got.ObservedAt)

	// A newer report overwrites the previous one.
	p2 := models.Point{Latitude: 41, Longitude: -73}
	locs.Set("tg:1", p2, at.Add(time.Minute))
	got, ok = locs.Get("tg:1")
	assert.True(t, ok)
	assert.Equal(t, p2, got.Point)

	// Other users are unaffected.
	_, ok = locs.Get("tg:2")
	assert.False(t, ok)
}

type recordingSink struct {
	mu    sync.Mutex
	calls []string
	fired chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{fired: make(chan string, 8)}
}

func (s *recordingSink) DeliverReminder(_ context.Context, externalID, _ string) error {
	s.mu.Lock()
	s.calls = append(s.calls, externalID)
	s.mu.Unlock()
	s.fired <- externalID
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestExtenderFires(t *testing.T) {
	sink := newRecordingSink()
	e := NewExtender(sink, zap.NewNop())
	defer e.Stop()

	// A session already inside the lead window fires after the minimal
	// delay.
	e.Schedule("tg:1", "sess-1", time.Now().Add(time.Minute))

	select {
	case got := <-sink.fired:
		assert.Equal(t, "tg:1", got)
	case <-time.After(3 * time.Second):
		t.Fatal("reminder did not fire")
	}
}

func TestExtenderSupersede(t *testing.T) {
	sink := newRecordingSink()
	e := NewExtender(sink, zap.NewNop())
	defer e.Stop()

	// The second schedule for the same session replaces the first; only
	// one reminder may fire.
	e.Schedule("tg:1", "sess-1", time.Now().Add(time.Minute))
	e.Schedule("tg:1", "sess-1", time.Now().Add(2*time.Minute))

	select {
	case <-sink.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("reminder did not fire")
	}

	select {
	case <-sink.fired:
		t.Fatal("superseded timer fired as well")
	case <-time.After(1500 * time.Millisecond):
	}
	assert.Equal(t, 1, sink.count())
}

func TestExtenderCancel(t *testing.T) {
	sink := newRecordingSink()
	e := NewExtender(sink, zap.NewNop())
	defer e.Stop()

	e.Schedule("tg:1", "sess-1", time.Now().Add(time.Minute))
	e.Cancel("tg:1", "sess-1")

	select {
	case <-sink.fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestExtenderIndependentSessions(t *testing.T) {
	sink := newRecordingSink()
	e := NewExtender(sink, zap.NewNop())
	defer e.Stop()

	// Different sessions for the same user keep independent timers.
	e.Schedule("tg:1", "sess-1", time.Now().Add(time.Minute))
	e.Schedule("tg:1", "sess-2", time.Now().Add(time.Minute))

	fired := 0
	timeout := time.After(3 * time.Second)
	for fired < 2 {
		select {
		case <-sink.fired:
			fired++
		case <-timeout:
			t.Fatalf("expected 2 reminders, got %d", fired)
		}
	}
}
