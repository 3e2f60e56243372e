package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/models"
	"github.com/geowatch/geowatch/internal/app/observability/metrics"
	"github.com/geowatch/geowatch/internal/pkg/config"
)

func TestMain(m *testing.M) {
	metrics.InitAppMetrics()
	m.Run()
}

type fakeSubscriberSource struct {
	subscribers []models.Subscriber
	err         error
	expired     int
}

func (f *fakeSubscriberSource) ExpireStale(context.Context) (int64, error) {
	f.expired++
	return 0, nil
}

func (f *fakeSubscriberSource) FindEligibleContaining(context.Context, models.Point) ([]models.Subscriber, error) {
	return f.subscribers, f.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	alerts  map[string][]models.Alert
	failFor map[string]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		alerts:  make(map[string][]models.Alert),
		failFor: make(map[string]bool),
	}
}

func (n *recordingNotifier) DeliverAlert(_ context.Context, to models.Subscriber, alert models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[to.ExternalID] {
		return errors.New("connection reset")
	}
	n.alerts[to.ExternalID] = append(n.alerts[to.ExternalID], alert)
	return nil
}

func (n *recordingNotifier) DeliverReminder(context.Context, string, string) error {
	return nil
}

func (n *recordingNotifier) deliveredTo(externalID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts[externalID])
}

func testPoi(creatorID *uuid.UUID) models.POI {
	return models.POI{
		ID:        uuid.New(),
		Category:  models.CategoryCheckpoint,
		Location:  models.Point{Latitude: 40.7128, Longitude: -74.0060},
		CreatorID: creatorID,
		CreatedAt: time.Now(),
	}
}

func TestDispatch(t *testing.T) {
	cfg := config.NotifyConfig{MaxConcurrent: 4, DeliverTimeout: time.Second}

	t.Run("notifies every matched subscriber except the creator", func(t *testing.T) {
		creatorID := uuid.New()
		subs := &fakeSubscriberSource{subscribers: []models.Subscriber{
			{UserID: creatorID, ExternalID: "tg:1"},
			{UserID: uuid.New(), ExternalID: "tg:2"},
			{UserID: uuid.New(), ExternalID: "tg:3"},
		}}
		notifier := newRecordingNotifier()
		f := NewFanout(subs, notifier, cfg, zap.NewNop())

		f.Dispatch(context.Background(), testPoi(&creatorID), nil)

		assert.Zero(t, notifier.deliveredTo("tg:1"))
		assert.Equal(t, 1, notifier.deliveredTo("tg:2"))
		assert.Equal(t, 1, notifier.deliveredTo("tg:3"))
		assert.Equal(t, 1, subs.expired)
	})

	t.Run("one failing recipient does not block the rest", func(t *testing.T) {
		subs := &fakeSubscriberSource{subscribers: []models.Subscriber{
			{UserID: uuid.New(), ExternalID: "tg:a"},
			{UserID: uuid.New(), ExternalID: "tg:b"},
			{UserID: uuid.New(), ExternalID: "tg:c"},
		}}
		notifier := newRecordingNotifier()
		notifier.failFor["tg:b"] = true
		f := NewFanout(subs, notifier, cfg, zap.NewNop())

		f.Dispatch(context.Background(), testPoi(nil), nil)

		assert.Equal(t, 1, notifier.deliveredTo("tg:a"))
		assert.Zero(t, notifier.deliveredTo("tg:b"))
		assert.Equal(t, 1, notifier.deliveredTo("tg:c"))
	})

	t.Run("photo refs are capped per alert", func(t *testing.T) {
		subs := &fakeSubscriberSource{subscribers: []models.Subscriber{
			{UserID: uuid.New(), ExternalID: "tg:x"},
		}}
		notifier := newRecordingNotifier()
		f := NewFanout(subs, notifier, cfg, zap.NewNop())

		refs := make([]string, 15)
		for i := range refs {
			refs[i] = "media/ref"
		}
		f.Dispatch(context.Background(), testPoi(nil), refs)

		notifier.mu.Lock()
		got := notifier.alerts["tg:x"][0]
		notifier.mu.Unlock()
		assert.Len(t, got.PhotoRefs, 10)
	})

	t.Run("match failure delivers nothing", func(t *testing.T) {
		subs := &fakeSubscriberSource{err: models.ErrStoreUnavailable}
		notifier := newRecordingNotifier()
		f := NewFanout(subs, notifier, cfg, zap.NewNop())

		f.Dispatch(context.Background(), testPoi(nil), nil)

		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		assert.Empty(t, notifier.alerts)
	})
}
