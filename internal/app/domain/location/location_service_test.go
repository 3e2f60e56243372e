package location

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/domain/tracker"
	"github.com/geowatch/geowatch/internal/app/models"
	"github.com/geowatch/geowatch/internal/app/observability/metrics"
)

func TestMain(m *testing.M) {
	metrics.InitAppMetrics()
	m.Run()
}

// MockUserRepo is a mock implementation of user.Repository
type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Ensure(ctx context.Context, externalID, displayName, lang string) (*models.User, error) {
	args := m.Called(ctx, externalID, displayName, lang)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepo) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepo) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepo) SetLanguage(ctx context.Context, id uuid.UUID, lang string) error {
	args := m.Called(ctx, id, lang)
	return args.Error(0)
}

// MockSubRegistry is a mock implementation of SubscriptionRegistry
type MockSubRegistry struct {
	mock.Mock
}

func (m *MockSubRegistry) RefreshOnLocation(ctx context.Context, userID uuid.UUID, center models.Point) (bool, error) {
	args := m.Called(ctx, userID, center)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubRegistry) GetEligible(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

type nopSink struct{}

func (nopSink) DeliverReminder(context.Context, string, string) error { return nil }

func newTestService(users *MockUserRepo, subs *MockSubRegistry) (*ServiceImpl, *tracker.LastLocations, *tracker.Extender) {
	locs := tracker.NewLastLocations(zap.NewNop())
	ext := tracker.NewExtender(nopSink{}, zap.NewNop())
	return NewServiceImpl(users, subs, locs, ext, zap.NewNop()), locs, ext
}

var (
	testUser = &models.User{ID: uuid.New(), ExternalID: "tg:400"}
	here     = models.Point{Latitude: 40.7128, Longitude: -74.0060}
)

func TestUpdateLocation(t *testing.T) {
	ctx := context.Background()

	req := UpdateRequest{
		ExternalID:  "tg:400",
		DisplayName: "Dee",
		Point:       here,
	}

	t.Run("records position and refreshes the geofence", func(t *testing.T) {
		users := new(MockUserRepo)
		subs := new(MockSubRegistry)
		svc, locs, ext := newTestService(users, subs)
		defer ext.Stop()

		users.On("Ensure", mock.Anything, "tg:400", "Dee", "").Return(testUser, nil).Once()
		subs.On("RefreshOnLocation", mock.Anything, testUser.ID, here).Return(true, nil).Once()

		res, err := svc.UpdateLocation(ctx, req)
		assert.NoError(t, err)
		assert.True(t, res.SubscriptionRefreshed)
		assert.False(t, res.ReminderScheduled)

		got, ok := locs.Get("tg:400")
		assert.True(t, ok)
		assert.Equal(t, here, got.Point)
	})

	t.Run("plain report revives a paused geofence", func(t *testing.T) {
		users := new(MockUserRepo)
		subs := new(MockSubRegistry)
		svc, _, ext := newTestService(users, subs)
		defer ext.Stop()

		// A user who unsubscribed keeps their row with active=FALSE.
		// RefreshOnLocation reactivates any existing row, so sharing a
		// location is enough to be tracked again without a Toggle.
		users.On("Ensure", mock.Anything, "tg:400", "Dee", "").Return(testUser, nil).Once()
		subs.On("RefreshOnLocation", mock.Anything, testUser.ID, here).Return(true, nil).Once()

		res, err := svc.UpdateLocation(ctx, req)
		assert.NoError(t, err)
		assert.True(t, res.SubscriptionRefreshed)
		subs.AssertExpectations(t)
	})

	t.Run("invalid coordinates rejected before any side effect", func(t *testing.T) {
		users := new(MockUserRepo)
		subs := new(MockSubRegistry)
		svc, locs, ext := newTestService(users, subs)
		defer ext.Stop()

		bad := req
		bad.Point = models.Point{Latitude: 91, Longitude: 0}
		_, err := svc.UpdateLocation(ctx, bad)
		assert.ErrorIs(t, err, models.ErrValidation)

		_, ok := locs.Get("tg:400")
		assert.False(t, ok)
		users.AssertNotCalled(t, "Ensure")
	})

	t.Run("live update with eligible subscription arms the reminder", func(t *testing.T) {
		users := new(MockUserRepo)
		subs := new(MockSubRegistry)
		svc, _, ext := newTestService(users, subs)
		defer ext.Stop()

		users.On("Ensure", mock.Anything, "tg:400", "Dee", "").Return(testUser, nil).Once()
		subs.On("RefreshOnLocation", mock.Anything, testUser.ID, here).Return(true, nil).Once()
		subs.On("GetEligible", mock.Anything, testUser.ID).
			Return(&models.Subscription{ID: uuid.New(), Active: true}, nil).Once()

		live := req
		live.Live = true
		live.LivePeriod = time.Hour
		live.SessionID = "sess-9"

		res, err := svc.UpdateLocation(ctx, live)
		assert.NoError(t, err)
		assert.True(t, res.ReminderScheduled)
	})

	t.Run("live update without subscription stays silent", func(t *testing.T) {
		users := new(MockUserRepo)
		subs := new(MockSubRegistry)
		svc, _, ext := newTestService(users, subs)
		defer ext.Stop()

		users.On("Ensure", mock.Anything, "tg:400", "Dee", "").Return(testUser, nil).Once()
		subs.On("RefreshOnLocation", mock.Anything, testUser.ID, here).Return(false, nil).Once()
		subs.On("GetEligible", mock.Anything, testUser.ID).
			Return(nil, models.ErrSubscriptionNotFound).Once()

		live := req
		live.Live = true
		live.LivePeriod = time.Hour
		live.SessionID = "sess-9"

		res, err := svc.UpdateLocation(ctx, live)
		assert.NoError(t, err)
		assert.False(t, res.ReminderScheduled)
	})

	t.Run("refresh failure does not reject the report", func(t *testing.T) {
		users := new(MockUserRepo)
		subs := new(MockSubRegistry)
		svc, locs, ext := newTestService(users, subs)
		defer ext.Stop()

		users.On("Ensure", mock.Anything, "tg:400", "Dee", "").Return(testUser, nil).Once()
		subs.On("RefreshOnLocation", mock.Anything, testUser.ID, here).
			Return(false, models.ErrStoreUnavailable).Once()

		res, err := svc.UpdateLocation(ctx, req)
		assert.NoError(t, err)
		assert.False(t, res.SubscriptionRefreshed)

		_, ok := locs.Get("tg:400")
		assert.True(t, ok)
	})
}
