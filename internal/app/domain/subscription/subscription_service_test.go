package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/models"
)

// MockRepository is a mock implementation of Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Replace(ctx context.Context, userID uuid.UUID, center models.Point, radiusMeters float64) (*models.Subscription, error) {
	args := m.Called(ctx, userID, center, radiusMeters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepository) RefreshOnLocation(ctx context.Context, userID uuid.UUID, center models.Point) (bool, error) {
	args := m.Called(ctx, userID, center)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) Deactivate(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) Get(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepository) GetEligible(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepository) HasAny(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ExpireStale(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) FindEligibleContaining(ctx context.Context, p models.Point) ([]models.Subscriber, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Subscriber), args.Error(1)
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

type fakeLocations struct {
	locs map[string]models.LastLocation
}

func (f *fakeLocations) Get(externalID string) (models.LastLocation, bool) {
	loc, ok := f.locs[externalID]
	return loc, ok
}

var (
	testUser = &models.User{ID: uuid.New(), ExternalID: "tg:300"}
	here     = models.Point{Latitude: 40.7128, Longitude: -74.0060}
)

func newTestService(repo *MockRepository, users *MockUserRepo, locs *fakeLocations) *ServiceImpl {
	if locs == nil {
		locs = &fakeLocations{locs: map[string]models.LastLocation{}}
	}
	return NewServiceImpl(repo, users, locs, zap.NewNop())
}

func withLocation() *fakeLocations {
	return &fakeLocations{locs: map[string]models.LastLocation{
		"tg:300": {Point: here, ObservedAt: time.Now()},
	}}
}

func TestSet(t *testing.T) {
	ctx := context.Background()

	t.Run("centers geofence on last known location", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, withLocation())

		sub := &models.Subscription{ID: uuid.New(), UserID: testUser.ID, Center: here, RadiusMeters: 3000, Active: true}
		users.On("Ensure", mock.Anything, "tg:300", "Cy", "es").Return(testUser, nil).Once()
		repo.On("Replace", mock.Anything, testUser.ID, here, 3000.0).Return(sub, nil).Once()

		got, err := svc.Set(ctx, "tg:300", "Cy", "es", 3000)
		assert.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		repo.AssertExpectations(t)
	})

	t.Run("rejects without a reported location", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, nil)

		_, err := svc.Set(ctx, "tg:300", "Cy", "", 3000)
		assert.ErrorIs(t, err, models.ErrStaleLocation)
		repo.AssertNotCalled(t, "Replace")
	})

	t.Run("rejects non-positive radius", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockUserRepo), withLocation())

		_, err := svc.Set(ctx, "tg:300", "Cy", "", 0)
		assert.ErrorIs(t, err, models.ErrValidation)

		_, err = svc.Set(ctx, "tg:300", "Cy", "", -5)
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestToggle(t *testing.T) {
	ctx := context.Background()

	t.Run("eligible subscription is paused", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, withLocation())

		sub := &models.Subscription{ID: uuid.New(), UserID: testUser.ID, Active: true}
		users.On("Ensure", mock.Anything, "tg:300", "", "").Return(testUser, nil).Once()
		repo.On("ExpireStale", mock.Anything).Return(int64(0), nil).Once()
		repo.On("GetEligible", mock.Anything, testUser.ID).Return(sub, nil).Once()
		repo.On("Deactivate", mock.Anything, testUser.ID).Return(true, nil).Once()

		res, err := svc.Toggle(ctx, "tg:300", "")
		assert.NoError(t, err)
		assert.False(t, res.Active)
		repo.AssertExpectations(t)
	})

	t.Run("paused subscription is revived at current location", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, withLocation())

		revived := &models.Subscription{ID: uuid.New(), UserID: testUser.ID, Center: here, Active: true}
		users.On("Ensure", mock.Anything, "tg:300", "", "").Return(testUser, nil).Once()
		repo.On("ExpireStale", mock.Anything).Return(int64(0), nil).Once()
		repo.On("GetEligible", mock.Anything, testUser.ID).Return(nil, models.ErrSubscriptionNotFound).Once()
		repo.On("HasAny", mock.Anything, testUser.ID).Return(true, nil).Once()
		repo.On("RefreshOnLocation", mock.Anything, testUser.ID, here).Return(true, nil).Once()
		repo.On("GetEligible", mock.Anything, testUser.ID).Return(revived, nil).Once()

		res, err := svc.Toggle(ctx, "tg:300", "")
		assert.NoError(t, err)
		assert.True(t, res.Active)
		assert.Equal(t, revived.ID, res.Subscription.ID)
		repo.AssertExpectations(t)
	})

	t.Run("toggle without any prior subscription fails", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, withLocation())

		users.On("Ensure", mock.Anything, "tg:300", "", "").Return(testUser, nil).Once()
		repo.On("ExpireStale", mock.Anything).Return(int64(0), nil).Once()
		repo.On("GetEligible", mock.Anything, testUser.ID).Return(nil, models.ErrSubscriptionNotFound).Once()
		repo.On("HasAny", mock.Anything, testUser.ID).Return(false, nil).Once()

		_, err := svc.Toggle(ctx, "tg:300", "")
		assert.ErrorIs(t, err, models.ErrSubscriptionNotFound)
		repo.AssertNotCalled(t, "RefreshOnLocation")
	})

	t.Run("revival without location fails", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, nil)

		users.On("Ensure", mock.Anything, "tg:300", "", "").Return(testUser, nil).Once()
		repo.On("ExpireStale", mock.Anything).Return(int64(0), nil).Once()
		repo.On("GetEligible", mock.Anything, testUser.ID).Return(nil, models.ErrSubscriptionNotFound).Once()
		repo.On("HasAny", mock.Anything, testUser.ID).Return(true, nil).Once()

		_, err := svc.Toggle(ctx, "tg:300", "")
		assert.ErrorIs(t, err, models.ErrStaleLocation)
		repo.AssertNotCalled(t, "RefreshOnLocation")
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("sweeps expired rows before reading", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, nil)

		sub := &models.Subscription{ID: uuid.New(), UserID: testUser.ID, Active: true}
		users.On("GetByExternalID", mock.Anything, "tg:300").Return(testUser, nil).Once()
		repo.On("ExpireStale", mock.Anything).Return(int64(2), nil).Once()
		repo.On("Get", mock.Anything, testUser.ID).Return(sub, nil).Once()

		got, err := svc.Get(ctx, "tg:300")
		assert.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		repo.AssertExpectations(t)
	})

	t.Run("paused subscription still reports its state", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, nil)

		paused := &models.Subscription{ID: uuid.New(), UserID: testUser.ID, RadiusMeters: 5000, Active: false}
		users.On("GetByExternalID", mock.Anything, "tg:300").Return(testUser, nil).Once()
		repo.On("ExpireStale", mock.Anything).Return(int64(0), nil).Once()
		repo.On("Get", mock.Anything, testUser.ID).Return(paused, nil).Once()

		got, err := svc.Get(ctx, "tg:300")
		assert.NoError(t, err)
		assert.False(t, got.Active)
		assert.Equal(t, paused.RadiusMeters, got.RadiusMeters)
	})

	t.Run("unknown user maps to subscription not found", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, nil)

		users.On("GetByExternalID", mock.Anything, "tg:300").Return(nil, models.ErrValidation).Once()

		_, err := svc.Get(ctx, "tg:300")
		assert.ErrorIs(t, err, models.ErrSubscriptionNotFound)
	})
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("pauses the active subscription", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, nil)

		users.On("GetByExternalID", mock.Anything, "tg:300").Return(testUser, nil).Once()
		repo.On("Deactivate", mock.Anything, testUser.ID).Return(true, nil).Once()

		assert.NoError(t, svc.Unsubscribe(ctx, "tg:300"))
	})

	t.Run("nothing active to pause", func(t *testing.T) {
		repo := new(MockRepository)
		users := new(MockUserRepo)
		svc := newTestService(repo, users, nil)

		users.On("GetByExternalID", mock.Anything, "tg:300").Return(testUser, nil).Once()
		repo.On("Deactivate", mock.Anything, testUser.ID).Return(false, nil).Once()

		err := svc.Unsubscribe(ctx, "tg:300")
		assert.ErrorIs(t, err, models.ErrSubscriptionNotFound)
	})
}
