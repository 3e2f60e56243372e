package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/domain/tracker"
	"github.com/geowatch/geowatch/internal/app/domain/user"
	"github.com/geowatch/geowatch/internal/app/models"
	"github.com/geowatch/geowatch/internal/pkg/geo"
)

var _ Service = (*ServiceImpl)(nil)

// SubscriptionRegistry is the slice of the subscription store the
// location flow needs: recentering on movement and checking whether a
// live session deserves a reminder.
type SubscriptionRegistry interface {
	RefreshOnLocation(ctx context.Context, userID uuid.UUID, center models.Point) (bool, error)
	GetEligible(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

// UpdateRequest is a location report. LivePeriod is zero for one-shot
// position reports; live sessions carry the share duration and a
// session identifier so successive updates supersede each other.
type UpdateRequest struct {
	ExternalID  string
	DisplayName string
	Language    string
	Point       models.Point
	Live        bool
	LivePeriod  time.Duration
	SessionID   string
}

// UpdateResult reports what the location update touched.
type UpdateResult struct {
	SubscriptionRefreshed bool `json:"subscription_refreshed"`
	ReminderScheduled     bool `json:"reminder_scheduled"`
}

// Service ingests location reports: it refreshes the in-memory last
// position, recenters the user's geofence, and arms the live-session
// reminder.
type Service interface {
	UpdateLocation(ctx context.Context, req UpdateRequest) (*UpdateResult, error)
	EndLiveSession(ctx context.Context, externalID, sessionID string)
}

type ServiceImpl struct {
	logger    *zap.Logger
	users     user.Repository
	subs      SubscriptionRegistry
	locations *tracker.LastLocations
	extender  *tracker.Extender
}

func NewServiceImpl(users user.Repository, subs SubscriptionRegistry, locations *tracker.LastLocations, extender *tracker.Extender, logger *zap.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:    logger,
		users:     users,
		subs:      subs,
		locations: locations,
		extender:  extender,
	}
}

func (s *ServiceImpl) UpdateLocation(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	ctx, span := otel.Tracer("LocationService").Start(ctx, "UpdateLocation", trace.WithAttributes(
		attribute.Bool("location.live", req.Live),
	))
	defer span.End()

	l := s.logger.With(zap.String("method", "UpdateLocation"), zap.String("externalID", req.ExternalID))

	if !geo.ValidateCoordinates(req.Point.Latitude, req.Point.Longitude) {
		span.SetStatus(codes.Error, "Invalid coordinates")
		return nil, fmt.Errorf("invalid coordinates (%f, %f): %w",
			req.Point.Latitude, req.Point.Longitude, models.ErrValidation)
	}

	u, err := s.users.Ensure(ctx, req.ExternalID, req.DisplayName, req.Language)
	if err != nil {
		l.Error("Failed to ensure user", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Ensure user failed")
		return nil, err
	}

	now := time.Now()
	s.locations.Set(req.ExternalID, req.Point, now)

	res := &UpdateResult{}
	refreshed, err := s.subs.RefreshOnLocation(ctx, u.ID, req.Point)
	if err != nil {
		// The position is already recorded; a refresh failure must not
		// reject the report.
		l.Warn("Subscription refresh failed", zap.Any("error", err))
	}
	res.SubscriptionRefreshed = refreshed

	if req.Live && req.LivePeriod > 0 && req.SessionID != "" {
		if _, err := s.subs.GetEligible(ctx, u.ID); err == nil {
			s.extender.Schedule(req.ExternalID, req.SessionID, now.Add(req.LivePeriod))
			res.ReminderScheduled = true
		} else if !errors.Is(err, models.ErrSubscriptionNotFound) {
			l.Warn("Eligibility check for live reminder failed", zap.Any("error", err))
		}
	}

	span.SetAttributes(
		attribute.Bool("subscription.refreshed", res.SubscriptionRefreshed),
		attribute.Bool("reminder.scheduled", res.ReminderScheduled),
	)
	span.SetStatus(codes.Ok, "Location updated")
	return res, nil
}

// EndLiveSession drops the pending reminder when a live share stops
// early.
func (s *ServiceImpl) EndLiveSession(_ context.Context, externalID, sessionID string) {
	s.extender.Cancel(externalID, sessionID)
}
