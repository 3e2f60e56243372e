package subscription

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/domain/user"
	"github.com/geowatch/geowatch/internal/app/models"
)

var _ Service = (*ServiceImpl)(nil)

// LocationSource yields a user's last reported position, if any.
// Implemented by the tracker package.
type LocationSource interface {
	Get(externalID string) (models.LastLocation, bool)
}

// ToggleResult reports the state a toggle left the subscription in.
type ToggleResult struct {
	Active       bool                 `json:"active"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

// Service defines the business logic contract for geofence
// subscriptions. Geofences are always centered on the user's last
// reported location, never on a caller-supplied point.
type Service interface {
	// Set replaces the user's subscription with one centered at their
	// last known location.
	Set(ctx context.Context, externalID, displayName, lang string, radiusMeters float64) (*models.Subscription, error)
	// Toggle flips the subscription: an eligible one is paused, a
	// paused or stale one is revived at the current location.
	Toggle(ctx context.Context, externalID, displayName string) (*ToggleResult, error)
	// Get returns the user's subscription with its current active flag
	// after sweeping expired rows, so a paused geofence is still
	// reportable.
	Get(ctx context.Context, externalID string) (*models.Subscription, error)
	// Unsubscribe pauses the user's subscription.
	Unsubscribe(ctx context.Context, externalID string) error
}

type ServiceImpl struct {
	logger    *zap.Logger
	repo      Repository
	users     user.Repository
	locations LocationSource
}

func NewServiceImpl(repo Repository, users user.Repository, locations LocationSource, logger *zap.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:    logger,
		repo:      repo,
		users:     users,
		locations: locations,
	}
}

func (s *ServiceImpl) Set(ctx context.Context, externalID, displayName, lang string, radiusMeters float64) (*models.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "Set", trace.WithAttributes(
		attribute.Float64("subscription.radius_m", radiusMeters),
	))
	defer span.End()

	l := s.logger.With(zap.String("method", "Set"), zap.String("externalID", externalID))

	if radiusMeters <= 0 {
		span.SetStatus(codes.Error, "Invalid radius")
		return nil, fmt.Errorf("radius must be positive, got %f: %w", radiusMeters, models.ErrValidation)
	}

	loc, ok := s.locations.Get(externalID)
	if !ok {
		span.SetStatus(codes.Error, "No known location")
		return nil, fmt.Errorf("subscribing needs a reported location: %w", models.ErrStaleLocation)
	}

	u, err := s.users.Ensure(ctx, externalID, displayName, lang)
	if err != nil {
		l.Error("Failed to ensure user", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Ensure user failed")
		return nil, err
	}

	sub, err := s.repo.Replace(ctx, u.ID, loc.Point, radiusMeters)
	if err != nil {
		l.Error("Failed to replace subscription", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Replace failed")
		return nil, err
	}

	l.Info("Subscription set", zap.String("subscriptionID", sub.ID.String()),
		zap.Float64("radiusM", radiusMeters))
	span.SetStatus(codes.Ok, "Subscription set")
	return sub, nil
}

func (s *ServiceImpl) Toggle(ctx context.Context, externalID, displayName string) (*ToggleResult, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "Toggle")
	defer span.End()

	l := s.logger.With(zap.String("method", "Toggle"), zap.String("externalID", externalID))

	u, err := s.users.Ensure(ctx, externalID, displayName, "")
	if err != nil {
		l.Error("Failed to ensure user", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Ensure user failed")
		return nil, err
	}

	if _, err := s.repo.ExpireStale(ctx); err != nil {
		l.Warn("Stale subscription sweep failed", zap.Any("error", err))
	}

	existing, err := s.repo.GetEligible(ctx, u.ID)
	switch {
	case err == nil:
		if _, err := s.repo.Deactivate(ctx, u.ID); err != nil {
			l.Error("Failed to deactivate subscription", zap.Any("error", err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "Deactivate failed")
			return nil, err
		}
		l.Info("Subscription paused", zap.String("subscriptionID", existing.ID.String()))
		span.SetStatus(codes.Ok, "Subscription paused")
		return &ToggleResult{Active: false}, nil

	case errors.Is(err, models.ErrSubscriptionNotFound):
		hasAny, err := s.repo.HasAny(ctx, u.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Existence check failed")
			return nil, err
		}
		if !hasAny {
			span.SetStatus(codes.Error, "Nothing to toggle")
			return nil, fmt.Errorf("toggle without a prior subscription: %w", models.ErrSubscriptionNotFound)
		}

		loc, ok := s.locations.Get(externalID)
		if !ok {
			span.SetStatus(codes.Error, "No known location")
			return nil, fmt.Errorf("reviving a subscription needs a reported location: %w", models.ErrStaleLocation)
		}
		if _, err := s.repo.RefreshOnLocation(ctx, u.ID, loc.Point); err != nil {
			l.Error("Failed to revive subscription", zap.Any("error", err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "Revive failed")
			return nil, err
		}

		sub, err := s.repo.GetEligible(ctx, u.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Fetch after reactivate failed")
			return nil, err
		}
		l.Info("Subscription revived", zap.String("subscriptionID", sub.ID.String()))
		span.SetStatus(codes.Ok, "Subscription revived")
		return &ToggleResult{Active: true, Subscription: sub}, nil

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "Lookup failed")
		return nil, err
	}
}

func (s *ServiceImpl) Get(ctx context.Context, externalID string) (*models.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "Get")
	defer span.End()

	u, err := s.users.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			span.SetStatus(codes.Error, "Unknown user")
			return nil, fmt.Errorf("unknown user %q: %w", externalID, models.ErrSubscriptionNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "User lookup failed")
		return nil, err
	}

	if _, err := s.repo.ExpireStale(ctx); err != nil {
		s.logger.Warn("Stale subscription sweep failed",
			zap.String("method", "Get"), zap.Any("error", err))
	}

	// The sweep above has already flipped lapsed rows, so the stored
	// active flag is accurate and a paused geofence stays reportable.
	sub, err := s.repo.Get(ctx, u.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Lookup failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Subscription fetched")
	return sub, nil
}

func (s *ServiceImpl) Unsubscribe(ctx context.Context, externalID string) error {
	ctx, span := otel.Tracer("SubscriptionService").Start(ctx, "Unsubscribe")
	defer span.End()

	l := s.logger.With(zap.String("method", "Unsubscribe"), zap.String("externalID", externalID))

	u, err := s.users.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			span.SetStatus(codes.Error, "Unknown user")
			return fmt.Errorf("unknown user %q: %w", externalID, models.ErrSubscriptionNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "User lookup failed")
		return err
	}

	deactivated, err := s.repo.Deactivate(ctx, u.ID)
	if err != nil {
		l.Error("Failed to deactivate subscription", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Deactivate failed")
		return err
	}
	if !deactivated {
		span.SetStatus(codes.Error, "No active subscription")
		return fmt.Errorf("no active subscription for %q: %w", externalID, models.ErrSubscriptionNotFound)
	}

	l.Info("Subscription paused")
	span.SetStatus(codes.Ok, "Subscription paused")
	return nil
}
