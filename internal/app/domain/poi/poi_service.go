package poi

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

	"github.com/geowatch/geowatch/internal/app/domain/policy"
	"github.com/geowatch/geowatch/internal/app/domain/user"
	"github.com/geowatch/geowatch/internal/app/models"
	"github.com/geowatch/geowatch/internal/app/observability/metrics"
	"github.com/geowatch/geowatch/internal/pkg/geo"
)

var _ Service = (*ServiceImpl)(nil)

// AlertDispatcher fans a freshly created POI out to matched
// subscribers. Implemented by the notify package.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, p models.POI, photoRefs []string)
}

// LocationSource yields a user's last reported position, if any.
// Implemented by the tracker package.
type LocationSource interface {
	Get(externalID string) (models.LastLocation, bool)
}

// CreatePoiRequest is a creation request from the transport layer.
// Category arrives as a wire string and is validated here.
type CreatePoiRequest struct {
	ExternalID  string
	DisplayName string
	Language    string
	Category    string
	Description string
	Location    models.Point
	PhotoRefs   []string
}

// AttachPhotosRequest appends photo references to an existing POI.
type AttachPhotosRequest struct {
	ExternalID  string
	DisplayName string
	PoiID       uuid.UUID
	PhotoRefs   []string
}

// ConfirmRequest identifies the confirmer and the target POI. The
// confirmer's position comes from the location tracker, never from the
// request itself.
type ConfirmRequest struct {
	ExternalID  string
	DisplayName string
	PoiID       uuid.UUID
}

// NearbyRequest is a radius query around a point.
type NearbyRequest struct {
	Center       models.Point
	RadiusMeters float64
	Category     string // optional filter
}

// Service defines the business logic contract for POI operations.
type Service interface {
	CreatePoi(ctx context.Context, req CreatePoiRequest) (*models.POI, error)
	AttachPhotos(ctx context.Context, req AttachPhotosRequest) (*AttachResult, error)
	Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	FindNearby(ctx context.Context, req NearbyRequest) ([]*models.PoiSummary, error)
}

type ServiceImpl struct {
	logger     *zap.Logger
	repo       Repository
	users      user.Repository
	locations  LocationSource
	dispatcher AlertDispatcher
}

func NewServiceImpl(repo Repository, users user.Repository, locations LocationSource, dispatcher AlertDispatcher, logger *zap.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:     logger,
		repo:       repo,
		users:      users,
		locations:  locations,
		dispatcher: dispatcher,
	}
}

func (s *ServiceImpl) CreatePoi(ctx context.Context, req CreatePoiRequest) (*models.POI, error) {
	ctx, span := otel.Tracer("PoiService").Start(ctx, "CreatePoi", trace.WithAttributes(
		attribute.String("poi.category", req.Category),
	))
	defer span.End()

	l := s.logger.With(zap.String("method", "CreatePoi"), zap.String("externalID", req.ExternalID))

	category, err := models.ParseCategory(req.Category)
	if err != nil {
		span.SetStatus(codes.Error, "Invalid category")
		return nil, err
	}
	if !geo.ValidateCoordinates(req.Location.Latitude, req.Location.Longitude) {
		span.SetStatus(codes.Error, "Invalid coordinates")
		return nil, fmt.Errorf("invalid coordinates (%f, %f): %w",
			req.Location.Latitude, req.Location.Longitude, models.ErrValidation)
	}

	creator, err := s.users.Ensure(ctx, req.ExternalID, req.DisplayName, req.Language)
	if err != nil {
		l.Error("Failed to ensure creator", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Ensure user failed")
		return nil, err
	}

	p, err := s.repo.CreatePoi(ctx, CreatePoiParams{
		CreatorID:   creator.ID,
		Category:    category,
		Description: req.Description,
		Location:    req.Location,
		PhotoRefs:   req.PhotoRefs,
	})
	if err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			metrics.Get().CreationsLimitedTotal.Add(ctx, 1)
			l.Warn("Creation limit reached")
		} else {
			l.Error("Failed to create poi", zap.Any("error", err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Creation failed")
		return nil, err
	}

	metrics.Get().PoisCreatedTotal.Add(ctx, 1)

	// Fan-out runs detached from the request so alert delivery never
	// delays the creator's response. Exactly once, only after the POI
	// is committed.
	go s.dispatcher.Dispatch(context.WithoutCancel(ctx), *p, req.PhotoRefs)

	l.Info("POI created", zap.String("poiID", p.ID.String()))
	span.SetAttributes(attribute.String("poi.id", p.ID.String()))
	span.SetStatus(codes.Ok, "POI created")
	return p, nil
}

func (s *ServiceImpl) AttachPhotos(ctx context.Context, req AttachPhotosRequest) (*AttachResult, error) {
	ctx, span := otel.Tracer("PoiService").Start(ctx, "AttachPhotos", trace.WithAttributes(
		attribute.String("poi.id", req.PoiID.String()),
		attribute.Int("photos.requested", len(req.PhotoRefs)),
	))
	defer span.End()

	l := s.logger.With(zap.String("method", "AttachPhotos"),
		zap.String("externalID", req.ExternalID), zap.String("poiID", req.PoiID.String()))

	if len(req.PhotoRefs) == 0 {
		span.SetStatus(codes.Error, "No photo refs")
		return nil, fmt.Errorf("photo_refs cannot be empty: %w", models.ErrValidation)
	}

	uploader, err := s.users.Ensure(ctx, req.ExternalID, req.DisplayName, "")
	if err != nil {
		l.Error("Failed to ensure uploader", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Ensure user failed")
		return nil, err
	}

	res, err := s.repo.AttachPhotos(ctx, req.PoiID, uploader.ID, req.PhotoRefs)
	if err != nil {
		l.Warn("Photo attach rejected", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Attach rejected")
		return nil, err
	}

	l.Info("Photos attached", zap.Int("added", res.Added), zap.Int("total", res.Total))
	span.SetAttributes(attribute.Int("photos.added", res.Added))
	span.SetStatus(codes.Ok, "Photos attached")
	return res, nil
}

func (s *ServiceImpl) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	ctx, span := otel.Tracer("PoiService").Start(ctx, "Confirm", trace.WithAttributes(
		attribute.String("poi.id", req.PoiID.String()),
	))
	defer span.End()

	l := s.logger.With(zap.String("method", "Confirm"),
		zap.String("externalID", req.ExternalID), zap.String("poiID", req.PoiID.String()))

	loc, ok := s.locations.Get(req.ExternalID)
	if !ok || !policy.LocationFresh(loc.ObservedAt, time.Now()) {
		span.SetStatus(codes.Error, "Stale location")
		return nil, fmt.Errorf("confirmation needs a location reported within %s: %w",
			policy.LocationFreshWindow, models.ErrStaleLocation)
	}

	confirmer, err := s.users.Ensure(ctx, req.ExternalID, req.DisplayName, "")
	if err != nil {
		l.Error("Failed to ensure confirmer", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Ensure user failed")
		return nil, err
	}

	res, err := s.repo.Confirm(ctx, req.PoiID, confirmer.ID, loc.Point)
	if err != nil {
		l.Warn("Confirmation rejected", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Confirmation rejected")
		return nil, err
	}

	if res.Created {
		metrics.Get().ConfirmationsTotal.Add(ctx, 1)
	}
	l.Info("Confirmation processed",
		zap.Bool("created", res.Created), zap.Int("confirmations", res.Confirmations))
	span.SetAttributes(attribute.Bool("confirmation.created", res.Created))
	span.SetStatus(codes.Ok, "Confirmation processed")
	return res, nil
}

func (s *ServiceImpl) FindNearby(ctx context.Context, req NearbyRequest) ([]*models.PoiSummary, error) {
	ctx, span := otel.Tracer("PoiService").Start(ctx, "FindNearby", trace.WithAttributes(
		attribute.Float64("query.radius_m", req.RadiusMeters),
	))
	defer span.End()

	if !geo.ValidateCoordinates(req.Center.Latitude, req.Center.Longitude) {
		span.SetStatus(codes.Error, "Invalid coordinates")
		return nil, fmt.Errorf("invalid coordinates (%f, %f): %w",
			req.Center.Latitude, req.Center.Longitude, models.ErrValidation)
	}
	if req.RadiusMeters <= 0 {
		span.SetStatus(codes.Error, "Invalid radius")
		return nil, fmt.Errorf("radius must be positive, got %f: %w", req.RadiusMeters, models.ErrValidation)
	}

	var category *models.Category
	if req.Category != "" {
		c, err := models.ParseCategory(req.Category)
		if err != nil {
			span.SetStatus(codes.Error, "Invalid category")
			return nil, err
		}
		category = &c
	}

	results, err := s.repo.FindNearby(ctx, req.Center, req.RadiusMeters, category)
	if err != nil {
		s.logger.Error("Failed to fetch nearby pois", zap.String("method", "FindNearby"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Nearby query failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("query.results", len(results)))
	span.SetStatus(codes.Ok, "Nearby pois fetched")
	return results, nil
}
