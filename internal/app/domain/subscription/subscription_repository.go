package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/domain/policy"
	"github.com/geowatch/geowatch/internal/app/models"
)

var _ Repository = (*RepositoryImpl)(nil)

// Repository defines the contract for geofence subscription
// persistence. Every read applies the eligibility predicate (active
// and refreshed within the staleness window) so expired rows never
// influence behavior even before lazy expiry sweeps them.
type Repository interface {
	// Replace atomically swaps the user's subscription for a new one
	// centered at center.
	Replace(ctx context.Context, userID uuid.UUID, center models.Point, radiusMeters float64) (*models.Subscription, error)
	// RefreshOnLocation recenters the user's subscription, reactivates
	// it, and stamps it refreshed. A paused or lapsed row revives on any
	// location report. Returns false when the user has no row at all.
	RefreshOnLocation(ctx context.Context, userID uuid.UUID, center models.Point) (bool, error)
	Deactivate(ctx context.Context, userID uuid.UUID) (bool, error)
	// Get returns the user's subscription row regardless of its active
	// flag, or ErrSubscriptionNotFound.
	Get(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	// GetEligible returns the user's eligible subscription, or
	// ErrSubscriptionNotFound.
	GetEligible(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	// HasAny reports whether the user has any subscription row at all,
	// eligible or not.
	HasAny(ctx context.Context, userID uuid.UUID) (bool, error)
	// ExpireStale deactivates rows whose refresh timestamp fell out of
	// the staleness window. Returns how many rows were expired.
	ExpireStale(ctx context.Context) (int64, error)
	// FindEligibleContaining returns the distinct subscribers whose
	// eligible geofence contains p.
	FindEligibleContaining(ctx context.Context, p models.Point) ([]models.Subscriber, error)
}

type RepositoryImpl struct {
	logger *zap.Logger
	pgpool *pgxpool.Pool
}

func NewRepositoryImpl(pgxpool *pgxpool.Pool, logger *zap.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgxpool,
	}
}

func (r *RepositoryImpl) Replace(ctx context.Context, userID uuid.UUID, center models.Point, radiusMeters float64) (*models.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "Replace", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscription"),
		attribute.String("db.user.id", userID.String()),
		attribute.Float64("subscription.radius_m", radiusMeters),
	))
	defer span.End()

	l := r.logger.With(zap.String("method", "Replace"), zap.String("userID", userID.String()))

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		l.Error("Failed to begin transaction", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Begin failed")
		return nil, fmt.Errorf("database error replacing subscription: %w", models.ErrStoreUnavailable)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, `DELETE FROM subscription WHERE user_id = $1`, userID); err != nil {
		l.Error("Failed to delete previous subscription", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB DELETE failed")
		return nil, fmt.Errorf("database error replacing subscription: %w", models.ErrStoreUnavailable)
	}

	sub := &models.Subscription{
		UserID:       userID,
		Center:       center,
		RadiusMeters: radiusMeters,
		Active:       true,
	}
	err = tx.QueryRow(ctx, `
        INSERT INTO subscription (user_id, center, radius_m, active, last_refreshed_at)
        VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, $4, TRUE, NOW())
        RETURNING id, created_at, last_refreshed_at`,
		userID, center.Longitude, center.Latitude, radiusMeters,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.LastRefreshedAt)
	if err != nil {
		l.Error("Failed to insert subscription", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("database error replacing subscription: %w", models.ErrStoreUnavailable)
	}

	if err = tx.Commit(ctx); err != nil {
		l.Error("Failed to commit subscription replace", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Commit failed")
		return nil, fmt.Errorf("database error replacing subscription: %w", models.ErrStoreUnavailable)
	}

	l.Info("Subscription replaced", zap.String("subscriptionID", sub.ID.String()))
	span.SetStatus(codes.Ok, "Subscription replaced")
	return sub, nil
}

func (r *RepositoryImpl) RefreshOnLocation(ctx context.Context, userID uuid.UUID, center models.Point) (bool, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "RefreshOnLocation", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscription"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	// Any row revives here: a location report is the user signalling
	// they are back, so the paused or lapsed geofence follows them.
	tag, err := r.pgpool.Exec(ctx, `
        UPDATE subscription
        SET active = TRUE,
            center = ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography,
            last_refreshed_at = NOW()
        WHERE user_id = $1`,
		userID, center.Longitude, center.Latitude,
	)
	if err != nil {
		r.logger.Error("Failed to refresh subscription",
			zap.String("method", "RefreshOnLocation"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return false, fmt.Errorf("database error refreshing subscription: %w", models.ErrStoreUnavailable)
	}

	span.SetAttributes(attribute.Bool("subscription.refreshed", tag.RowsAffected() > 0))
	span.SetStatus(codes.Ok, "Refresh attempted")
	return tag.RowsAffected() > 0, nil
}

func (r *RepositoryImpl) Deactivate(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "Deactivate", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscription"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx,
		`UPDATE subscription SET active = FALSE WHERE user_id = $1 AND active`, userID)
	if err != nil {
		r.logger.Error("Failed to deactivate subscription",
			zap.String("method", "Deactivate"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return false, fmt.Errorf("database error deactivating subscription: %w", models.ErrStoreUnavailable)
	}

	span.SetStatus(codes.Ok, "Deactivate attempted")
	return tag.RowsAffected() > 0, nil
}

func (r *RepositoryImpl) Get(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "Get", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscription"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	query := `
        SELECT id, user_id,
               ST_Y(center::geometry), ST_X(center::geometry),
               radius_m, active, created_at, last_refreshed_at
        FROM subscription
        WHERE user_id = $1`

	var sub models.Subscription
	err := r.pgpool.QueryRow(ctx, query, userID).Scan(
		&sub.ID, &sub.UserID,
		&sub.Center.Latitude, &sub.Center.Longitude,
		&sub.RadiusMeters, &sub.Active, &sub.CreatedAt, &sub.LastRefreshedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "No subscription")
			return nil, fmt.Errorf("user %s: %w", userID, models.ErrSubscriptionNotFound)
		}
		r.logger.Error("Failed to fetch subscription",
			zap.String("method", "Get"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("database error fetching subscription: %w", models.ErrStoreUnavailable)
	}

	span.SetStatus(codes.Ok, "Subscription fetched")
	return &sub, nil
}

func (r *RepositoryImpl) GetEligible(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "GetEligible", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscription"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	// Staleness is enforced at query time, not only by the lazy expiry
	// sweep.
	query := `
        SELECT id, user_id,
               ST_Y(center::geometry), ST_X(center::geometry),
               radius_m, active, created_at, last_refreshed_at
        FROM subscription
        WHERE user_id = $1 AND active AND last_refreshed_at > NOW() - $2::interval`

	var sub models.Subscription
	err := r.pgpool.QueryRow(ctx, query, userID, policy.SubscriptionMaxAge.String()).Scan(
		&sub.ID, &sub.UserID,
		&sub.Center.Latitude, &sub.Center.Longitude,
		&sub.RadiusMeters, &sub.Active, &sub.CreatedAt, &sub.LastRefreshedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "No eligible subscription")
			return nil, fmt.Errorf("user %s: %w", userID, models.ErrSubscriptionNotFound)
		}
		r.logger.Error("Failed to fetch subscription",
			zap.String("method", "GetEligible"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("database error fetching subscription: %w", models.ErrStoreUnavailable)
	}

	span.SetStatus(codes.Ok, "Subscription fetched")
	return &sub, nil
}

func (r *RepositoryImpl) HasAny(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "HasAny", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscription"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	var exists bool
	err := r.pgpool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscription WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check subscription existence",
			zap.String("method", "HasAny"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return false, fmt.Errorf("database error checking subscription: %w", models.ErrStoreUnavailable)
	}

	span.SetStatus(codes.Ok, "Existence checked")
	return exists, nil
}

func (r *RepositoryImpl) ExpireStale(ctx context.Context) (int64, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "ExpireStale", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscription"),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, `
        UPDATE subscription
        SET active = FALSE
        WHERE active AND last_refreshed_at <= NOW() - $1::interval`,
		policy.SubscriptionMaxAge.String(),
	)
	if err != nil {
		r.logger.Error("Failed to expire stale subscriptions",
			zap.String("method", "ExpireStale"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return 0, fmt.Errorf("database error expiring subscriptions: %w", models.ErrStoreUnavailable)
	}

	if n := tag.RowsAffected(); n > 0 {
		r.logger.Info("Expired stale subscriptions", zap.Int64("count", n))
	}
	span.SetAttributes(attribute.Int64("subscription.expired", tag.RowsAffected()))
	span.SetStatus(codes.Ok, "Stale subscriptions expired")
	return tag.RowsAffected(), nil
}

func (r *RepositoryImpl) FindEligibleContaining(ctx context.Context, p models.Point) ([]models.Subscriber, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "FindEligibleContaining", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscription"),
	))
	defer span.End()

	l := r.logger.With(zap.String("method", "FindEligibleContaining"))

	// DISTINCT ON keeps one row per user even if duplicates slip past
	// the one-subscription invariant.
	query := `
        SELECT DISTINCT ON (u.id) u.id, u.external_id, COALESCE(u.lang, '')
        FROM subscription s
        JOIN app_user u ON u.id = s.user_id
        WHERE ST_DWithin(s.center, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, s.radius_m)
          AND s.active AND s.last_refreshed_at > NOW() - $3::interval
        ORDER BY u.id`

	rows, err := r.pgpool.Query(ctx, query, p.Longitude, p.Latitude, policy.SubscriptionMaxAge.String())
	if err != nil {
		l.Error("Failed to query matching subscribers", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("database error matching subscribers: %w", models.ErrStoreUnavailable)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var s models.Subscriber
		if err := rows.Scan(&s.UserID, &s.ExternalID, &s.Language); err != nil {
			l.Error("Failed to scan subscriber row", zap.Any("error", err))
			span.RecordError(err)
			return nil, fmt.Errorf("database error scanning subscriber: %w", models.ErrStoreUnavailable)
		}
		subs = append(subs, s)
	}
	if err = rows.Err(); err != nil {
		l.Error("Error iterating subscriber rows", zap.Any("error", err))
		span.RecordError(err)
		return nil, fmt.Errorf("database error reading subscribers: %w", models.ErrStoreUnavailable)
	}

	span.SetAttributes(attribute.Int("subscription.matches", len(subs)))
	span.SetStatus(codes.Ok, "Subscribers matched")
	return subs, nil
}
