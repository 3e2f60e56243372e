package poi

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
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

// CreatePoiParams carries a validated creation request into the store.
type CreatePoiParams struct {
	CreatorID   uuid.UUID
	Category    models.Category
	Description string
	Location    models.Point
	PhotoRefs   []string
}

// AttachResult reports how many references an attach stored and the
// POI's total photo count afterwards. Added falls short of the request
// when the per-POI cap truncates it.
type AttachResult struct {
	Added int
	Total int
}

// ConfirmResult reports the outcome of a confirmation attempt.
type ConfirmResult struct {
	// Created is false when the user had already confirmed this POI.
	Created bool
	// Confirmations is the distinct confirmer count after the attempt.
	Confirmations int
}

// Repository defines the contract for POI persistence.
type Repository interface {
	// CreatePoi atomically enforces the per-creator rolling limit and
	// inserts the POI with its photos. Returns ErrRateLimited when the
	// creator is over the limit.
	CreatePoi(ctx context.Context, params CreatePoiParams) (*models.POI, error)
	// AttachPhotos appends photo references to an active POI, keeping
	// insertion order and the per-POI cap.
	AttachPhotos(ctx context.Context, poiID, uploaderID uuid.UUID, refs []string) (*AttachResult, error)
	// Confirm re-validates the POI under lock and records an idempotent
	// confirmation.
	Confirm(ctx context.Context, poiID, userID uuid.UUID, at models.Point) (*ConfirmResult, error)
	// FindNearby returns active POIs within radiusMeters of center,
	// nearest first.
	FindNearby(ctx context.Context, center models.Point, radiusMeters float64, category *models.Category) ([]*models.PoiSummary, error)
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

func (r *RepositoryImpl) CreatePoi(ctx context.Context, params CreatePoiParams) (*models.POI, error) {
	ctx, span := otel.Tracer("PoiRepo").Start(ctx, "CreatePoi", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "poi"),
		attribute.String("poi.category", params.Category.String()),
	))
	defer span.End()

	l := r.logger.With(zap.String("method", "CreatePoi"), zap.String("creatorID", params.CreatorID.String()))

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		l.Error("Failed to begin transaction", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Begin failed")
		return nil, fmt.Errorf("database error creating poi: %w", models.ErrStoreUnavailable)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize concurrent creations by the same user so the rolling
	// limit cannot be raced past. The lock releases at commit/rollback.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, params.CreatorID); err != nil {
		l.Error("Failed to acquire creator lock", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Advisory lock failed")
		return nil, fmt.Errorf("database error creating poi: %w", models.ErrStoreUnavailable)
	}

	var recent int
	err = tx.QueryRow(ctx, `
        SELECT COUNT(*) FROM poi
        WHERE created_by = $1 AND created_at > NOW() - $2::interval`,
		params.CreatorID, policy.CreationWindow.String(),
	).Scan(&recent)
	if err != nil {
		l.Error("Failed to count recent creations", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Limit count failed")
		return nil, fmt.Errorf("database error creating poi: %w", models.ErrStoreUnavailable)
	}
	if !policy.CreationAllowed(recent) {
		span.SetStatus(codes.Error, "Creation limit reached")
		return nil, fmt.Errorf("user created %d points in the last %s: %w",
			recent, policy.CreationWindow, models.ErrRateLimited)
	}

	p := &models.POI{
		Category:    params.Category,
		Description: params.Description,
		Location:    params.Location,
		CreatorID:   &params.CreatorID,
	}
	err = tx.QueryRow(ctx, `
        INSERT INTO poi (category, description, location, created_by)
        VALUES ($1, NULLIF($2, ''), ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5)
        RETURNING id, created_at`,
		params.Category, params.Description, params.Location.Longitude, params.Location.Latitude, params.CreatorID,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		l.Error("Failed to insert poi", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("database error creating poi: %w", models.ErrStoreUnavailable)
	}

	refs := params.PhotoRefs
	if len(refs) > policy.MaxPhotosPerPoi {
		refs = refs[:policy.MaxPhotosPerPoi]
	}
	for i, ref := range refs {
		if _, err = tx.Exec(ctx, `
            INSERT INTO poi_photo (poi_id, media_ref, position, uploader_id)
            VALUES ($1, $2, $3, $4)`,
			p.ID, ref, i, params.CreatorID,
		); err != nil {
			l.Error("Failed to insert poi photo", zap.Any("error", err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "Photo INSERT failed")
			return nil, fmt.Errorf("database error storing photo: %w", models.ErrStoreUnavailable)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		l.Error("Failed to commit poi creation", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Commit failed")
		return nil, fmt.Errorf("database error creating poi: %w", models.ErrStoreUnavailable)
	}

	l.Info("POI created", zap.String("poiID", p.ID.String()), zap.String("category", params.Category.String()))
	span.SetAttributes(attribute.String("db.poi.id", p.ID.String()))
	span.SetStatus(codes.Ok, "POI created")
	return p, nil
}

func (r *RepositoryImpl) AttachPhotos(ctx context.Context, poiID, uploaderID uuid.UUID, refs []string) (*AttachResult, error) {
	ctx, span := otel.Tracer("PoiRepo").Start(ctx, "AttachPhotos", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "poi_photo"),
		attribute.String("db.poi.id", poiID.String()),
	))
	defer span.End()

	l := r.logger.With(zap.String("method", "AttachPhotos"), zap.String("poiID", poiID.String()))

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		l.Error("Failed to begin transaction", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Begin failed")
		return nil, fmt.Errorf("database error attaching photos: %w", models.ErrStoreUnavailable)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the POI row so concurrent attaches allocate disjoint
	// positions and see a consistent photo count.
	var (
		createdAt     time.Time
		lastConfirmed *time.Time
	)
	err = tx.QueryRow(ctx, `
        SELECT p.created_at,
               (SELECT MAX(created_at) FROM poi_confirmation WHERE poi_id = p.id)
        FROM poi p
        WHERE p.id = $1
        FOR UPDATE OF p`,
		poiID,
	).Scan(&createdAt, &lastConfirmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "POI not found")
			return nil, fmt.Errorf("poi %s: %w", poiID, models.ErrPoiNotFound)
		}
		l.Error("Failed to load poi for attach", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("database error attaching photos: %w", models.ErrStoreUnavailable)
	}

	if !policy.PoiActive(policy.EffectiveActivity(createdAt, lastConfirmed), time.Now()) {
		span.SetStatus(codes.Error, "POI outdated")
		return nil, fmt.Errorf("poi %s: %w", poiID, models.ErrPoiOutdated)
	}

	var existing, next int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(position) + 1, 0) FROM poi_photo WHERE poi_id = $1`, poiID,
	).Scan(&existing, &next)
	if err != nil {
		l.Error("Failed to count poi photos", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Count failed")
		return nil, fmt.Errorf("database error attaching photos: %w", models.ErrStoreUnavailable)
	}

	if capacity := policy.MaxPhotosPerPoi - existing; len(refs) > capacity {
		if capacity < 0 {
			capacity = 0
		}
		refs = refs[:capacity]
	}
	for i, ref := range refs {
		if _, err = tx.Exec(ctx, `
            INSERT INTO poi_photo (poi_id, media_ref, position, uploader_id)
            VALUES ($1, $2, $3, $4)`,
			poiID, ref, next+i, uploaderID,
		); err != nil {
			l.Error("Failed to insert poi photo", zap.Any("error", err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "Photo INSERT failed")
			return nil, fmt.Errorf("database error storing photo: %w", models.ErrStoreUnavailable)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		l.Error("Failed to commit photo attach", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Commit failed")
		return nil, fmt.Errorf("database error attaching photos: %w", models.ErrStoreUnavailable)
	}

	res := &AttachResult{Added: len(refs), Total: existing + len(refs)}
	l.Info("Photos attached", zap.Int("added", res.Added), zap.Int("total", res.Total))
	span.SetAttributes(attribute.Int("photos.added", res.Added), attribute.Int("photos.total", res.Total))
	span.SetStatus(codes.Ok, "Photos attached")
	return res, nil
}

func (r *RepositoryImpl) Confirm(ctx context.Context, poiID, userID uuid.UUID, at models.Point) (*ConfirmResult, error) {
	ctx, span := otel.Tracer("PoiRepo").Start(ctx, "Confirm", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "poi_confirmation"),
		attribute.String("db.poi.id", poiID.String()),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(zap.String("method", "Confirm"),
		zap.String("poiID", poiID.String()), zap.String("userID", userID.String()))

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		l.Error("Failed to begin transaction", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Begin failed")
		return nil, fmt.Errorf("database error confirming poi: %w", models.ErrStoreUnavailable)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the POI row so concurrent confirmations of the same point
	// observe a consistent activity timestamp.
	var (
		createdBy      *uuid.UUID
		createdAt      time.Time
		lastConfirmed  *time.Time
		distanceMeters float64
	)
	err = tx.QueryRow(ctx, `
        SELECT p.created_by, p.created_at,
               (SELECT MAX(created_at) FROM poi_confirmation WHERE poi_id = p.id),
               ST_Distance(p.location, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography)
        FROM poi p
        WHERE p.id = $1
        FOR UPDATE OF p`,
		poiID, at.Longitude, at.Latitude,
	).Scan(&createdBy, &createdAt, &lastConfirmed, &distanceMeters)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "POI not found")
			return nil, fmt.Errorf("poi %s: %w", poiID, models.ErrPoiNotFound)
		}
		l.Error("Failed to load poi for confirmation", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("database error confirming poi: %w", models.ErrStoreUnavailable)
	}

	if !policy.PoiActive(policy.EffectiveActivity(createdAt, lastConfirmed), time.Now()) {
		span.SetStatus(codes.Error, "POI outdated")
		return nil, fmt.Errorf("poi %s: %w", poiID, models.ErrPoiOutdated)
	}
	if createdBy != nil && *createdBy == userID {
		span.SetStatus(codes.Error, "Self confirmation")
		return nil, models.ErrSelfConfirmation
	}
	if distanceMeters > policy.ConfirmRadiusMeters() {
		span.SetStatus(codes.Error, "Too far")
		return nil, fmt.Errorf("%.0fm away, limit %.0fm: %w",
			distanceMeters, policy.ConfirmRadiusMeters(), models.ErrTooFar)
	}

	tag, err := tx.Exec(ctx, `
        INSERT INTO poi_confirmation (poi_id, user_id)
        VALUES ($1, $2)
        ON CONFLICT (poi_id, user_id) DO NOTHING`,
		poiID, userID,
	)
	if err != nil {
		l.Error("Failed to insert confirmation", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("database error confirming poi: %w", models.ErrStoreUnavailable)
	}

	res := &ConfirmResult{Created: tag.RowsAffected() > 0}
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM poi_confirmation WHERE poi_id = $1`, poiID,
	).Scan(&res.Confirmations)
	if err != nil {
		l.Error("Failed to count confirmations", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Count failed")
		return nil, fmt.Errorf("database error confirming poi: %w", models.ErrStoreUnavailable)
	}

	if err = tx.Commit(ctx); err != nil {
		l.Error("Failed to commit confirmation", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Commit failed")
		return nil, fmt.Errorf("database error confirming poi: %w", models.ErrStoreUnavailable)
	}

	span.SetAttributes(attribute.Bool("confirmation.created", res.Created),
		attribute.Int("confirmation.count", res.Confirmations))
	span.SetStatus(codes.Ok, "Confirmation recorded")
	return res, nil
}

func (r *RepositoryImpl) FindNearby(ctx context.Context, center models.Point, radiusMeters float64, category *models.Category) ([]*models.PoiSummary, error) {
	ctx, span := otel.Tracer("PoiRepo").Start(ctx, "FindNearby", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "poi"),
		attribute.Float64("query.radius_m", radiusMeters),
	))
	defer span.End()

	l := r.logger.With(zap.String("method", "FindNearby"))

	qb := sq.Select(
		"p.id",
		"p.category",
		"COALESCE(p.description, '')",
		"ST_Y(p.location::geometry) AS lat",
		"ST_X(p.location::geometry) AS lon",
		"ST_Distance(p.location, ref.pt) AS distance_m",
		"COUNT(pc.user_id) AS confirmations",
		"COALESCE(MAX(pc.created_at), p.created_at) AS last_activity_at",
		"COALESCE(ph.refs, '{}') AS photo_refs",
	).
		From("poi p").
		JoinClause(sq.Expr("CROSS JOIN (SELECT ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography AS pt) ref",
			center.Longitude, center.Latitude)).
		LeftJoin("poi_confirmation pc ON pc.poi_id = p.id").
		JoinClause(`LEFT JOIN LATERAL (
            SELECT array_agg(media_ref ORDER BY position) AS refs
            FROM poi_photo WHERE poi_id = p.id
        ) ph ON TRUE`).
		Where(sq.Expr("ST_DWithin(p.location, ref.pt, ?)", radiusMeters)).
		GroupBy("p.id", "ref.pt", "ph.refs").
		Having(sq.Expr("COALESCE(MAX(pc.created_at), p.created_at) > NOW() - ?::interval",
			policy.PoiVisibilityWindow.String())).
		OrderBy("distance_m ASC").
		Limit(policy.MaxNearbyResults).
		PlaceholderFormat(sq.Dollar)

	if category != nil {
		qb = qb.Where(sq.Eq{"p.category": category.String()})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		l.Error("Failed to build nearby query", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Query build failed")
		return nil, fmt.Errorf("database error building nearby query: %w", models.ErrStoreUnavailable)
	}

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		l.Error("Failed to query nearby pois", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("database error fetching nearby pois: %w", models.ErrStoreUnavailable)
	}
	defer rows.Close()

	var results []*models.PoiSummary
	for rows.Next() {
		var s models.PoiSummary
		err := rows.Scan(
			&s.ID, &s.Category, &s.Description,
			&s.Location.Latitude, &s.Location.Longitude,
			&s.DistanceMeters, &s.Confirmations, &s.LastActivityAt, &s.PhotoRefs,
		)
		if err != nil {
			l.Error("Failed to scan nearby row", zap.Any("error", err))
			span.RecordError(err)
			return nil, fmt.Errorf("database error scanning nearby poi: %w", models.ErrStoreUnavailable)
		}
		results = append(results, &s)
	}
	if err = rows.Err(); err != nil {
		l.Error("Error iterating nearby rows", zap.Any("error", err))
		span.RecordError(err)
		return nil, fmt.Errorf("database error reading nearby pois: %w", models.ErrStoreUnavailable)
	}

	span.SetAttributes(attribute.Int("query.results", len(results)))
	span.SetStatus(codes.Ok, "Nearby pois fetched")
	return results, nil
}
