package user

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

	"github.com/geowatch/geowatch/internal/app/models"
)

var _ Repository = (*RepositoryImpl)(nil)

// Repository defines the contract for user identity persistence.
type Repository interface {
	// Ensure upserts a user keyed by external identifier and returns the
	// stored row. Display name and language are refreshed on every call.
	Ensure(ctx context.Context, externalID, displayName, lang string) (*models.User, error)
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	SetLanguage(ctx context.Context, id uuid.UUID, lang string) error
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

func (r *RepositoryImpl) Ensure(ctx context.Context, externalID, displayName, lang string) (*models.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "Ensure", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "app_user"),
	))
	defer span.End()

	l := r.logger.With(zap.String("method", "Ensure"), zap.String("externalID", externalID))

	if externalID == "" {
		span.SetStatus(codes.Error, "Empty external ID")
		return nil, fmt.Errorf("external id cannot be empty: %w", models.ErrValidation)
	}

	// COALESCE keeps a previously stored language when the caller does
	// not supply one.
	query := `
        INSERT INTO app_user (external_id, display_name, lang)
        VALUES ($1, $2, NULLIF($3, ''))
        ON CONFLICT (external_id) DO UPDATE
        SET display_name = EXCLUDED.display_name,
            lang = COALESCE(EXCLUDED.lang, app_user.lang)
        RETURNING id, external_id, COALESCE(display_name, ''), COALESCE(lang, ''), created_at`

	var u models.User
	err := r.pgpool.QueryRow(ctx, query, externalID, displayName, lang).Scan(
		&u.ID,
		&u.ExternalID,
		&u.DisplayName,
		&u.Language,
		&u.CreatedAt,
	)
	if err != nil {
		l.Error("Failed to upsert user", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("database error ensuring user: %w", models.ErrStoreUnavailable)
	}

	span.SetAttributes(attribute.String("db.user.id", u.ID.String()))
	span.SetStatus(codes.Ok, "User ensured")
	return &u, nil
}

func (r *RepositoryImpl) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "Get", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "app_user"),
		attribute.String("db.user.id", id.String()),
	))
	defer span.End()

	query := `
        SELECT id, external_id, COALESCE(display_name, ''), COALESCE(lang, ''), created_at
        FROM app_user
        WHERE id = $1`

	var u models.User
	err := r.pgpool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.ExternalID, &u.DisplayName, &u.Language, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("user %s: %w", id, models.ErrValidation)
		}
		r.logger.Error("Failed to fetch user", zap.String("method", "Get"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("database error fetching user: %w", models.ErrStoreUnavailable)
	}

	span.SetStatus(codes.Ok, "User fetched")
	return &u, nil
}

func (r *RepositoryImpl) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetByExternalID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "app_user"),
	))
	defer span.End()

	query := `
        SELECT id, external_id, COALESCE(display_name, ''), COALESCE(lang, ''), created_at
        FROM app_user
        WHERE external_id = $1`

	var u models.User
	err := r.pgpool.QueryRow(ctx, query, externalID).Scan(
		&u.ID, &u.ExternalID, &u.DisplayName, &u.Language, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("user %q: %w", externalID, models.ErrValidation)
		}
		r.logger.Error("Failed to fetch user by external id", zap.String("method", "GetByExternalID"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("database error fetching user: %w", models.ErrStoreUnavailable)
	}

	span.SetStatus(codes.Ok, "User fetched")
	return &u, nil
}

func (r *RepositoryImpl) SetLanguage(ctx context.Context, id uuid.UUID, lang string) error {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "SetLanguage", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "app_user"),
		attribute.String("db.user.id", id.String()),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, `UPDATE app_user SET lang = $2 WHERE id = $1`, id, lang)
	if err != nil {
		r.logger.Error("Failed to update user language", zap.String("method", "SetLanguage"), zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("database error updating language: %w", models.ErrStoreUnavailable)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "User not found")
		return fmt.Errorf("user %s: %w", id, models.ErrValidation)
	}

	span.SetStatus(codes.Ok, "Language updated")
	return nil
}
