package notify

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geowatch/geowatch/internal/app/domain/policy"
	"github.com/geowatch/geowatch/internal/app/models"
	"github.com/geowatch/geowatch/internal/app/observability/metrics"
	"github.com/geowatch/geowatch/internal/pkg/config"
)

// SubscriberSource yields the subscribers whose geofence contains a
// point. Implemented by the subscription repository.
type SubscriberSource interface {
	ExpireStale(ctx context.Context) (int64, error)
	FindEligibleContaining(ctx context.Context, p models.Point) ([]models.Subscriber, error)
}

// Fanout pushes a freshly created POI to every matching subscriber.
// Deliveries run concurrently under a bound; a failed recipient never
// blocks or aborts the rest.
type Fanout struct {
	logger   *zap.Logger
	subs     SubscriberSource
	notifier Notifier
	cfg      config.NotifyConfig
}

func NewFanout(subs SubscriberSource, notifier Notifier, cfg config.NotifyConfig, logger *zap.Logger) *Fanout {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 5 * time.Second
	}
	return &Fanout{
		logger:   logger,
		subs:     subs,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Dispatch matches and notifies subscribers for p. The creator never
// receives an alert for their own POI. Errors are logged and counted,
// never returned: fan-out runs after the POI is committed, so there is
// nothing left to roll back.
func (f *Fanout) Dispatch(ctx context.Context, p models.POI, photoRefs []string) {
	ctx, span := otel.Tracer("Fanout").Start(ctx, "Dispatch", trace.WithAttributes(
		attribute.String("poi.id", p.ID.String()),
		attribute.String("poi.category", p.Category.String()),
	))
	defer span.End()

	l := f.logger.With(zap.String("method", "Dispatch"), zap.String("poiID", p.ID.String()))

	if _, err := f.subs.ExpireStale(ctx); err != nil {
		l.Warn("Stale subscription sweep failed", zap.Any("error", err))
	}

	matched, err := f.subs.FindEligibleContaining(ctx, p.Location)
	if err != nil {
		l.Error("Failed to match subscribers", zap.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Match failed")
		return
	}

	if len(photoRefs) > policy.MaxPhotosPerAlert {
		photoRefs = photoRefs[:policy.MaxPhotosPerAlert]
	}
	alert := models.Alert{
		PoiID:       p.ID,
		Category:    p.Category,
		Description: p.Description,
		Location:    p.Location,
		CreatedAt:   p.CreatedAt,
		PhotoRefs:   photoRefs,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.MaxConcurrent)

	var delivered, failed atomic.Int64
	for _, sub := range matched {
		if p.CreatorID != nil && sub.UserID == *p.CreatorID {
			continue
		}
		sub := sub
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, f.cfg.DeliverTimeout)
			defer cancel()

			if err := f.notifier.DeliverAlert(dctx, sub, alert); err != nil {
				metrics.Get().AlertsFailedTotal.Add(dctx, 1)
				l.Warn("Alert delivery failed",
					zap.String("externalID", sub.ExternalID), zap.Any("error", err))
				failed.Add(1)
				return nil
			}
			metrics.Get().AlertsDeliveredTotal.Add(dctx, 1)
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	l.Info("Fan-out finished",
		zap.Int("matched", len(matched)),
		zap.Int64("delivered", delivered.Load()), zap.Int64("failed", failed.Load()))
	span.SetAttributes(
		attribute.Int("fanout.matched", len(matched)),
		attribute.Int64("fanout.delivered", delivered.Load()),
		attribute.Int64("fanout.failed", failed.Load()),
	)
	span.SetStatus(codes.Ok, "Fan-out finished")
}
