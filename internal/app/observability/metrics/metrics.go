package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
// Make fields public so they can be accessed from other packages.
type AppMetrics struct {
	HTTPRequestsTotal      metric.Int64Counter
	HTTPRequestDuration    metric.Float64Histogram
	PoisCreatedTotal       metric.Int64Counter
	CreationsLimitedTotal  metric.Int64Counter
	ConfirmationsTotal     metric.Int64Counter
	AlertsDeliveredTotal   metric.Int64Counter
	AlertsFailedTotal      metric.Int64Counter
	RemindersSentTotal     metric.Int64Counter
	DBQueryDurationSeconds metric.Float64Histogram
	DBQueryErrorsTotal     metric.Int64Counter
}

var (
	// Global instance of AppMetrics (initialized once)
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments ONLY ONCE.
// It gets the Meter from the globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("geowatch")
		var err error
		m := &AppMetrics{}

		m.HTTPRequestsTotal, err = meter.Int64Counter(
			"http_requests_total",
			metric.WithDescription("Total number of HTTP requests completed"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create http_requests_total: %v", err)
		}

		m.HTTPRequestDuration, err = meter.Float64Histogram(
			"http_request_duration_seconds",
			metric.WithDescription("Duration of HTTP requests in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create http_request_duration_seconds: %v", err)
		}

		m.PoisCreatedTotal, err = meter.Int64Counter(
			"pois_created_total",
			metric.WithDescription("Total number of POIs created"),
			metric.WithUnit("{poi}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create pois_created_total: %v", err)
		}

		m.CreationsLimitedTotal, err = meter.Int64Counter(
			"poi_creations_limited_total",
			metric.WithDescription("Total number of POI creations rejected by the rolling limit"),
			metric.WithUnit("{rejection}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create poi_creations_limited_total: %v", err)
		}

		m.ConfirmationsTotal, err = meter.Int64Counter(
			"poi_confirmations_total",
			metric.WithDescription("Total number of POI confirmations recorded"),
			metric.WithUnit("{confirmation}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create poi_confirmations_total: %v", err)
		}

		m.AlertsDeliveredTotal, err = meter.Int64Counter(
			"alerts_delivered_total",
			metric.WithDescription("Total number of alerts delivered to subscribers"),
			metric.WithUnit("{alert}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create alerts_delivered_total: %v", err)
		}

		m.AlertsFailedTotal, err = meter.Int64Counter(
			"alerts_failed_total",
			metric.WithDescription("Total number of alert deliveries that failed"),
			metric.WithUnit("{alert}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create alerts_failed_total: %v", err)
		}

		m.RemindersSentTotal, err = meter.Int64Counter(
			"live_reminders_sent_total",
			metric.WithDescription("Total number of live-location continuation reminders sent"),
			metric.WithUnit("{reminder}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create live_reminders_sent_total: %v", err)
		}

		m.DBQueryDurationSeconds, err = meter.Float64Histogram(
			"db_query_duration_seconds",
			metric.WithDescription("Duration of database queries in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_duration_seconds: %v", err)
		}

		m.DBQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		log.Println("Application metrics instruments initialized.")
		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance.
// Panics if InitAppMetrics was not called first.
func Get() *AppMetrics {
	if appMetrics == nil {
		panic("metrics instruments not initialized. Call metrics.InitAppMetrics() first.")
	}
	return appMetrics
}
