// Package policy centralizes the business rules that govern POI
// lifetimes, confirmation eligibility, creation limits, and
// subscription liveness. Every rule is a pure function of its inputs so
// callers inject the clock.
package policy

import (
	"time"

	"github.com/geowatch/geowatch/internal/app/models"
	"github.com/geowatch/geowatch/internal/pkg/geo"
)

const (
	// ConfirmRadiusMiles is the maximum distance a confirmer may stand
	// from a POI.
	ConfirmRadiusMiles = 0.5

	// LocationFreshWindow bounds how old a reported location may be and
	// still count as a live position for confirmation.
	LocationFreshWindow = 10 * time.Minute

	// PoiVisibilityWindow is how long a POI stays active past its last
	// activity (creation or latest confirmation).
	PoiVisibilityWindow = 12 * time.Hour

	// CreationLimit caps how many POIs one user may create within
	// CreationWindow.
	CreationLimit  = 2
	CreationWindow = 12 * time.Hour

	// SubscriptionMaxAge is how long a subscription stays eligible
	// without a refreshing location update.
	SubscriptionMaxAge = 30 * 24 * time.Hour

	// LiveReminderLead is how long before a live-location session ends
	// that the continuation reminder fires.
	LiveReminderLead = 10 * time.Minute

	// MaxNearbyResults caps a single nearby query.
	MaxNearbyResults = 50

	// MaxPhotosPerPoi caps stored photos per POI; MaxPhotosPerAlert caps
	// how many references ride along on a fan-out alert.
	MaxPhotosPerPoi   = 20
	MaxPhotosPerAlert = 10
)

// ConfirmRadiusMeters is ConfirmRadiusMiles expressed in meters.
func ConfirmRadiusMeters() float64 {
	return geo.MilesToMeters(ConfirmRadiusMiles)
}

// EffectiveActivity returns the timestamp the visibility window counts
// from: the latest confirmation when one exists, otherwise creation.
func EffectiveActivity(createdAt time.Time, lastConfirmedAt *time.Time) time.Time {
	if lastConfirmedAt != nil && lastConfirmedAt.After(createdAt) {
		return *lastConfirmedAt
	}
	return createdAt
}

// PoiActive reports whether a POI with the given effective activity
// timestamp is still visible at now. The boundary is exclusive: a POI
// whose window has elapsed exactly is inactive.
func PoiActive(effectiveActivity, now time.Time) bool {
	return now.Sub(effectiveActivity) < PoiVisibilityWindow
}

// LocationFresh reports whether a position observed at observedAt still
// counts as live at now. The boundary is inclusive.
func LocationFresh(observedAt, now time.Time) bool {
	age := now.Sub(observedAt)
	return age >= 0 && age <= LocationFreshWindow
}

// WithinConfirmRadius reports whether the confirmer stands close enough
// to the POI.
func WithinConfirmRadius(user, poi models.Point) bool {
	d := geo.Distance(user.Latitude, user.Longitude, poi.Latitude, poi.Longitude)
	return d <= ConfirmRadiusMeters()
}

// SubscriptionEligible reports whether a subscription participates in
// fan-out and toggling: it must be active and refreshed within
// SubscriptionMaxAge of now.
func SubscriptionEligible(active bool, lastRefreshedAt, now time.Time) bool {
	return active && now.Sub(lastRefreshedAt) <= SubscriptionMaxAge
}

// CreationAllowed reports whether a user who created recentCount POIs
// inside the rolling window may create another.
func CreationAllowed(recentCount int) bool {
	return recentCount < CreationLimit
}

// ReminderDelay computes how long to wait before firing the live
// continuation reminder for a session ending at expiresAt. Sessions
// already inside the lead window get a minimal positive delay so the
// reminder still fires.
func ReminderDelay(expiresAt, now time.Time) time.Duration {
	d := expiresAt.Add(-LiveReminderLead).Sub(now)
	if d <= 0 {
		return time.Second
	}
	return d
}
