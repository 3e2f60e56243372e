package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/geowatch/geowatch/internal/app/models"
	"github.com/geowatch/geowatch/internal/pkg/geo"
)

func TestEffectiveActivity(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := created.Add(3 * time.Hour)
	earlier := created.Add(-time.Hour)

	assert.Equal(t, created, EffectiveActivity(created, nil))
	assert.Equal(t, later, EffectiveActivity(created, &later))
	// A confirmation timestamp behind creation never rolls activity back.
	assert.Equal(t, created, EffectiveActivity(created, &earlier))
}

func TestPoiActive(t *testing.T) {
	activity := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, PoiActive(activity, activity.Add(time.Minute)))
	assert.True(t, PoiActive(activity, activity.Add(PoiVisibilityWindow-time.Second)))
	// Exactly at the boundary the POI is already inactive.
	assert.False(t, PoiActive(activity, activity.Add(PoiVisibilityWindow)))
	assert.False(t, PoiActive(activity, activity.Add(PoiVisibilityWindow+time.Hour)))
}

func TestLocationFresh(t *testing.T) {
	observed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, LocationFresh(observed, observed))
	// Exactly at the window boundary still counts as fresh.
	assert.True(t, LocationFresh(observed, observed.Add(LocationFreshWindow)))
	assert.False(t, LocationFresh(observed, observed.Add(LocationFreshWindow+time.Second)))
	// A timestamp from the future is not fresh.
	assert.False(t, LocationFresh(observed, observed.Add(-time.Minute)))
}

func TestWithinConfirmRadius(t *testing.T) {
	poi := models.Point{Latitude: 40.7128, Longitude: -74.0060}

	assert.True(t, WithinConfirmRadius(poi, poi))

	// ~700m north of the POI, inside the half-mile radius.
	near := models.Point{Latitude: 40.7191, Longitude: -74.0060}
	assert.True(t, WithinConfirmRadius(near, poi))

	// ~1.1km north, outside.
	far := models.Point{Latitude: 40.7228, Longitude: -74.0060}
	assert.False(t, WithinConfirmRadius(far, poi))
}

func TestConfirmAndAlertScenarios(t *testing.T) {
	p := models.Point{Latitude: 40.0000, Longitude: -74.0000}

	// A confirmer ~11m from the point qualifies; one 2 miles out does
	// not.
	adjacent := models.Point{Latitude: 40.0001, Longitude: -74.0000}
	assert.True(t, WithinConfirmRadius(adjacent, p))

	twoMilesNorth := models.Point{Latitude: 40.0290, Longitude: -74.0000}
	assert.InDelta(t, geo.MilesToMeters(2),
		geo.Distance(twoMilesNorth.Latitude, twoMilesNorth.Longitude, p.Latitude, p.Longitude), 50)
	assert.False(t, WithinConfirmRadius(twoMilesNorth, p))

	// A point ~3.4mi from a geofence center falls inside a 10mi radius.
	poi := models.Point{Latitude: 40.05, Longitude: -74.0}
	d := geo.Distance(poi.Latitude, poi.Longitude, p.Latitude, p.Longitude)
	assert.Less(t, d, geo.MilesToMeters(10))
	assert.InDelta(t, geo.MilesToMeters(3.45), d, 100)
}

func TestSubscriptionEligible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, SubscriptionEligible(true, now.Add(-time.Hour), now))
	assert.True(t, SubscriptionEligible(true, now.Add(-SubscriptionMaxAge), now))
	assert.False(t, SubscriptionEligible(true, now.Add(-SubscriptionMaxAge-time.Second), now))
	assert.False(t, SubscriptionEligible(false, now, now))
}

func TestCreationAllowed(t *testing.T) {
	assert.True(t, CreationAllowed(0))
	assert.True(t, CreationAllowed(CreationLimit-1))
	assert.False(t, CreationAllowed(CreationLimit))
	assert.False(t, CreationAllowed(CreationLimit+5))
}

func TestReminderDelay(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 50*time.Minute, ReminderDelay(now.Add(time.Hour), now))
	// Sessions shorter than the lead window still get a reminder.
	assert.Equal(t, time.Second, ReminderDelay(now.Add(5*time.Minute), now))
	assert.Equal(t, time.Second, ReminderDelay(now.Add(LiveReminderLead), now))
}

func TestConfirmRadiusMeters(t *testing.T) {
	assert.InDelta(t, 804.672, ConfirmRadiusMeters(), 0.001)
}
