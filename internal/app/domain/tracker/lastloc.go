// Package tracker keeps per-user volatile state: the last reported
// location and the live-session reminder timers. Both live in process
// memory only and reset on restart, which also resets freshness.
package tracker

import (
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/models"
)

const (
	// Entries older than a day can never satisfy any freshness rule, so
	// the cache evicts them instead of growing without bound.
	lastLocationTTL = 24 * time.Hour
	cleanupInterval = time.Hour
)

// LastLocations stores the most recent reported position per external
// user identifier.
type LastLocations struct {
	logger *zap.Logger
	cache  *cache.Cache
}

func NewLastLocations(logger *zap.Logger) *LastLocations {
	return &LastLocations{
		logger: logger,
		cache:  cache.New(lastLocationTTL, cleanupInterval),
	}
}

// Set records p as the user's current position, overwriting any
// previous one.
func (t *LastLocations) Set(externalID string, p models.Point, observedAt time.Time) {
	t.cache.Set(externalID, models.LastLocation{Point: p, ObservedAt: observedAt}, cache.DefaultExpiration)
}

// Get returns the user's last reported position. The second return is
// false when nothing was reported or the entry expired.
func (t *LastLocations) Get(externalID string) (models.LastLocation, bool) {
	v, ok := t.cache.Get(externalID)
	if !ok {
		return models.LastLocation{}, false
	}
	loc, ok := v.(models.LastLocation)
	return loc, ok
}
