package models

import (
	"time"

	"github.com/google/uuid"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// User is a community member, keyed by the stable identifier the
// operator supplies. Created on first interaction and upserted on every
// subsequent one.
type User struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Language    string    `json:"language,omitempty"` // BCP-47 tag
	CreatedAt   time.Time `json:"created_at"`
}

// POI is a reported hazard sighting. Immutable after creation except
// for its derived confirmation state.
type POI struct {
	ID          uuid.UUID  `json:"id"`
	Category    Category   `json:"category"`
	Description string     `json:"description,omitempty"`
	Location    Point      `json:"location"`
	CreatorID   *uuid.UUID `json:"creator_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Photo is an opaque media reference attached to a POI. Position
// records the insertion sequence per POI. The uploader reference may be
// cleared without deleting the photo.
type Photo struct {
	ID         uuid.UUID  `json:"id"`
	PoiID      uuid.UUID  `json:"poi_id"`
	MediaRef   string     `json:"media_ref"`
	Position   int        `json:"position"`
	UploaderID *uuid.UUID `json:"uploader_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Confirmation records an on-site verification. At most one row exists
// per (POI, user) pair.
type Confirmation struct {
	PoiID     uuid.UUID `json:"poi_id"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription is a circular geofence a user tracks. The registry keeps
// at most one meaningfully active row per user.
type Subscription struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Center          Point     `json:"center"`
	RadiusMeters    float64   `json:"radius_meters"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

// Subscriber is the identity a matched subscription resolves to during
// fan-out.
type Subscriber struct {
	UserID     uuid.UUID `json:"user_id"`
	ExternalID string    `json:"external_id"`
	Language   string    `json:"language,omitempty"`
}

// PoiSummary is a nearby-query result row. LastActivityAt is the
// effective activity timestamp: the latest confirmation, or the
// creation time when none exists.
type PoiSummary struct {
	ID             uuid.UUID `json:"id"`
	Category       Category  `json:"category"`
	Description    string    `json:"description,omitempty"`
	Location       Point     `json:"location"`
	DistanceMeters float64   `json:"distance_meters"`
	Confirmations  int       `json:"confirmations"`
	LastActivityAt time.Time `json:"last_activity_at"`
	PhotoRefs      []string  `json:"photo_refs,omitempty"`
}

// Alert is the structured payload handed to the Notifier for each
// matched subscriber when a POI is created.
type Alert struct {
	PoiID       uuid.UUID `json:"poi_id"`
	Category    Category  `json:"category"`
	Description string    `json:"description,omitempty"`
	Location    Point     `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
	PhotoRefs   []string  `json:"photo_refs,omitempty"`
}

// LastLocation is a user's most recent reported position. Held in
// process memory only; freshness deliberately resets across restarts.
type LastLocation struct {
	Point
	ObservedAt time.Time
}
