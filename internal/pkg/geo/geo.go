// Package geo holds coordinate validation and spherical distance
// helpers. The store performs the authoritative geodesic computations
// (PostGIS geography operators); these helpers cover the paths where
// the store is not in the loop.
package geo

import "math"

const (
	// Mean earth radius in meters (IUGG).
	earthRadiusMeters = 6371008.8

	metersPerMile = 1609.344
)

// ValidateCoordinates checks if latitude and longitude are valid.
// Latitude must be between -90 and 90, longitude between -180 and 180.
// The (0, 0) pair is rejected: it almost always indicates missing data.
func ValidateCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// MilesToMeters converts statute miles to meters.
func MilesToMeters(mi float64) float64 {
	return mi * metersPerMile
}

// MetersToMiles converts meters to statute miles.
func MetersToMiles(m float64) float64 {
	return m / metersPerMile
}

// Distance returns the great-circle distance in meters between two
// coordinate pairs using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
