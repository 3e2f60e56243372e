package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lon  float64
		want bool
	}{
		{"valid city center", 40.7128, -74.0060, true},
		{"null island rejected", 0, 0, false},
		{"zero latitude alone ok", 0, 12.5, true},
		{"zero longitude alone ok", 51.5, 0, true},
		{"latitude above range", 90.1, 0, false},
		{"latitude below range", -90.1, 0, false},
		{"longitude above range", 0, 180.1, false},
		{"longitude below range", 0, -180.1, false},
		{"poles allowed", 90, 135, true},
		{"antimeridian allowed", -33.86, 180, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateCoordinates(tt.lat, tt.lon))
		})
	}
}

func TestDistance(t *testing.T) {
	// NYC to LA, roughly 3936 km great-circle.
	d := Distance(40.7128, -74.0060, 34.0522, -118.2437)
	assert.InDelta(t, 3936000, d, 10000)

	// Identical points.
	assert.Zero(t, Distance(48.8566, 2.3522, 48.8566, 2.3522))

	// Short hop, about 157 meters per 0.001 degrees of latitude.
	d = Distance(48.8566, 2.3522, 48.8576, 2.3522)
	assert.InDelta(t, 111.2, d, 1)
}

func TestMilesToMeters(t *testing.T) {
	assert.InDelta(t, 804.672, MilesToMeters(0.5), 0.001)
	assert.InDelta(t, 1609.344, MilesToMeters(1), 0.001)
	assert.InDelta(t, 0.5, MetersToMiles(804.672), 0.0001)
}
