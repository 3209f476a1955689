package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/transit-tracker/internal/models"
)

func TestDistance_KnownPairs(t *testing.T) {
	tests := []struct {
		name      string
		a, b      models.Location
		want      float64
		tolerance float64
	}{
		{"same point", models.Location{Lat: 6.9271, Lon: 79.8612}, models.Location{Lat: 6.9271, Lon: 79.8612}, 0, 1e-9},
		// One degree of latitude on a 6371 km sphere.
		{"one degree latitude", models.Location{Lat: 0, Lon: 0}, models.Location{Lat: 1, Lon: 0}, 111194.93, 0.5},
		{"one degree longitude at equator", models.Location{Lat: 0, Lon: 0}, models.Location{Lat: 0, Lon: 1}, 111194.93, 0.5},
		{"london to paris", models.Location{Lat: 51.5074, Lon: -0.1278}, models.Location{Lat: 48.8566, Lon: 2.3522}, 343556, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distance(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, tt.tolerance)
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	a := models.Location{Lat: 6.9271, Lon: 79.8612}
	b := models.Location{Lat: 7.2906, Lon: 80.6337}
	ab, err := Distance(a, b)
	require.NoError(t, err)
	ba, err := Distance(b, a)
	require.NoError(t, err)
	assert.InDelta(t, ab, ba, 1e-6)
}

func TestIsNear_Threshold(t *testing.T) {
	origin := models.Location{Lat: 6.9271, Lon: 79.8612}

	fifty := Offset(origin, 50, 0)
	d, err := Distance(origin, fifty)
	require.NoError(t, err)
	assert.InDelta(t, 50, d, 0.5)

	near, err := IsNear(origin, fifty, DefaultProximityMeters)
	require.NoError(t, err)
	assert.True(t, near, "50 m should be near at 100 m")

	oneFifty := Offset(origin, 0, 150)
	d, err = Distance(origin, oneFifty)
	require.NoError(t, err)
	assert.InDelta(t, 150, d, 0.5)

	near, err = IsNear(origin, oneFifty, DefaultProximityMeters)
	require.NoError(t, err)
	assert.False(t, near, "150 m should not be near at 100 m")
}

func TestIsNear_BoundaryInclusive(t *testing.T) {
	a := models.Location{Lat: 0, Lon: 0}
	b := models.Location{Lat: 0.0005, Lon: 0}
	d, err := Distance(a, b)
	require.NoError(t, err)
	near, err := IsNear(a, b, d)
	require.NoError(t, err)
	assert.True(t, near)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		loc  models.Location
		ok   bool
	}{
		{"origin", models.Location{}, true},
		{"extremes", models.Location{Lat: -90, Lon: 180}, true},
		{"lat too high", models.Location{Lat: 90.0001}, false},
		{"lon too low", models.Location{Lon: -180.0001}, false},
		{"nan", models.Location{Lat: math.NaN()}, false},
		{"inf", models.Location{Lon: math.Inf(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.loc)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidCoordinate), "got %v", err)
			}
		})
	}
}

func TestDistance_RejectsInvalid(t *testing.T) {
	_, err := Distance(models.Location{Lat: 100}, models.Location{})
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = IsNear(models.Location{}, models.Location{Lon: 200}, 100)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestInterpolate(t *testing.T) {
	pts := Interpolate(models.Location{Lat: 0, Lon: 0}, models.Location{Lat: 1, Lon: 2}, 4)
	require.Len(t, pts, 5)
	assert.Equal(t, models.Location{Lat: 0, Lon: 0}, pts[0])
	assert.Equal(t, models.Location{Lat: 1, Lon: 2}, pts[4])
	assert.InDelta(t, 0.5, pts[2].Lat, 1e-12)
	assert.InDelta(t, 1.0, pts[2].Lon, 1e-12)
}
