// Package geo evaluates great-circle distances between positions.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/ukydev/transit-tracker/internal/models"
)

// EarthRadiusMeters is the mean radius of the spherical Earth model.
const EarthRadiusMeters = 6371000.0

// DefaultProximityMeters is how close a vehicle must be to count as arrived.
const DefaultProximityMeters = 100.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Validate rejects latitudes outside [-90, 90], longitudes outside
// [-180, 180] and non-finite values.
func Validate(loc models.Location) error {
	if math.IsNaN(loc.Lat) || math.IsInf(loc.Lat, 0) || loc.Lat < -90 || loc.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, loc.Lat)
	}
	if math.IsNaN(loc.Lon) || math.IsInf(loc.Lon, 0) || loc.Lon < -180 || loc.Lon > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, loc.Lon)
	}
	return nil
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b models.Location) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	return haversine(a, b), nil
}

// IsNear reports whether current lies within thresholdMeters of target.
func IsNear(current, target models.Location, thresholdMeters float64) (bool, error) {
	d, err := Distance(current, target)
	if err != nil {
		return false, err
	}
	return d <= thresholdMeters, nil
}

func haversine(a, b models.Location) float64 {
	φ1 := a.Lat * math.Pi / 180
	φ2 := b.Lat * math.Pi / 180
	dφ := (b.Lat - a.Lat) * math.Pi / 180
	dλ := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dφ/2)*math.Sin(dφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Offset returns the point reached by moving northMeters and eastMeters from
// origin, using a local flat-earth approximation. Good for the short hops used
// by the simulator and tests.
func Offset(origin models.Location, northMeters, eastMeters float64) models.Location {
	dLat := northMeters / EarthRadiusMeters * 180 / math.Pi
	dLon := eastMeters / (EarthRadiusMeters * math.Cos(origin.Lat*math.Pi/180)) * 180 / math.Pi
	return models.Location{Lat: origin.Lat + dLat, Lon: origin.Lon + dLon}
}

// Interpolate returns steps+1 evenly spaced points from a to b inclusive.
func Interpolate(a, b models.Location, steps int) []models.Location {
	if steps < 1 {
		steps = 1
	}
	pts := make([]models.Location, 0, steps+1)
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		pts = append(pts, models.Location{Lat: a.Lat + (b.Lat-a.Lat)*f, Lon: a.Lon + (b.Lon-a.Lon)*f})
	}
	return pts
}
