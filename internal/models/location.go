package models

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lon float64 `bson:"lon" json:"lon"`
}

// Coordinates is a [longitude, latitude] pair, the order used by stored trips
// and GeoJSON.
type Coordinates [2]float64

// NewCoordinates builds a pair from a latitude and longitude.
func NewCoordinates(lat, lon float64) Coordinates {
	return Coordinates{lon, lat}
}

func (c Coordinates) Lon() float64 { return c[0] }
func (c Coordinates) Lat() float64 { return c[1] }

// Location converts the pair to a Location.
func (c Coordinates) Location() Location {
	return Location{Lat: c[1], Lon: c[0]}
}
