package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Vehicle represents a bus known to the fleet-tracking directory.
type Vehicle struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	BusNumber string             `bson:"bus_number" json:"busNumber"`
	RouteID   primitive.ObjectID `bson:"route_id,omitempty" json:"routeId"`
	Tracking  Tracking           `bson:"tracking" json:"tracking"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// Tracking is the live-location block of a vehicle.
type Tracking struct {
	LastLocation *Location `bson:"last_location,omitempty" json:"lastLocation,omitempty"`
	Heading      *float64  `bson:"heading,omitempty" json:"heading,omitempty"`
	Speed        *float64  `bson:"speed,omitempty" json:"speed,omitempty"`
	LastUpdate   time.Time `bson:"last_update,omitempty" json:"lastUpdate"`
	LastSeen     time.Time `bson:"last_seen,omitempty" json:"lastSeen"`
	IsOnline     bool      `bson:"is_online" json:"isOnline"`
}

// LiveLocation is one explicit live-location write. SeenAt is the receipt
// time; Timestamp is the device time carried by the ping.
type LiveLocation struct {
	Location  Location
	Heading   *float64
	Speed     *float64
	Timestamp time.Time
	SeenAt    time.Time
}

// NormalizeBusNumber returns the canonical stored form of a bus number.
func NormalizeBusNumber(busNumber string) string {
	return strings.ToUpper(strings.TrimSpace(busNumber))
}
