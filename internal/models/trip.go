package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScheduledPoint is a station or stop of a trip template with its published
// "HH:MM" time.
type ScheduledPoint struct {
	Coordinates   Coordinates `json:"coordinates" bson:"coordinates"`
	ScheduledTime string      `json:"scheduledTime" bson:"scheduled_time"` // "HH:MM"
}

// Trip is the immutable schedule of a route instance assigned to a bus. Stop
// times are computed once when the trip is defined and never per ping.
type Trip struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	BusID        primitive.ObjectID `json:"busId" bson:"bus_id"`
	RouteID      primitive.ObjectID `json:"routeId" bson:"route_id"`
	StartStation ScheduledPoint     `json:"startStation" bson:"start_station"`
	EndStation   ScheduledPoint     `json:"endStation" bson:"end_station"`
	Stops        []ScheduledPoint   `json:"stops" bson:"stops"`
}
