package db

import (
	"context"

	"github.com/ukydev/transit-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	VehiclesCollection = "buses"
	TripsCollection    = "trips"
	ProgressCollection = "trip_progress"
)

// VehicleWriter stores vehicles keyed by bus number.
type VehicleWriter interface {
	UpsertVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error)
}

// TripWriter stores trip templates keyed by id.
type TripWriter interface {
	UpsertTrip(ctx context.Context, t models.Trip) error
}

// TripSource lists the trips assigned to a vehicle.
type TripSource interface {
	TripsForVehicle(ctx context.Context, vehicleID primitive.ObjectID) ([]models.Trip, error)
}
