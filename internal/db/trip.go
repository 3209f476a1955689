package db

import (
	"context"
	"fmt"

	"github.com/ukydev/transit-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTripCollection holds trip templates.
type MongoTripCollection struct {
	Collection *mongo.Collection
}

func (c *MongoTripCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bus_id", Value: 1}, {Key: "start_station.scheduled_time", Value: 1}},
		Options: options.Index().SetName("bus_by_start"),
	})
	return err
}

// TripsForVehicle returns the trips assigned to vehicleID ordered by start time.
func (c *MongoTripCollection) TripsForVehicle(ctx context.Context, vehicleID primitive.ObjectID) ([]models.Trip, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_station.scheduled_time", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := c.Collection.Find(ctx, bson.M{"bus_id": vehicleID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var trips []models.Trip
	if err := cursor.All(ctx, &trips); err != nil {
		return nil, err
	}
	return trips, nil
}

// UpsertTrip replaces the trip with t.ID, inserting it when missing.
func (c *MongoTripCollection) UpsertTrip(ctx context.Context, t models.Trip) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	_, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": t.ID}, t, options.Replace().SetUpsert(true))
	return err
}
