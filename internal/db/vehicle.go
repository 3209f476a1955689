package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/transit-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoVehicleCollection is the vehicle directory backed by the buses collection.
type MongoVehicleCollection struct {
	Collection *mongo.Collection
}

// EnsureIndexes makes bus numbers unique.
func (c *MongoVehicleCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bus_number", Value: 1}},
		Options: options.Index().SetName("bus_number_unique").SetUnique(true),
	})
	return err
}

// ResolveVehicle finds a vehicle by its bus number.
func (c *MongoVehicleCollection) ResolveVehicle(ctx context.Context, busNumber string) (*models.Vehicle, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var v models.Vehicle
	err := c.Collection.FindOne(ctx, bson.M{"bus_number": models.NormalizeBusNumber(busNumber)}).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// UpdateLiveLocation writes the tracking block of a vehicle.
func (c *MongoVehicleCollection) UpdateLiveLocation(ctx context.Context, vehicleID primitive.ObjectID, u models.LiveLocation) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	set := bson.M{
		"tracking.last_location": u.Location,
		"tracking.last_update":   u.Timestamp,
		"tracking.last_seen":     u.SeenAt,
		"tracking.is_online":     true,
		"updated_at":             u.SeenAt,
	}
	if u.Heading != nil {
		set["tracking.heading"] = *u.Heading
	}
	if u.Speed != nil {
		set["tracking.speed"] = *u.Speed
	}
	result, err := c.Collection.UpdateOne(ctx, bson.M{"_id": vehicleID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpsertVehicle creates the vehicle for v.BusNumber if missing and updates
// its route otherwise. The stored vehicle is returned.
func (c *MongoVehicleCollection) UpsertVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	now := time.Now().UTC()
	busNumber := models.NormalizeBusNumber(v.BusNumber)
	onInsert := bson.M{"created_at": now, "tracking": models.Tracking{}}
	if !v.ID.IsZero() {
		onInsert["_id"] = v.ID
	}
	set := bson.M{"updated_at": now}
	if !v.RouteID.IsZero() {
		set["route_id"] = v.RouteID
	}
	update := bson.M{"$setOnInsert": onInsert, "$set": set}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored models.Vehicle
	err := c.Collection.FindOneAndUpdate(ctx, bson.M{"bus_number": busNumber}, update, opts).Decode(&stored)
	if err != nil {
		return nil, fmt.Errorf("upsert vehicle %s: %w", busNumber, err)
	}
	return &stored, nil
}
