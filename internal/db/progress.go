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

// MongoProgressCollection stores trip progress records keyed by progress id.
type MongoProgressCollection struct {
	Collection *mongo.Collection
}

// EnsureIndexes creates the open-record lookup index.
func (c *MongoProgressCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "vehicle_id", Value: 1}, {Key: "completed", Value: 1}, {Key: "date", Value: -1}},
		Options: options.Index().SetName("vehicle_open_by_date"),
	})
	return err
}

// FindByID finds a progress record by its id.
func (c *MongoProgressCollection) FindByID(ctx context.Context, id string) (*models.TripProgress, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var p models.TripProgress
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindOpenByVehicle finds the latest non-completed record of a vehicle dated
// on or after since.
func (c *MongoProgressCollection) FindOpenByVehicle(ctx context.Context, vehicleID primitive.ObjectID, since time.Time) (*models.TripProgress, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	filter := bson.M{
		"vehicle_id": vehicleID,
		"completed":  false,
		"date":       bson.M{"$gte": since},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}})
	var p models.TripProgress
	err := c.Collection.FindOne(ctx, filter, opts).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateIfAbsent inserts p unless a record with p.ID exists, using a single
// upsert with $setOnInsert. Two upserts racing on the same id can make the
// loser fail with a duplicate-key error; it then reads the winner's record.
func (c *MongoProgressCollection) CreateIfAbsent(ctx context.Context, p *models.TripProgress) (*models.TripProgress, bool, error) {
	if c.Collection == nil {
		return nil, false, fmt.Errorf("mongo collection is nil")
	}
	doc, err := insertDocument(p)
	if err != nil {
		return nil, false, err
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	var existing models.TripProgress
	err = c.Collection.FindOneAndUpdate(ctx, bson.M{"_id": p.ID}, bson.M{"$setOnInsert": doc}, opts).Decode(&existing)
	switch {
	case err == nil:
		return &existing, false, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		// No document before the upsert: this call inserted p.
		return p.Clone(), true, nil
	case mongo.IsDuplicateKeyError(err):
		winner, ferr := c.FindByID(ctx, p.ID)
		if ferr != nil {
			return nil, false, ferr
		}
		return winner, false, nil
	default:
		return nil, false, err
	}
}

// insertDocument renders p without its _id, which the upsert filter supplies.
func insertDocument(p *models.TripProgress) (bson.M, error) {
	raw, err := bson.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal progress %s: %w", p.ID, err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal progress %s: %w", p.ID, err)
	}
	delete(doc, "_id")
	return doc, nil
}

// TransitionUpdate builds the filter and update that apply t to the record
// with id only while it is in the state t was decided against.
func TransitionUpdate(id string, t models.Transition) (bson.M, bson.M, error) {
	filter := bson.M{"_id": id, "completed": false}
	set := bson.M{"updated_at": t.RecordedAt}
	switch t.Kind {
	case models.TransitionStart:
		filter["is_started"] = false
		set["start_station.arrived_time"] = t.At
		set["is_started"] = true
	case models.TransitionStopArrival:
		arrived := fmt.Sprintf("stops.%d.arrived_time", t.StopIndex)
		filter["is_started"] = true
		filter["next_stop_index"] = t.StopIndex
		filter[arrived] = bson.M{"$exists": false}
		set[arrived] = t.At
		set["next_stop_index"] = t.StopIndex + 1
	case models.TransitionComplete:
		filter["is_started"] = true
		filter["next_stop_index"] = t.StopIndex
		filter["stops"] = bson.M{"$size": t.StopIndex}
		filter["end_station.arrived_time"] = bson.M{"$exists": false}
		set["end_station.arrived_time"] = t.At
		set["completed"] = true
	default:
		return nil, nil, fmt.Errorf("cannot apply transition %s", t.Kind)
	}
	return filter, bson.M{"$set": set}, nil
}

// ApplyTransition applies t as one conditional update. No match means the
// record moved on (or disappeared) since it was read.
func (c *MongoProgressCollection) ApplyTransition(ctx context.Context, id string, t models.Transition) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	filter, update, err := TransitionUpdate(id, t)
	if err != nil {
		return err
	}
	result, err := c.Collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return models.ErrStaleProgress
	}
	return nil
}
