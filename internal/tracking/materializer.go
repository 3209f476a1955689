package tracking

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/models"
	"github.com/ukydev/transit-tracker/internal/schedule"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BuildProgress constructs the initial record of ref's trip instance. Stop
// and end-station times earlier than the start roll over to the next day.
func BuildProgress(ref TripRef, vehicleID primitive.ObjectID, r schedule.Resolver, now time.Time) (*models.TripProgress, error) {
	trip := ref.Trip
	startClock, err := schedule.ParseClock(trip.StartStation.ScheduledTime)
	if err != nil {
		return nil, fmt.Errorf("trip %s start station: %w", trip.ID.Hex(), err)
	}
	resolve := func(sp models.ScheduledPoint) (models.ProgressPoint, error) {
		at, err := r.ResolveFrom(sp.ScheduledTime, startClock, ref.ServiceDate)
		if err != nil {
			return models.ProgressPoint{}, err
		}
		return models.ProgressPoint{Coordinates: sp.Coordinates, ExpectedTime: at}, nil
	}

	p := &models.TripProgress{
		ID:        models.ProgressID(trip.ID, ref.ServiceDate),
		TripID:    trip.ID,
		VehicleID: vehicleID,
		RouteID:   trip.RouteID,
		Date:      ref.ServiceDate,
		Stops:     make([]models.ProgressPoint, 0, len(trip.Stops)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.StartStation, err = resolve(trip.StartStation); err != nil {
		return nil, fmt.Errorf("trip %s start station: %w", trip.ID.Hex(), err)
	}
	if p.EndStation, err = resolve(trip.EndStation); err != nil {
		return nil, fmt.Errorf("trip %s end station: %w", trip.ID.Hex(), err)
	}
	for i, stop := range trip.Stops {
		pt, err := resolve(stop)
		if err != nil {
			return nil, fmt.Errorf("trip %s stop %d: %w", trip.ID.Hex(), i, err)
		}
		p.Stops = append(p.Stops, pt)
	}
	return p, nil
}

// Materializer creates per-day trip instances exactly once.
type Materializer struct {
	store    ProgressStore
	resolver schedule.Resolver
	now      func() time.Time
}

func NewMaterializer(store ProgressStore, resolver schedule.Resolver, now func() time.Time) *Materializer {
	if now == nil {
		now = time.Now
	}
	return &Materializer{store: store, resolver: resolver, now: now}
}

// Materialize returns the instance of ref for its service day, creating it
// when absent. Concurrent calls for the same instance observe one record and
// exactly one of them reports created.
func (m *Materializer) Materialize(ctx context.Context, ref TripRef, vehicleID primitive.ObjectID) (*models.TripProgress, bool, error) {
	p, err := BuildProgress(ref, vehicleID, m.resolver, m.now())
	if err != nil {
		return nil, false, err
	}
	stored, created, err := m.store.CreateIfAbsent(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("create progress %s: %w", p.ID, err)
	}
	if created {
		log.WithFields(log.Fields{
			"progress_id": stored.ID,
			"trip_id":     ref.Trip.ID.Hex(),
			"vehicle_id":  vehicleID.Hex(),
			"stops":       len(stored.Stops),
		}).Info("Created trip progress")
	}
	return stored, created, nil
}
