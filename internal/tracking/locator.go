package tracking

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/models"
	"github.com/ukydev/transit-tracker/internal/schedule"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TripRef is a trip template pinned to the service day it runs on.
type TripRef struct {
	Trip           models.Trip
	ServiceDate    time.Time
	ScheduledStart time.Time
	ScheduledEnd   time.Time
}

// ProgressID is the key of the instance this ref materializes into.
func (r TripRef) ProgressID() string {
	return models.ProgressID(r.Trip.ID, r.ServiceDate)
}

// SelectionPolicy decides which of a vehicle's trips is active.
//
// A trip qualifies on a service day when now falls inside
// [scheduled start - Lead, scheduled end + Grace]. Today and yesterday are
// both considered so trips that run past midnight stay selectable. Among
// qualifying candidates the one whose scheduled start is closest to now
// wins; ties go to the earlier start, then to the smaller trip id.
type SelectionPolicy struct {
	Resolver schedule.Resolver
	Lead     time.Duration
	Grace    time.Duration
}

// DefaultSelectionPolicy uses a 30 minute lead and a 2 hour grace.
func DefaultSelectionPolicy(resolver schedule.Resolver) SelectionPolicy {
	return SelectionPolicy{Resolver: resolver, Lead: 30 * time.Minute, Grace: 2 * time.Hour}
}

// SelectActiveTrip applies policy to a vehicle's day schedule. It is pure and
// independent of the order of trips.
func SelectActiveTrip(trips []models.Trip, now time.Time, policy SelectionPolicy) (TripRef, bool) {
	today := policy.Resolver.ServiceDate(now)
	y, m, d := today.Date()
	yesterday := time.Date(y, m, d-1, 0, 0, 0, 0, today.Location())

	var candidates []TripRef
	for _, trip := range trips {
		for _, day := range []time.Time{yesterday, today} {
			ref, err := window(trip, day, policy.Resolver)
			if err != nil {
				log.WithFields(log.Fields{"trip_id": trip.ID.Hex()}).WithError(err).Warn("Skipping trip with unusable schedule")
				break
			}
			if now.Before(ref.ScheduledStart.Add(-policy.Lead)) || now.After(ref.ScheduledEnd.Add(policy.Grace)) {
				continue
			}
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return TripRef{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := absDuration(now.Sub(candidates[i].ScheduledStart)), absDuration(now.Sub(candidates[j].ScheduledStart))
		if di != dj {
			return di < dj
		}
		if !candidates[i].ScheduledStart.Equal(candidates[j].ScheduledStart) {
			return candidates[i].ScheduledStart.Before(candidates[j].ScheduledStart)
		}
		return candidates[i].Trip.ID.Hex() < candidates[j].Trip.ID.Hex()
	})
	return candidates[0], true
}

func window(trip models.Trip, day time.Time, r schedule.Resolver) (TripRef, error) {
	startClock, err := schedule.ParseClock(trip.StartStation.ScheduledTime)
	if err != nil {
		return TripRef{}, fmt.Errorf("start station: %w", err)
	}
	end, err := r.ResolveFrom(trip.EndStation.ScheduledTime, startClock, day)
	if err != nil {
		return TripRef{}, fmt.Errorf("end station: %w", err)
	}
	return TripRef{
		Trip:           trip,
		ServiceDate:    day,
		ScheduledStart: r.At(startClock, day),
		ScheduledEnd:   end,
	}, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Locator finds the trip a vehicle is expected to be running.
type Locator struct {
	catalog TripCatalog
	policy  SelectionPolicy
}

func NewLocator(catalog TripCatalog, policy SelectionPolicy) *Locator {
	return &Locator{catalog: catalog, policy: policy}
}

// FindActiveTrip loads the vehicle's trips and applies the selection policy.
func (l *Locator) FindActiveTrip(ctx context.Context, vehicleID primitive.ObjectID, now time.Time) (TripRef, bool, error) {
	trips, err := l.catalog.TripsForVehicle(ctx, vehicleID)
	if err != nil {
		return TripRef{}, false, fmt.Errorf("load trips for vehicle %s: %w", vehicleID.Hex(), err)
	}
	ref, ok := SelectActiveTrip(trips, now, l.policy)
	return ref, ok, nil
}
