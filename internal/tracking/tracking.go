// Package tracking reconciles vehicle position pings with scheduled trips.
//
// Each ping is handled on its own: the vehicle is resolved, its open trip
// instance is found or created for the service day, and at most one
// transition of that instance's progress record is applied with a single
// conditional write. Concurrent and repeated pings for the same instance are
// safe because creation is create-if-absent and every transition is pinned to
// the state it was decided against.
package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/transit-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrConflict = errors.New("trip progress kept changing while applying ping")

// VehicleDirectory is the fleet-tracking view of vehicles.
type VehicleDirectory interface {
	// ResolveVehicle returns models.ErrNotFound for unknown bus numbers.
	ResolveVehicle(ctx context.Context, busNumber string) (*models.Vehicle, error)
	UpdateLiveLocation(ctx context.Context, vehicleID primitive.ObjectID, update models.LiveLocation) error
}

// TripCatalog lists the trip templates assigned to a vehicle.
type TripCatalog interface {
	TripsForVehicle(ctx context.Context, vehicleID primitive.ObjectID) ([]models.Trip, error)
}

// ProgressStore persists trip instances. CreateIfAbsent and ApplyTransition
// must each be a single atomic operation in the backing store.
type ProgressStore interface {
	FindByID(ctx context.Context, id string) (*models.TripProgress, error)
	// FindOpenByVehicle returns the most recent non-completed record dated on
	// or after since, or models.ErrNotFound.
	FindOpenByVehicle(ctx context.Context, vehicleID primitive.ObjectID, since time.Time) (*models.TripProgress, error)
	// CreateIfAbsent inserts p unless a record with p.ID exists and returns
	// the stored record and whether this call created it.
	CreateIfAbsent(ctx context.Context, p *models.TripProgress) (*models.TripProgress, bool, error)
	// ApplyTransition returns models.ErrStaleProgress when the record is no
	// longer in the state t was decided against.
	ApplyTransition(ctx context.Context, id string, t models.Transition) error
}

// EventPublisher fans out persisted transitions.
type EventPublisher interface {
	PublishProgress(ctx context.Context, ev models.ProgressEvent) error
}

// Metrics observes ingestion outcomes.
type Metrics interface {
	ObservePing(result string, d time.Duration)
	ObserveTransition(kind string)
	ObserveProgressCreated()
	ObserveApplyConflict()
}

// Result classifies how a ping was handled.
type Result int

const (
	ResultUnchanged Result = iota
	ResultApplied
	ResultUnknownVehicle
	ResultNoActiveTrip
	ResultStationary
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultUnknownVehicle:
		return "unknown_vehicle"
	case ResultNoActiveTrip:
		return "no_active_trip"
	case ResultStationary:
		return "stationary"
	default:
		return "unchanged"
	}
}

// Outcome is the structured result of ingesting one ping.
type Outcome struct {
	Result     Result
	ProgressID string
	Created    bool
	Transition models.TransitionKind
}

type noopMetrics struct{}

func (noopMetrics) ObservePing(string, time.Duration) {}
func (noopMetrics) ObserveTransition(string)          {}
func (noopMetrics) ObserveProgressCreated()           {}
func (noopMetrics) ObserveApplyConflict()             {}
