package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/geo"
	"github.com/ukydev/transit-tracker/internal/models"
	"github.com/ukydev/transit-tracker/internal/schedule"
)

// Options configures a Service. Zero values select defaults.
type Options struct {
	Resolver        schedule.Resolver
	Policy          *SelectionPolicy
	ProximityMeters float64
	Events          EventPublisher
	Metrics         Metrics
	Now             func() time.Time
}

// Service ingests pings.
type Service struct {
	vehicles     VehicleDirectory
	progress     ProgressStore
	locator      *Locator
	materializer *Materializer
	machine      *StateMachine
	resolver     schedule.Resolver
	grace        time.Duration
	events       EventPublisher
	metrics      Metrics
	now          func() time.Time
}

func NewService(vehicles VehicleDirectory, trips TripCatalog, progress ProgressStore, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.ProximityMeters <= 0 {
		opts.ProximityMeters = geo.DefaultProximityMeters
	}
	resolver := schedule.NewResolver(opts.Resolver.Location)
	policy := DefaultSelectionPolicy(resolver)
	if opts.Policy != nil {
		policy = *opts.Policy
		policy.Resolver = resolver
	}
	return &Service{
		vehicles:     vehicles,
		progress:     progress,
		locator:      NewLocator(trips, policy),
		materializer: NewMaterializer(progress, resolver, opts.Now),
		machine:      NewStateMachine(progress, opts.ProximityMeters, opts.Now, opts.Metrics),
		resolver:     resolver,
		grace:        policy.Grace,
		events:       opts.Events,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
}

// Ingest handles one ping. Validation failures wrap models.ErrInvalidPing and
// touch no state. Unknown vehicles and pings with nothing to track succeed
// without changes. Any other error is a storage or structural failure; the
// ping may be retried unchanged.
func (s *Service) Ingest(ctx context.Context, ping models.Ping) (Outcome, error) {
	start := s.now()
	out, err := s.ingest(ctx, ping)
	result := out.Result.String()
	if err != nil {
		result = "error"
		if errors.Is(err, models.ErrInvalidPing) {
			result = "invalid"
		}
	}
	s.metrics.ObservePing(result, s.now().Sub(start))
	return out, err
}

func (s *Service) ingest(ctx context.Context, ping models.Ping) (Outcome, error) {
	if err := ping.Validate(); err != nil {
		return Outcome{}, err
	}
	receivedAt := s.now()
	at := ping.ObservedAt(receivedAt)
	loc := ping.Location()
	fields := log.Fields{"bus_id": ping.BusID}

	vehicle, err := s.vehicles.ResolveVehicle(ctx, ping.BusID)
	if errors.Is(err, models.ErrNotFound) {
		log.WithFields(fields).Debug("Ping from unknown vehicle ignored")
		return Outcome{Result: ResultUnknownVehicle}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve vehicle %q: %w", ping.BusID, err)
	}
	fields["vehicle_id"] = vehicle.ID.Hex()

	err = s.vehicles.UpdateLiveLocation(ctx, vehicle.ID, models.LiveLocation{
		Location:  loc,
		Heading:   ping.Heading,
		Speed:     ping.Speed,
		Timestamp: at,
		SeenAt:    receivedAt,
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return Outcome{}, fmt.Errorf("update live location of %s: %w", vehicle.ID.Hex(), err)
	}

	// Open instances from the previous service day are still eligible so a
	// trip running past midnight keeps its record.
	today := s.resolver.ServiceDate(at)
	since := time.Date(today.Year(), today.Month(), today.Day()-1, 0, 0, 0, 0, today.Location())
	progress, err := s.progress.FindOpenByVehicle(ctx, vehicle.ID, since)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return Outcome{}, fmt.Errorf("find open progress of %s: %w", vehicle.ID.Hex(), err)
	}
	if progress != nil && !s.stillOpen(progress, today, at) {
		log.WithFields(fields).WithFields(log.Fields{"progress_id": progress.ID}).Debug("Previous day progress is past its window")
		progress = nil
	}

	out := Outcome{Result: ResultUnchanged}
	if progress == nil {
		if !ping.Moving() {
			return Outcome{Result: ResultStationary}, nil
		}
		ref, ok, err := s.locator.FindActiveTrip(ctx, vehicle.ID, at)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			log.WithFields(fields).Info("Moving vehicle has no active trip")
			return Outcome{Result: ResultNoActiveTrip}, nil
		}
		progress, out.Created, err = s.materializer.Materialize(ctx, ref, vehicle.ID)
		if err != nil {
			return Outcome{}, err
		}
		if out.Created {
			s.metrics.ObserveProgressCreated()
		}
	}
	out.ProgressID = progress.ID
	fields["progress_id"] = progress.ID

	t, updated, err := s.machine.Advance(ctx, progress, loc, at)
	if err != nil {
		if errors.Is(err, models.ErrCorruptProgress) {
			log.WithFields(fields).WithError(err).Error("Trip progress is corrupt, operator action required")
		}
		return out, err
	}
	if t.Kind == models.TransitionNone {
		return out, nil
	}

	out.Result = ResultApplied
	out.Transition = t.Kind
	s.metrics.ObserveTransition(t.Kind.String())
	log.WithFields(fields).WithFields(log.Fields{
		"transition":      t.Kind.String(),
		"next_stop_index": updated.NextStopIndex,
	}).Info("Trip progress advanced")

	if s.events != nil {
		if err := s.events.PublishProgress(ctx, models.NewProgressEvent(updated, t)); err != nil {
			log.WithFields(fields).WithError(err).Warn("Failed to publish progress event")
		}
	}
	return out, nil
}

// stillOpen reports whether p can take a ping observed at. Records of an
// earlier service day stay open until their scheduled end plus the locator
// grace.
func (s *Service) stillOpen(p *models.TripProgress, today, at time.Time) bool {
	if !p.Date.Before(today) {
		return true
	}
	return !at.After(p.EndStation.ExpectedTime.Add(s.grace))
}
