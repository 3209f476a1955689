package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/transit-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps vehicles, trips and trip progress in process memory. It
// gives the same atomicity as the Mongo collections by serialising every
// operation on one mutex, and is used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	vehicles map[primitive.ObjectID]*models.Vehicle
	byNumber map[string]primitive.ObjectID
	trips    map[primitive.ObjectID]models.Trip
	progress map[string]*models.TripProgress
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles: make(map[primitive.ObjectID]*models.Vehicle),
		byNumber: make(map[string]primitive.ObjectID),
		trips:    make(map[primitive.ObjectID]models.Trip),
		progress: make(map[string]*models.TripProgress),
	}
}

// UpsertVehicle stores v keyed by its normalised bus number. An existing
// vehicle keeps its id.
func (s *MemoryStore) UpsertVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.BusNumber = models.NormalizeBusNumber(v.BusNumber)
	if id, ok := s.byNumber[v.BusNumber]; ok {
		v.ID = id
		v.CreatedAt = s.vehicles[id].CreatedAt
	} else {
		if v.ID.IsZero() {
			v.ID = primitive.NewObjectID()
		}
		v.CreatedAt = time.Now().UTC()
	}
	v.UpdatedAt = time.Now().UTC()
	s.vehicles[v.ID] = &v
	s.byNumber[v.BusNumber] = v.ID
	out := v
	return &out, nil
}

// ResolveVehicle finds a vehicle by bus number.
func (s *MemoryStore) ResolveVehicle(ctx context.Context, busNumber string) (*models.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNumber[models.NormalizeBusNumber(busNumber)]
	if !ok {
		return nil, models.ErrNotFound
	}
	v := *s.vehicles[id]
	return &v, nil
}

// UpdateLiveLocation overwrites the tracking block of a vehicle.
func (s *MemoryStore) UpdateLiveLocation(ctx context.Context, vehicleID primitive.ObjectID, u models.LiveLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return models.ErrNotFound
	}
	loc := u.Location
	v.Tracking.LastLocation = &loc
	if u.Heading != nil {
		h := *u.Heading
		v.Tracking.Heading = &h
	}
	if u.Speed != nil {
		sp := *u.Speed
		v.Tracking.Speed = &sp
	}
	v.Tracking.LastUpdate = u.Timestamp
	v.Tracking.LastSeen = u.SeenAt
	v.Tracking.IsOnline = true
	v.UpdatedAt = u.SeenAt
	return nil
}

// UpsertTrip stores or replaces a trip by id.
func (s *MemoryStore) UpsertTrip(ctx context.Context, t models.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	s.trips[t.ID] = t
	return nil
}

// TripsForVehicle returns the vehicle's trips ordered by scheduled start.
func (s *MemoryStore) TripsForVehicle(ctx context.Context, vehicleID primitive.ObjectID) ([]models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trip
	for _, t := range s.trips {
		if t.BusID == vehicleID {
			out = append(out, t)
		}
	}
	sortTrips(out)
	return out, nil
}

// FindByID returns a copy of a progress record.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.TripProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p.Clone(), nil
}

// FindOpenByVehicle returns the latest non-completed record dated on or
// after since.
func (s *MemoryStore) FindOpenByVehicle(ctx context.Context, vehicleID primitive.ObjectID, since time.Time) (*models.TripProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.TripProgress
	for _, p := range s.progress {
		if p.VehicleID != vehicleID || p.Completed || p.Date.Before(since) {
			continue
		}
		if best == nil || p.Date.After(best.Date) || (p.Date.Equal(best.Date) && p.ID > best.ID) {
			best = p
		}
	}
	if best == nil {
		return nil, models.ErrNotFound
	}
	return best.Clone(), nil
}

// CreateIfAbsent inserts p unless its id is taken.
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, p *models.TripProgress) (*models.TripProgress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.progress[p.ID]; ok {
		return existing.Clone(), false, nil
	}
	s.progress[p.ID] = p.Clone()
	return p.Clone(), true, nil
}

// ApplyTransition performs t when the record still matches the state t was
// decided against.
func (s *MemoryStore) ApplyTransition(ctx context.Context, id string, t models.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[id]
	if !ok {
		return models.ErrNotFound
	}
	next := p.Clone()
	if err := next.Apply(t); err != nil {
		return err
	}
	s.progress[id] = next
	return nil
}

// ProgressCount returns the number of stored progress records.
func (s *MemoryStore) ProgressCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.progress)
}

// Vehicle returns a copy of a stored vehicle.
func (s *MemoryStore) Vehicle(id primitive.ObjectID) (*models.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, false
	}
	out := *v
	return &out, true
}

// Ping reports the store as always reachable.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func sortTrips(trips []models.Trip) {
	sort.Slice(trips, func(i, j int) bool {
		a, b := trips[i].StartStation.ScheduledTime, trips[j].StartStation.ScheduledTime
		if a != b {
			return a < b
		}
		return trips[i].ID.Hex() < trips[j].ID.Hex()
	})
}
