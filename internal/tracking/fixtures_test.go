package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/transit-tracker/internal/db"
	"github.com/ukydev/transit-tracker/internal/models"
	"github.com/ukydev/transit-tracker/internal/schedule"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stations sit 0.01 degrees of latitude apart, about 1.1 km.
var (
	startLoc = models.Location{Lat: 12.90, Lon: 77.60}
	stop0Loc = models.Location{Lat: 12.91, Lon: 77.60}
	stop1Loc = models.Location{Lat: 12.92, Lon: 77.60}
	endLoc   = models.Location{Lat: 12.93, Lon: 77.60}
	farLoc   = models.Location{Lat: 13.50, Lon: 77.60}
)

var serviceDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return serviceDay.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func point(loc models.Location, hhmm string) models.ScheduledPoint {
	return models.ScheduledPoint{Coordinates: models.NewCoordinates(loc.Lat, loc.Lon), ScheduledTime: hhmm}
}

func morningTrip(bus primitive.ObjectID) models.Trip {
	return models.Trip{
		ID:           primitive.NewObjectID(),
		BusID:        bus,
		RouteID:      primitive.NewObjectID(),
		StartStation: point(startLoc, "08:00"),
		EndStation:   point(endLoc, "08:30"),
		Stops:        []models.ScheduledPoint{point(stop0Loc, "08:10"), point(stop1Loc, "08:20")},
	}
}

func tripAt(bus primitive.ObjectID, start, end string) models.Trip {
	return models.Trip{
		ID:           primitive.NewObjectID(),
		BusID:        bus,
		StartStation: point(startLoc, start),
		EndStation:   point(endLoc, end),
	}
}

func utcPolicy() SelectionPolicy {
	return DefaultSelectionPolicy(schedule.NewResolver(time.UTC))
}

func ping(bus string, loc models.Location, speed *float64) models.Ping {
	lat, lon := loc.Lat, loc.Lon
	return models.Ping{BusID: bus, Latitude: &lat, Longitude: &lon, Speed: speed}
}

func speed(v float64) *float64 { return &v }

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time  { return c.t }
func (c *clock) Set(t time.Time) { c.t = t }

func newClock(t time.Time) *clock { return &clock{t: t} }

type fixture struct {
	store   *db.MemoryStore
	vehicle *models.Vehicle
	trip    models.Trip
	clock   *clock
	service *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := db.NewMemoryStore()
	v, err := store.UpsertVehicle(context.Background(), models.Vehicle{BusNumber: "KA01"})
	require.NoError(t, err)
	trip := morningTrip(v.ID)
	require.NoError(t, store.UpsertTrip(context.Background(), trip))

	c := newClock(at(8, 2))
	opts.Now = c.Now
	return &fixture{
		store:   store,
		vehicle: v,
		trip:    trip,
		clock:   c,
		service: NewService(store, store, store, opts),
	}
}

func (f *fixture) progressID() string {
	return models.ProgressID(f.trip.ID, serviceDay)
}

// MockProgressStore is a testify mock of ProgressStore.
type MockProgressStore struct {
	mock.Mock
}

func (m *MockProgressStore) FindByID(ctx context.Context, id string) (*models.TripProgress, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.TripProgress)
	return p, args.Error(1)
}

func (m *MockProgressStore) FindOpenByVehicle(ctx context.Context, vehicleID primitive.ObjectID, since time.Time) (*models.TripProgress, error) {
	args := m.Called(ctx, vehicleID, since)
	p, _ := args.Get(0).(*models.TripProgress)
	return p, args.Error(1)
}

func (m *MockProgressStore) CreateIfAbsent(ctx context.Context, p *models.TripProgress) (*models.TripProgress, bool, error) {
	args := m.Called(ctx, p)
	stored, _ := args.Get(0).(*models.TripProgress)
	return stored, args.Bool(1), args.Error(2)
}

func (m *MockProgressStore) ApplyTransition(ctx context.Context, id string, t models.Transition) error {
	args := m.Called(ctx, id, t)
	return args.Error(0)
}

// MockPublisher records published progress events.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishProgress(ctx context.Context, ev models.ProgressEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// countingMetrics counts observations.
type countingMetrics struct {
	pings       map[string]int
	transitions map[string]int
	created     int
	conflicts   int
	latency     time.Duration
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{pings: map[string]int{}, transitions: map[string]int{}}
}

func (c *countingMetrics) ObservePing(result string, d time.Duration) {
	c.pings[result]++
	c.latency += d
}

func (c *countingMetrics) ObserveTransition(kind string) { c.transitions[kind]++ }
func (c *countingMetrics) ObserveProgressCreated()       { c.created++ }
func (c *countingMetrics) ObserveApplyConflict()         { c.conflicts++ }
