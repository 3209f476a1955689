package db

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v3"
)

// Seed is a YAML fleet definition: vehicles and the trips they run.
type Seed struct {
	Vehicles []SeedVehicle `yaml:"vehicles" validate:"dive"`
	Trips    []SeedTrip    `yaml:"trips" validate:"dive"`
}

type SeedVehicle struct {
	BusNumber string `yaml:"busNumber" validate:"required"`
	RouteID   string `yaml:"routeId" validate:"omitempty,mongodb"`
}

type SeedTrip struct {
	ID        string      `yaml:"id" validate:"required,mongodb"`
	BusNumber string      `yaml:"busNumber" validate:"required"`
	RouteID   string      `yaml:"routeId" validate:"omitempty,mongodb"`
	Start     SeedPoint   `yaml:"start"`
	End       SeedPoint   `yaml:"end"`
	Stops     []SeedPoint `yaml:"stops" validate:"dive"`
}

type SeedPoint struct {
	Lat  float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `yaml:"lon" validate:"gte=-180,lte=180"`
	Time string  `yaml:"time" validate:"required"`
}

func (p SeedPoint) scheduled() models.ScheduledPoint {
	return models.ScheduledPoint{Coordinates: models.NewCoordinates(p.Lat, p.Lon), ScheduledTime: p.Time}
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := validator.New().Struct(s); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &s, nil
}

// TripModels converts the seed trips, resolving bus numbers through busIDs.
func (s *Seed) TripModels(busIDs map[string]primitive.ObjectID) ([]models.Trip, error) {
	trips := make([]models.Trip, 0, len(s.Trips))
	for _, st := range s.Trips {
		id, _ := primitive.ObjectIDFromHex(st.ID)
		busID, ok := busIDs[models.NormalizeBusNumber(st.BusNumber)]
		if !ok {
			return nil, fmt.Errorf("trip %s: unknown bus %q", st.ID, st.BusNumber)
		}
		t := models.Trip{
			ID:           id,
			BusID:        busID,
			StartStation: st.Start.scheduled(),
			EndStation:   st.End.scheduled(),
			Stops:        make([]models.ScheduledPoint, 0, len(st.Stops)),
		}
		if st.RouteID != "" {
			t.RouteID, _ = primitive.ObjectIDFromHex(st.RouteID)
		}
		for _, sp := range st.Stops {
			t.Stops = append(t.Stops, sp.scheduled())
		}
		trips = append(trips, t)
	}
	return trips, nil
}

// Apply upserts the seed's vehicles, then its trips. Applying the same seed
// twice leaves the stores unchanged.
func (s *Seed) Apply(ctx context.Context, vehicles VehicleWriter, trips TripWriter) error {
	busIDs := make(map[string]primitive.ObjectID, len(s.Vehicles))
	for _, sv := range s.Vehicles {
		v := models.Vehicle{BusNumber: sv.BusNumber}
		if sv.RouteID != "" {
			v.RouteID, _ = primitive.ObjectIDFromHex(sv.RouteID)
		}
		stored, err := vehicles.UpsertVehicle(ctx, v)
		if err != nil {
			return err
		}
		busIDs[stored.BusNumber] = stored.ID
	}
	tripModels, err := s.TripModels(busIDs)
	if err != nil {
		return err
	}
	for _, t := range tripModels {
		if err := trips.UpsertTrip(ctx, t); err != nil {
			return fmt.Errorf("upsert trip %s: %w", t.ID.Hex(), err)
		}
	}
	log.WithFields(log.Fields{"vehicles": len(s.Vehicles), "trips": len(tripModels)}).Info("Seed applied")
	return nil
}
