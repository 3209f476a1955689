package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
vehicles:
  - busNumber: ka01
trips:
  - id: 65f0c0ffee0000000000a001
    busNumber: KA01
    routeId: 65f0c0ffee0000000000b001
    start: {lat: 12.90, lon: 77.60, time: "08:00"}
    end: {lat: 12.95, lon: 77.65, time: "08:30"}
    stops:
      - {lat: 12.92, lon: 77.62, time: "08:10"}
`

func TestParseSeed(t *testing.T) {
	s, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, s.Trips, 1)
	assert.Equal(t, "08:10", s.Trips[0].Stops[0].Time)
}

func TestParseSeed_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad trip id":   "trips:\n  - {id: nope, busNumber: A, start: {time: '08:00'}, end: {time: '09:00'}}\n",
		"missing time":  "trips:\n  - {id: 65f0c0ffee0000000000a001, busNumber: A, start: {lat: 1}, end: {time: '09:00'}}\n",
		"bad latitude":  "trips:\n  - {id: 65f0c0ffee0000000000a001, busNumber: A, start: {lat: 91, time: '08:00'}, end: {time: '09:00'}}\n",
		"missing bus":   "vehicles:\n  - {routeId: 65f0c0ffee0000000000b001}\n",
		"not yaml list": "vehicles: 3\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeed([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestSeedApply_Idempotent(t *testing.T) {
	s, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, store, store))
	require.NoError(t, s.Apply(ctx, store, store))

	v, err := store.ResolveVehicle(ctx, "KA01")
	require.NoError(t, err)
	trips, err := store.TripsForVehicle(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "65f0c0ffee0000000000a001", trips[0].ID.Hex())
	assert.Equal(t, 77.62, trips[0].Stops[0].Coordinates.Lon())
}

func TestSeedApply_UnknownBus(t *testing.T) {
	s, err := ParseSeed([]byte(`
trips:
  - id: 65f0c0ffee0000000000a001
    busNumber: ZZ9
    start: {lat: 1, lon: 1, time: "08:00"}
    end: {lat: 1, lon: 1, time: "09:00"}
`))
	require.NoError(t, err)
	store := NewMemoryStore()
	assert.Error(t, s.Apply(context.Background(), store, store))
}
