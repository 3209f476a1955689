package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/transit-tracker/internal/db"
	"github.com/ukydev/transit-tracker/internal/models"
	"github.com/ukydev/transit-tracker/internal/schedule"
)

const nightSeed = `
vehicles:
  - busNumber: N1
trips:
  - id: 65f0c0ffee0000000000a001
    busNumber: N1
    start: {lat: 12.90, lon: 77.60, time: "23:40"}
    end: {lat: 12.92, lon: 77.60, time: "00:20"}
    stops:
      - {lat: 12.91, lon: 77.60, time: "23:59"}
`

func planNight(t *testing.T) TripRun {
	t.Helper()
	seed, err := db.ParseSeed([]byte(nightSeed))
	require.NoError(t, err)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	runs, err := planRuns(seed, schedule.NewResolver(time.UTC), day)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}

func TestPlanRuns(t *testing.T) {
	run := planNight(t)
	assert.Equal(t, "65f0c0ffee0000000000a001_20250310", run.InstanceID)
	assert.Equal(t, "N1", run.BusNumber)
	require.Len(t, run.Waypoints, 3)
	assert.Equal(t, time.Date(2025, 3, 10, 23, 40, 0, 0, time.UTC), run.Waypoints[0].At)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 20, 0, 0, time.UTC), run.Waypoints[2].At)
}

func TestPingsForRun(t *testing.T) {
	run := planNight(t)
	pings := pingsForRun(run, 4, 0)
	require.Len(t, pings, 2*4+1)

	assert.Equal(t, run.Waypoints[0].At, pings[0].LastUpdated)
	assert.Equal(t, 12.90, pings[0].Latitude)
	assert.Equal(t, 12.91, pings[4].Latitude, "each leg starts on its waypoint")
	assert.Equal(t, run.Waypoints[1].At, pings[4].LastUpdated)
	last := pings[len(pings)-1]
	assert.Equal(t, 12.92, last.Latitude)
	assert.Equal(t, run.Waypoints[2].At, last.LastUpdated)

	for i := 1; i < len(pings); i++ {
		assert.True(t, pings[i].LastUpdated.After(pings[i-1].LastUpdated))
		assert.Greater(t, pings[i].Speed, 0.0)
	}
	assert.InDelta(t, 0, pings[1].Heading, 0.01, "heading north")
}

func TestBearing(t *testing.T) {
	o := models.Location{Lat: 0, Lon: 0}
	assert.InDelta(t, 0, bearing(o, models.Location{Lat: 1, Lon: 0}), 1e-9)
	assert.InDelta(t, 90, bearing(o, models.Location{Lat: 0, Lon: 1}), 1e-9)
	assert.InDelta(t, 180, bearing(o, models.Location{Lat: -1, Lon: 0}), 1e-9)
	assert.InDelta(t, 270, bearing(o, models.Location{Lat: 0, Lon: -1}), 1e-9)
}

func TestSendPing(t *testing.T) {
	var mu sync.Mutex
	var got []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/gps", r.URL.Path)
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, body)
		mu.Unlock()
		if body["busId"] == "BAD" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, sendPing(ctx, srv.URL+"/api", Ping{BusID: "N1", Latitude: 1, Longitude: 2, Speed: 10}))
	assert.Error(t, sendPing(ctx, srv.URL+"/api", Ping{BusID: "BAD"}))

	require.Len(t, got, 2)
	assert.Equal(t, "N1", got[0]["busId"])
	assert.Equal(t, 1.0, got[0]["latitude"])
	assert.Contains(t, got[0], "lastUpdated")
}

func TestReplay(t *testing.T) {
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	run := planNight(t)
	pings := pingsForRun(run, 2, 10)
	replay(context.Background(), srv.URL, run, pings, time.Millisecond)
	assert.Equal(t, len(pings), count)
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SIM_X", "7")
	assert.Equal(t, 7, envInt("SIM_X", 3))
	t.Setenv("SIM_X", "0")
	assert.Equal(t, 3, envInt("SIM_X", 3))
	t.Setenv("SIM_X", "many")
	assert.Equal(t, 3, envInt("SIM_X", 3))
}
