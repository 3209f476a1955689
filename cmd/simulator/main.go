package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/db"
	"github.com/ukydev/transit-tracker/internal/geo"
	"github.com/ukydev/transit-tracker/internal/models"
	"github.com/ukydev/transit-tracker/internal/schedule"
)

// Ping is the payload posted to the tracker.
type Ping struct {
	BusID       string    `json:"busId"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Heading     float64   `json:"heading"`
	Speed       float64   `json:"speed"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// waypoint is a scheduled point of a trip with its absolute expected time.
type waypoint struct {
	Location models.Location
	At       time.Time
}

// TripRun is one trip instance to replay.
type TripRun struct {
	InstanceID string // <tripId>_<YYYYMMDD>
	BusNumber  string
	Waypoints  []waypoint
}

func jitterLocation(base models.Location, meters float64) models.Location {
	return geo.Offset(base, (rand.Float64()*2-1)*meters, (rand.Float64()*2-1)*meters)
}

func bearing(a, b models.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// planRuns resolves every seed trip against serviceDate.
func planRuns(seed *db.Seed, r schedule.Resolver, serviceDate time.Time) ([]TripRun, error) {
	runs := make([]TripRun, 0, len(seed.Trips))
	for _, t := range seed.Trips {
		start, err := schedule.ParseClock(t.Start.Time)
		if err != nil {
			return nil, fmt.Errorf("trip %s: %w", t.ID, err)
		}
		points := append([]db.SeedPoint{t.Start}, t.Stops...)
		points = append(points, t.End)
		run := TripRun{
			InstanceID: t.ID + "_" + serviceDate.Format("20060102"),
			BusNumber:  t.BusNumber,
			Waypoints:  make([]waypoint, 0, len(points)),
		}
		for _, p := range points {
			at, err := r.ResolveFrom(p.Time, start, serviceDate)
			if err != nil {
				return nil, fmt.Errorf("trip %s: %w", t.ID, err)
			}
			run.Waypoints = append(run.Waypoints, waypoint{Location: models.Location{Lat: p.Lat, Lon: p.Lon}, At: at})
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// pingsForRun interpolates steps pings per leg. Device timestamps follow the
// schedule so a replay can run faster than real time. The final ping sits on
// the end station.
func pingsForRun(run TripRun, steps int, jitterMeters float64) []Ping {
	if steps < 1 {
		steps = 1
	}
	var pings []Ping
	for i := 0; i+1 < len(run.Waypoints); i++ {
		a, b := run.Waypoints[i], run.Waypoints[i+1]
		legMeters, _ := geo.Distance(a.Location, b.Location)
		legDur := b.At.Sub(a.At)
		speed := 0.0
		if legDur > 0 {
			speed = legMeters / legDur.Seconds() * 3.6
		}
		heading := bearing(a.Location, b.Location)
		for s, loc := range geo.Interpolate(a.Location, b.Location, steps) {
			if s == steps {
				break // next leg starts here
			}
			if jitterMeters > 0 && s > 0 {
				loc = jitterLocation(loc, jitterMeters)
			}
			pings = append(pings, Ping{
				BusID:       run.BusNumber,
				Latitude:    loc.Lat,
				Longitude:   loc.Lon,
				Heading:     heading,
				Speed:       math.Max(speed, 1),
				LastUpdated: a.At.Add(legDur * time.Duration(s) / time.Duration(steps)),
			})
		}
	}
	if n := len(run.Waypoints); n > 0 {
		last := run.Waypoints[n-1]
		pings = append(pings, Ping{
			BusID:       run.BusNumber,
			Latitude:    last.Location.Lat,
			Longitude:   last.Location.Lon,
			Speed:       1,
			LastUpdated: last.At,
		})
	}
	return pings
}

var client = &http.Client{Timeout: 10 * time.Second}

func sendPing(ctx context.Context, apiURL string, p Ping) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal ping: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/gps", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping rejected with status: %d", resp.StatusCode)
	}
	return nil
}

func replay(ctx context.Context, apiURL string, run TripRun, pings []Ping, interval time.Duration) {
	fields := log.Fields{"instance": run.InstanceID, "bus": run.BusNumber, "pings": len(pings)}
	log.WithFields(fields).Info("Replaying trip")
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for i, p := range pings {
		if err := sendPing(ctx, apiURL, p); err != nil {
			log.WithFields(fields).WithError(err).WithField("index", i).Warn("Ping failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
	log.WithFields(fields).Info("Trip replay finished")
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return n
		}
	}
	return def
}

func main() {
	seedPath := os.Getenv("SEED_FILE")
	if seedPath == "" {
		seedPath = "fleet.yml"
	}
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	interval := time.Duration(envInt("SIM_TICK_MILLIS", 500)) * time.Millisecond
	steps := envInt("SIM_STEPS_PER_LEG", 10)
	concurrency := envInt("SIM_CONCURRENCY", 4)

	loc := time.UTC
	if tz := os.Getenv("SERVICE_TZ"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			log.Fatalf("Invalid SERVICE_TZ: %v", err)
		}
		loc = l
	}
	resolver := schedule.NewResolver(loc)

	seed, err := db.LoadSeed(seedPath)
	if err != nil {
		log.Fatalf("Failed to load seed: %v", err)
	}
	runs, err := planRuns(seed, resolver, resolver.ServiceDate(time.Now()))
	if err != nil {
		log.Fatalf("Failed to plan trips: %v", err)
	}

	log.WithFields(log.Fields{
		"trips":       len(runs),
		"api_url":     apiURL,
		"interval":    interval,
		"concurrency": concurrency,
	}).Info("Starting ping simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, run := range runs {
		wg.Add(1)
		go func(run TripRun) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			replay(ctx, apiURL, run, pingsForRun(run, steps, 15), interval)
		}(run)
	}
	wg.Wait()
	log.Info("Ping simulation finished")
}
