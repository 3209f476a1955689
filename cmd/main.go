package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/config"
	"github.com/ukydev/transit-tracker/internal/db"
	"github.com/ukydev/transit-tracker/internal/events"
	"github.com/ukydev/transit-tracker/internal/handlers"
	"github.com/ukydev/transit-tracker/internal/ingest"
	"github.com/ukydev/transit-tracker/internal/metrics"
	"github.com/ukydev/transit-tracker/internal/middleware"
	"github.com/ukydev/transit-tracker/internal/schedule"
	"github.com/ukydev/transit-tracker/internal/tracking"
)

// stores bundles the storage backends selected by STORE.
type stores struct {
	vehicles tracking.VehicleDirectory
	trips    db.TripSource
	progress tracking.ProgressStore
	health   handlers.Pinger
	writers  struct {
		vehicles db.VehicleWriter
		trips    db.TripWriter
	}
	close func(ctx context.Context) error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}
	switch cfg.Store {
	case "memory":
		mem := db.NewMemoryStore()
		st.vehicles, st.trips, st.progress, st.health = mem, mem, mem, mem
		st.writers.vehicles, st.writers.trips = mem, mem
		st.close = func(context.Context) error { return nil }
		log.Warn("Using in-memory store, progress is lost on restart")
	default:
		mongoStore, err := db.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		st.vehicles, st.trips, st.progress, st.health = mongoStore.Vehicles, mongoStore.Trips, mongoStore.Progress, mongoStore
		st.writers.vehicles, st.writers.trips = mongoStore.Vehicles, mongoStore.Trips
		st.close = mongoStore.Close
	}

	if cfg.SeedFile != "" {
		seed, err := db.LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		if err := seed.Apply(ctx, st.writers.vehicles, st.writers.trips); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func newService(cfg *config.Config, st *stores, collector *metrics.Collector, publisher tracking.EventPublisher, now func() time.Time) *tracking.Service {
	resolver := schedule.NewResolver(cfg.Location)
	policy := tracking.SelectionPolicy{Resolver: resolver, Lead: cfg.LocatorLead, Grace: cfg.LocatorGrace}
	catalog := db.NewCachedTripCatalog(st.trips, cfg.TripCacheSize, cfg.TripCacheTTL)
	return tracking.NewService(st.vehicles, catalog, st.progress, tracking.Options{
		Resolver:        resolver,
		Policy:          &policy,
		ProximityMeters: cfg.ProximityMeters,
		Events:          publisher,
		Metrics:         collector,
		Now:             now,
	})
}

func newRouter(svc handlers.Ingester, health handlers.Pinger, collector *metrics.Collector, limiter *middleware.RateLimiter) http.Handler {
	gps := limiter.Middleware(handlers.NewGPSHandler(svc))

	mux := http.NewServeMux()
	mux.Handle("/api/gps", gps)
	mux.Handle("/gps", gps)
	mux.Handle("/health", handlers.HealthHandler(health))
	mux.Handle("/metrics", collector.Handler())
	return middleware.AccessLog(mux)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store, err)
	}

	collector := metrics.NewCollector()

	var publisher tracking.EventPublisher
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, collector)
		if err != nil {
			log.WithError(err).Warn("NATS unavailable, progress events disabled")
		} else {
			defer nats.Close()
			publisher = nats
		}
	}

	svc := newService(cfg, st, collector, publisher, time.Now)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).
		OnReject(func(string) { collector.RateLimitedInc() })
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune()
			}
		}
	}()

	if cfg.MQTTBroker != "" {
		sub := ingest.NewSubscriber(ingest.Options{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
		}, svc, collector)
		if err := sub.Start(); err != nil {
			log.WithError(err).Warn("MQTT ingestion disabled")
		} else {
			defer sub.Stop()
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newRouter(svc, st.health, collector, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(log.Fields{"addr": srv.Addr, "store": cfg.Store, "service_tz": cfg.Location.String()}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP shutdown")
	}
	if err := st.close(shutdownCtx); err != nil {
		log.WithError(err).Error("Store close")
	}
}
