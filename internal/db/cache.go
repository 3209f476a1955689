package db

import (
	"context"
	"time"

	"github.com/bluele/gcache"
	"github.com/ukydev/transit-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CachedTripCatalog memoises TripsForVehicle. Trips are immutable once
// defined, so entries only age out through the TTL.
type CachedTripCatalog struct {
	source TripSource
	cache  gcache.Cache
}

// NewCachedTripCatalog keeps up to size vehicles' trip lists for ttl with LRU
// eviction.
func NewCachedTripCatalog(source TripSource, size int, ttl time.Duration) *CachedTripCatalog {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedTripCatalog{
		source: source,
		cache: gcache.New(size).
			LRU().
			Expiration(ttl).
			Build(),
	}
}

func (c *CachedTripCatalog) TripsForVehicle(ctx context.Context, vehicleID primitive.ObjectID) ([]models.Trip, error) {
	key := vehicleID.Hex()
	if cached, err := c.cache.Get(key); err == nil {
		if trips, ok := cached.([]models.Trip); ok {
			return trips, nil
		}
	}
	trips, err := c.source.TripsForVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(key, trips)
	return trips, nil
}
